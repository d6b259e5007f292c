package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/Ulrichjack/institut-app-backend/api/swagger"
	"github.com/Ulrichjack/institut-app-backend/internal/handler"
	"github.com/Ulrichjack/institut-app-backend/internal/middleware"
	"github.com/Ulrichjack/institut-app-backend/internal/models"
	"github.com/Ulrichjack/institut-app-backend/internal/repository"
	"github.com/Ulrichjack/institut-app-backend/internal/service"
	"github.com/Ulrichjack/institut-app-backend/pkg/cache"
	"github.com/Ulrichjack/institut-app-backend/pkg/config"
	"github.com/Ulrichjack/institut-app-backend/pkg/database"
	"github.com/Ulrichjack/institut-app-backend/pkg/export"
	"github.com/Ulrichjack/institut-app-backend/pkg/jobs"
	"github.com/Ulrichjack/institut-app-backend/pkg/logger"
	corsmiddleware "github.com/Ulrichjack/institut-app-backend/pkg/middleware/cors"
	reqidmiddleware "github.com/Ulrichjack/institut-app-backend/pkg/middleware/requestid"
)

// @title Institut API
// @version 1.0.0
// @description Formation catalog, contact intake and back-office inbox for the training institute website
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	redis  *redis.Client

	metrics       *service.MetricsService
	notifications *service.NotificationService
	queue         *jobs.Queue

	formations *handler.FormationHandler
	messages   *handler.MessageHandler
	auth       *handler.AuthHandler
	ops        *handler.MetricsHandler
	authSvc    *service.AuthService
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("bootstrap failed", "error", err)
	}
	defer a.close()

	a.queue.Start(ctx)
	if cfg.Notifications.ReminderInterval > 0 {
		go a.runReminders(ctx, cfg.Notifications.ReminderInterval)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	a.queue.Stop()
	logr.Info("server stopped")
}

func bootstrap(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*app, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, cache and quotas disabled", zap.Error(err))
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	formationRepo := repository.NewFormationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	adminRepo := repository.NewAdminRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)
	quotaRepo := repository.NewQuotaRepository(redisClient, "quota:")

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.StatsTTL, logr, cfg.Cache.Enabled)

	notifyCfg := cfg.Notifications
	notifications := service.NewNotificationService(
		messageRepo,
		service.NewSMTPSender(notifyCfg.Email),
		service.NewWhatsAppSender(notifyCfg.WhatsApp, &http.Client{Timeout: notifyCfg.SendTimeout}),
		quotaRepo,
		nil,
		metrics,
		logr,
		service.NotificationConfig{
			MaxAttempts:        notifyCfg.MaxAttempts,
			BaseDelay:          notifyCfg.BaseDelay,
			SendTimeout:        notifyCfg.SendTimeout,
			EmailEnabled:       notifyCfg.Email.Enabled,
			WhatsAppEnabled:    notifyCfg.WhatsApp.Enabled,
			AdminEmail:         notifyCfg.Email.Admin,
			AdminPhone:         notifyCfg.WhatsApp.AdminPhone,
			AppName:            notifyCfg.AppName,
			WebsiteURL:         notifyCfg.WebsiteURL,
			WhatsAppDailyLimit: notifyCfg.WhatsApp.MaxDailyMessages,
		},
	)
	queue := jobs.NewQueue("notifications", notifications.HandleJob, jobs.QueueConfig{
		Workers:    notifyCfg.Workers,
		BufferSize: notifyCfg.BufferSize,
		Logger:     logr,
	})
	notifications.SetQueue(queue)

	formationSvc := service.NewFormationService(formationRepo, validate, metrics, logr, service.FormationServiceConfig{
		DefaultSeatCapacity:  cfg.Formations.DefaultSeatCapacity,
		SocialProofTolerance: cfg.Formations.SocialProofTolerance,
	})
	messageSvc := service.NewMessageService(messageRepo, formationSvc, notifications, cacheSvc, metrics, validate, logr)
	exportSvc := service.NewExportService(messageRepo, export.NewCSVExporter(), export.NewPDFExporter(), 0, logr)
	authSvc := service.NewAuthService(adminRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	return &app{
		cfg:           cfg,
		logger:        logr,
		db:            db,
		redis:         redisClient,
		metrics:       metrics,
		notifications: notifications,
		queue:         queue,
		formations:    handler.NewFormationHandler(formationSvc),
		messages:      handler.NewMessageHandler(messageSvc, exportSvc),
		auth:          handler.NewAuthHandler(authSvc),
		ops:           handler.NewMetricsHandler(metrics, checks),
		authSvc:       authSvc,
	}, nil
}

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.logger))
	r.Use(corsmiddleware.New(a.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", a.ops.Health)
	r.GET("/ready", a.ops.Ready)
	r.GET("/metrics", a.ops.Prometheus)
	if a.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(a.cfg.APIPrefix)

	api.GET("/formations", a.formations.List)
	api.GET("/formations/selection", a.formations.Selection)
	api.GET("/formations/slug/:slug", a.formations.GetBySlug)
	api.GET("/formations/:id", a.formations.Get)
	api.POST("/formations/:id/enrollments", a.formations.Enroll)
	api.POST("/formations/:id/info-requests", a.formations.InfoRequest)

	api.POST("/messages/contact", a.messages.Contact)
	api.POST("/messages/pre-registration", a.messages.PreRegister)

	api.POST("/auth/login", a.auth.Login)

	admin := api.Group("")
	admin.Use(middleware.JWT(a.authSvc), middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))

	admin.GET("/auth/me", a.auth.Me)

	admin.POST("/formations", a.audit("formation.create"), a.formations.Create)
	admin.PUT("/formations/:id", a.audit("formation.update"), a.formations.Update)
	admin.DELETE("/formations/:id", a.audit("formation.delete"), a.formations.Delete)
	admin.PUT("/formations/:id/social-proof", a.audit("formation.social_proof"), a.formations.UpdateSocialProof)
	admin.GET("/admin/formations", a.formations.ListAdmin)
	admin.GET("/admin/formations/:id", a.formations.GetAdmin)

	admin.GET("/messages", a.messages.List)
	admin.GET("/messages/stats", a.messages.Stats)
	admin.GET("/messages/export", a.audit("message.export"), a.messages.Export)
	admin.GET("/messages/:id", a.messages.Get)
	admin.PUT("/messages/:id/status", a.audit("message.status"), a.messages.ChangeStatus)
	admin.PATCH("/messages/:id/read", a.messages.MarkRead)

	return r
}

func (a *app) audit(action string) gin.HandlerFunc {
	return middleware.Audit(a.logger, action)
}

func (a *app) runReminders(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := a.notifications.RemindStale(ctx)
			if err != nil {
				a.logger.Warn("stale message reminder failed", zap.Int("stale", count), zap.Error(err))
				continue
			}
			if count > 0 {
				a.logger.Info("stale message reminder sent", zap.Int("stale", count))
			}
		}
	}
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.db.Close()
}
