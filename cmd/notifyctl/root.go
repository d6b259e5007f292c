package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ulrichjack/institut-app-backend/internal/repository"
	"github.com/Ulrichjack/institut-app-backend/internal/service"
	"github.com/Ulrichjack/institut-app-backend/pkg/cache"
	"github.com/Ulrichjack/institut-app-backend/pkg/config"
	"github.com/Ulrichjack/institut-app-backend/pkg/database"
	"github.com/Ulrichjack/institut-app-backend/pkg/logger"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	Verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "notifyctl",
		Short:         "Operational tasks for the institute backend",
		Long:          "notifyctl replays undelivered notifications and provisions back-office accounts against the configured database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(newResendCommand(opts))
	cmd.AddCommand(newCreateAdminCommand(opts))

	return cmd
}

// env bundles the connections a command needs. close releases them.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	redis  *redis.Client
}

func openEnv(ctx context.Context, opts *rootOptions) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
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
		logr.Debug("redis unavailable, quotas disabled", zap.Error(err))
	}
	return &env{cfg: cfg, logger: logr, db: db, redis: redisClient}, nil
}

func (e *env) close() {
	_ = e.logger.Sync()
	if e.redis != nil {
		_ = e.redis.Close()
	}
	_ = e.db.Close()
}

// notificationService builds a queue-less orchestrator so deliveries run
// inline and the command can report their outcomes.
func (e *env) notificationService() *service.NotificationService {
	n := e.cfg.Notifications
	return service.NewNotificationService(
		repository.NewMessageRepository(e.db),
		service.NewSMTPSender(n.Email),
		service.NewWhatsAppSender(n.WhatsApp, &http.Client{Timeout: n.SendTimeout}),
		repository.NewQuotaRepository(e.redis, "quota:"),
		nil,
		nil,
		e.logger,
		service.NotificationConfig{
			MaxAttempts:        n.MaxAttempts,
			BaseDelay:          n.BaseDelay,
			SendTimeout:        n.SendTimeout,
			EmailEnabled:       n.Email.Enabled,
			WhatsAppEnabled:    n.WhatsApp.Enabled,
			AdminEmail:         n.Email.Admin,
			AdminPhone:         n.WhatsApp.AdminPhone,
			AppName:            n.AppName,
			WebsiteURL:         n.WebsiteURL,
			WhatsAppDailyLimit: n.WhatsApp.MaxDailyMessages,
		},
	)
}

func (e *env) authService() *service.AuthService {
	return service.NewAuthService(repository.NewAdminRepository(e.db), validator.New(), e.logger, service.AuthConfig{
		AccessTokenSecret: e.cfg.JWT.Secret,
		AccessTokenExpiry: e.cfg.JWT.Expiration,
		Issuer:            e.cfg.JWT.Issuer,
	})
}
