package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
)

// Audit writes one structured audit entry per successful back-office action.
// Failed requests are already covered by the access log.
func Audit(logger *zap.Logger, action string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("audit")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		fields := []zap.Field{
			zap.String("action", action),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, zap.String("resource_id", id))
		}
		if raw, ok := c.Get(ContextUserKey); ok {
			if claims, ok := raw.(*models.JWTClaims); ok {
				fields = append(fields, zap.String("admin_id", claims.UserID), zap.String("admin_email", claims.Email))
			}
		}
		logger.Info("admin action", fields...)
	}
}
