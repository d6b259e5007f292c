package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 3, cfg.Notifications.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Notifications.BaseDelay)
	assert.Equal(t, 15, cfg.Formations.DefaultSeatCapacity)
	assert.InDelta(t, 0.2, cfg.Formations.SocialProofTolerance, 0.0001)
	assert.Equal(t, 10, cfg.Notifications.WhatsApp.MaxDailyMessages)
	assert.True(t, cfg.Notifications.Email.Enabled)
	assert.False(t, cfg.Notifications.WhatsApp.Enabled)
	assert.Zero(t, cfg.Notifications.ReminderInterval)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("NOTIFY_RETRY_ATTEMPTS", "5")
	t.Setenv("NOTIFY_RETRY_DELAY", "250ms")
	t.Setenv("NOTIFY_WHATSAPP_ENABLED", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Notifications.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Notifications.BaseDelay)
	assert.True(t, cfg.Notifications.WhatsApp.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 3*time.Second, parseDuration("3s", time.Minute))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
