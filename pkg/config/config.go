package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Notifications NotificationConfig
	Formations    FormationConfig
	Cache         CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// NotificationConfig governs the outbound notification pipeline.
type NotificationConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	SendTimeout      time.Duration
	Workers          int
	BufferSize       int
	ReminderInterval time.Duration
	AppName          string
	WebsiteURL       string
	Email            EmailConfig
	WhatsApp         WhatsAppConfig
}

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Enabled  bool
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	FromName string
	Admin    string
}

// WhatsAppConfig configures the WhatsApp HTTP channel.
type WhatsAppConfig struct {
	Enabled          bool
	APIURL           string
	APIToken         string
	BusinessPhone    string
	AdminPhone       string
	MaxDailyMessages int
}

// FormationConfig holds catalog defaults.
type FormationConfig struct {
	DefaultSeatCapacity  int
	SocialProofTolerance float64
}

// CacheConfig toggles the redis-backed read caches.
type CacheConfig struct {
	Enabled  bool
	StatsTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Notifications = NotificationConfig{
		MaxAttempts:      v.GetInt("NOTIFY_RETRY_ATTEMPTS"),
		BaseDelay:        parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 2*time.Second),
		SendTimeout:      parseDuration(v.GetString("NOTIFY_SEND_TIMEOUT"), 10*time.Second),
		Workers:          v.GetInt("NOTIFY_WORKERS"),
		BufferSize:       v.GetInt("NOTIFY_BUFFER_SIZE"),
		ReminderInterval: parseDuration(v.GetString("NOTIFY_REMINDER_INTERVAL"), 0),
		AppName:          v.GetString("APP_NAME"),
		WebsiteURL:       v.GetString("APP_WEBSITE"),
		Email: EmailConfig{
			Enabled:  v.GetBool("NOTIFY_EMAIL_ENABLED"),
			SMTPHost: v.GetString("SMTP_HOST"),
			SMTPPort: v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("EMAIL_FROM"),
			FromName: v.GetString("EMAIL_FROM_NAME"),
			Admin:    v.GetString("EMAIL_ADMIN"),
		},
		WhatsApp: WhatsAppConfig{
			Enabled:          v.GetBool("NOTIFY_WHATSAPP_ENABLED"),
			APIURL:           v.GetString("WHATSAPP_API_URL"),
			APIToken:         v.GetString("WHATSAPP_API_TOKEN"),
			BusinessPhone:    v.GetString("WHATSAPP_BUSINESS_PHONE"),
			AdminPhone:       v.GetString("WHATSAPP_ADMIN_PHONE"),
			MaxDailyMessages: v.GetInt("WHATSAPP_MAX_DAILY_MESSAGES"),
		},
	}

	cfg.Formations = FormationConfig{
		DefaultSeatCapacity:  v.GetInt("FORMATION_DEFAULT_SEATS"),
		SocialProofTolerance: v.GetFloat64("SOCIAL_PROOF_TOLERANCE"),
	}

	cfg.Cache = CacheConfig{
		Enabled:  v.GetBool("ENABLE_CACHE"),
		StatsTTL: parseDuration(v.GetString("CACHE_STATS_TTL"), 2*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "institut")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("JWT_ISSUER", "institut-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("NOTIFY_RETRY_ATTEMPTS", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "2s")
	v.SetDefault("NOTIFY_SEND_TIMEOUT", "10s")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFY_REMINDER_INTERVAL", "0")
	v.SetDefault("APP_NAME", "Institut")
	v.SetDefault("APP_WEBSITE", "http://localhost:3000")

	v.SetDefault("NOTIFY_EMAIL_ENABLED", true)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("EMAIL_FROM", "no-reply@localhost")
	v.SetDefault("EMAIL_FROM_NAME", "Institut")
	v.SetDefault("EMAIL_ADMIN", "admin@localhost")

	v.SetDefault("NOTIFY_WHATSAPP_ENABLED", false)
	v.SetDefault("WHATSAPP_API_URL", "")
	v.SetDefault("WHATSAPP_API_TOKEN", "")
	v.SetDefault("WHATSAPP_BUSINESS_PHONE", "")
	v.SetDefault("WHATSAPP_ADMIN_PHONE", "")
	v.SetDefault("WHATSAPP_MAX_DAILY_MESSAGES", 10)

	v.SetDefault("FORMATION_DEFAULT_SEATS", 15)
	v.SetDefault("SOCIAL_PROOF_TOLERANCE", 0.2)

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CACHE_STATS_TTL", "2m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
