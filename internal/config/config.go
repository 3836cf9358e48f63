package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	minSessionTTL = 30 * time.Minute
	maxSessionTTL = 24 * time.Hour
	minJWTSecret  = 32
)

type Config struct {
	AppEnv   string `yaml:"app_env"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	DatabaseURL string   `yaml:"database_url"`
	DB          DBConfig `yaml:"db"`

	JWTSecret  string        `yaml:"jwt_secret"`
	JWTIssuer  string        `yaml:"jwt_issuer"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	Store    StoreConfig    `yaml:"store"`
	OTP      OTPConfig      `yaml:"otp"`
	Telegram TelegramConfig `yaml:"telegram"`

	IPRateLimitMax    int           `yaml:"ip_rate_limit_max"`
	IPRateLimitWindow time.Duration `yaml:"ip_rate_limit_window"`
	// TrustProxyHeaders lets the IP limiter key on X-Forwarded-For. Only
	// safe when a proxy in front overwrites or appends that header.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	SentryDSN        string        `yaml:"sentry_dsn"`
	CronSecret       string        `yaml:"cron_secret"`
	MetricsToken     string        `yaml:"metrics_token"`
	AdminKeyHash     string        `yaml:"admin_key_hash"`
	CORSOrigins      []string      `yaml:"cors_origins"`
	EventRetention   time.Duration `yaml:"event_retention"`
	CleanupBatchSize int           `yaml:"cleanup_batch_size"`
}

type DBConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type StoreConfig struct {
	Driver    string        `yaml:"driver"`
	RedisURL  string        `yaml:"redis_url"`
	Prefix    string        `yaml:"prefix"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

type OTPConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type TelegramConfig struct {
	BotToken      string        `yaml:"bot_token"`
	BotUsername   string        `yaml:"bot_username"`
	APIBaseURL    string        `yaml:"api_base_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	IdentityTTL   time.Duration `yaml:"identity_ttl"`
}

func Defaults() Config {
	return Config{
		AppEnv:   "development",
		Port:     "8080",
		LogLevel: "info",
		DB: DBConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		JWTIssuer:  "flowers-api",
		SessionTTL: 24 * time.Hour,
		Store: StoreConfig{
			Driver:    "memory",
			Prefix:    "flowers",
			OpTimeout: 2 * time.Second,
		},
		OTP: OTPConfig{
			TTL:         5 * time.Minute,
			MaxRequests: 10,
			Window:      time.Minute,
			MaxAttempts: 5,
		},
		Telegram: TelegramConfig{
			APIBaseURL:  "https://api.telegram.org",
			IdentityTTL: 24 * time.Hour,
		},
		IPRateLimitMax:    30,
		IPRateLimitWindow: time.Minute,
		CORSOrigins:       []string{"*"},
		EventRetention:    30 * 24 * time.Hour,
		CleanupBatchSize:  500,
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.AppEnv = envOrDefault("APP_ENV", cfg.AppEnv)
	cfg.Port = envOrDefault("PORT", cfg.Port)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)

	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.DB.MaxOpenConns = envIntOrDefault("DB_MAX_OPEN_CONNS", cfg.DB.MaxOpenConns)
	cfg.DB.MaxIdleConns = envIntOrDefault("DB_MAX_IDLE_CONNS", cfg.DB.MaxIdleConns)
	cfg.DB.ConnMaxLifetime = envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", cfg.DB.ConnMaxLifetime)
	cfg.DB.ConnMaxIdleTime = envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", cfg.DB.ConnMaxIdleTime)

	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.SessionTTL = envMinutesOrDefault("SESSION_TTL_MINUTES", cfg.SessionTTL)

	cfg.Store.Driver = strings.ToLower(envOrDefault("STORE_DRIVER", cfg.Store.Driver))
	cfg.Store.RedisURL = envOrDefault("REDIS_URL", cfg.Store.RedisURL)
	cfg.Store.Prefix = envOrDefault("STORE_KEY_PREFIX", cfg.Store.Prefix)
	cfg.Store.OpTimeout = envMillisOrDefault("STORE_OP_TIMEOUT_MS", cfg.Store.OpTimeout)

	cfg.OTP.TTL = envSecondsOrDefault("OTP_TTL_SECONDS", cfg.OTP.TTL)
	cfg.OTP.MaxRequests = envIntOrDefault("OTP_RATE_LIMIT_MAX", cfg.OTP.MaxRequests)
	cfg.OTP.Window = envSecondsOrDefault("OTP_RATE_LIMIT_WINDOW_SECONDS", cfg.OTP.Window)
	cfg.OTP.MaxAttempts = envIntOrDefault("OTP_MAX_ATTEMPTS", cfg.OTP.MaxAttempts)

	cfg.Telegram.BotToken = envOrDefault("TELEGRAM_BOT_TOKEN", cfg.Telegram.BotToken)
	cfg.Telegram.BotUsername = envOrDefault("TELEGRAM_BOT_USERNAME", cfg.Telegram.BotUsername)
	cfg.Telegram.APIBaseURL = envOrDefault("TELEGRAM_API_BASE_URL", cfg.Telegram.APIBaseURL)
	cfg.Telegram.WebhookSecret = envOrDefault("TELEGRAM_WEBHOOK_SECRET", cfg.Telegram.WebhookSecret)
	cfg.Telegram.IdentityTTL = envHoursOrDefault("TELEGRAM_IDENTITY_TTL_HOURS", cfg.Telegram.IdentityTTL)

	cfg.IPRateLimitMax = envIntOrDefault("AUTH_IP_RATE_LIMIT_MAX", cfg.IPRateLimitMax)
	cfg.IPRateLimitWindow = envSecondsOrDefault("AUTH_IP_RATE_LIMIT_WINDOW_SECONDS", cfg.IPRateLimitWindow)
	cfg.TrustProxyHeaders = EnvBoolOrDefault("TRUST_PROXY_HEADERS", cfg.TrustProxyHeaders)

	cfg.SentryDSN = envOrDefault("SENTRY_DSN", cfg.SentryDSN)
	cfg.CronSecret = envOrDefault("CRON_SECRET", cfg.CronSecret)
	cfg.MetricsToken = envOrDefault("METRICS_TOKEN", cfg.MetricsToken)
	cfg.AdminKeyHash = envOrDefault("ADMIN_API_KEY_HASH", cfg.AdminKeyHash)
	if origins := envOrDefault("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.EventRetention = envDaysOrDefault("AUTH_EVENT_RETENTION_DAYS", cfg.EventRetention)
	cfg.CleanupBatchSize = envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", cfg.CleanupBatchSize)
}

// Validate checks required settings and clamps the session lifetime into the
// supported 30 minutes to 24 hours range.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("missing required env: DATABASE_URL")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("missing required env: JWT_SECRET")
	}
	if len(c.JWTSecret) < minJWTSecret {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecret)
	}

	switch c.Store.Driver {
	case "memory":
		// Serverless instances do not share process memory, so codes and
		// rate counters must live in Redis.
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER=redis is required in production")
		}
	case "redis":
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_DRIVER=redis")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}

	if c.SessionTTL < minSessionTTL {
		c.SessionTTL = minSessionTTL
	}
	if c.SessionTTL > maxSessionTTL {
		c.SessionTTL = maxSessionTTL
	}

	return nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envDurationOrDefault(name string, unit time.Duration, fallback time.Duration) time.Duration {
	value := envIntOrDefault(name, -1)
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * unit
}

func envMillisOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, time.Millisecond, fallback)
}

func envSecondsOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, time.Second, fallback)
}

func envMinutesOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, time.Minute, fallback)
}

func envHoursOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, time.Hour, fallback)
}

func envDaysOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, 24*time.Hour, fallback)
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
