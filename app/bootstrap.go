package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"flowers-serverless/internal/admin"
	"flowers-serverless/internal/auth"
	"flowers-serverless/internal/config"
	"flowers-serverless/internal/db"
	"flowers-serverless/internal/kvstore"
	"flowers-serverless/internal/maintenance"
	"flowers-serverless/internal/observability"
	"flowers-serverless/internal/otp"
	"flowers-serverless/internal/shop"
	"flowers-serverless/internal/telegram"
)

const startupTimeout = 15 * time.Second

type Options struct {
	ConfigPath    string
	LoadDotEnv    bool
	RunMigrations bool
	// TrustProxyHeaders is set by entry points that always run behind the
	// hosting platform's proxy.
	TrustProxyHeaders bool
}

type Runtime struct {
	Handler http.Handler
	Config  config.Config
	Logger  *observability.Logger
	Close   func() error
}

// Channel is what the Telegram side must provide: plain sends for codes and
// keyboard replies for the webhook conversation.
type Channel interface {
	otp.Notifier
	telegram.Messenger
}

// LoadConfig reads .env (when asked) and then the layered configuration.
// An empty path falls back to CONFIG_FILE.
func LoadConfig(options Options) (config.Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	path := strings.TrimSpace(options.ConfigPath)
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if options.TrustProxyHeaders {
		cfg.TrustProxyHeaders = true
	}
	return cfg, nil
}

func Build(options Options) (*Runtime, error) {
	cfg, err := LoadConfig(options)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL, cfg.DB)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	channel, err := NewChannel(cfg, logger)
	if err != nil {
		_ = store.Close()
		_ = database.Close()
		return nil, err
	}

	c := wire(cfg, logger, database, store, channel)
	logger.Info("runtime_ready", map[string]any{
		"env":          cfg.AppEnv,
		"store_driver": cfg.Store.Driver,
		"telegram":     cfg.Telegram.BotToken != "",
		"admin":        c.admin.Enabled(),
	})

	return &Runtime{
		Handler: newRouter(c),
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			err := errors.Join(store.Close(), database.Close())
			logger.Sync()
			return err
		},
	}, nil
}

// OpenStore returns the TTL store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg config.Config) (kvstore.Store, error) {
	switch cfg.Store.Driver {
	case "redis":
		store, err := kvstore.NewRedis(ctx, cfg.Store.RedisURL, cfg.Store.Prefix)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, nil
	default:
		return kvstore.NewMemory(cfg.Store.Prefix), nil
	}
}

// NewChannel talks to the Bot API when a token is configured and otherwise
// logs messages, which is only acceptable outside production.
func NewChannel(cfg config.Config, logger *observability.Logger) (Channel, error) {
	if cfg.Telegram.BotToken == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in production")
		}
		logger.Warn("telegram_disabled", map[string]any{"reason": "TELEGRAM_BOT_TOKEN is empty, codes are logged"})
		return telegram.NewLogNotifier(logger), nil
	}

	bot, err := telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return bot, nil
}

func NewOTPManager(cfg config.Config, store kvstore.Store, identities otp.IdentityResolver, notifier otp.Notifier) *otp.Manager {
	return otp.NewManager(store, identities, notifier, otp.Config{
		TTL:         cfg.OTP.TTL,
		MaxRequests: cfg.OTP.MaxRequests,
		Window:      cfg.OTP.Window,
		MaxAttempts: cfg.OTP.MaxAttempts,
		OpTimeout:   cfg.Store.OpTimeout,
	})
}

type components struct {
	cfg       config.Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	database  *sql.DB
	store     kvstore.Store
	auth      *auth.Handler
	validator *auth.Validator
	limiter   *auth.IPRateLimiter
	admin     *admin.Handler
	webhook   *telegram.WebhookHandler
	cleanup   *maintenance.CleanupHandler
}

func wire(cfg config.Config, logger *observability.Logger, database *sql.DB, store kvstore.Store, channel Channel) components {
	metrics := observability.NewMetrics()
	registry := telegram.NewRegistry(store, cfg.Telegram.IdentityTTL)
	manager := NewOTPManager(cfg, store, registry, channel)

	shops := shop.NewRepository(database)
	events := auth.NewRepository(database)

	issuer := auth.NewIssuer(shops, cfg.JWTSecret).
		WithSessionConfig(cfg.JWTIssuer, cfg.SessionTTL).
		WithIdentities(registry)
	validator := auth.NewValidator(shops, cfg.JWTSecret).WithIssuer(cfg.JWTIssuer)

	authHandler := auth.NewHandler(manager, issuer, shops).
		WithObservability(logger, metrics).
		WithEvents(events).
		WithOTPWindow(cfg.OTP.Window).
		WithBotUsername(cfg.Telegram.BotUsername)

	return components{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		database:  database,
		store:     store,
		auth:      authHandler,
		validator: validator,
		limiter:   auth.NewIPRateLimiter(store, cfg.IPRateLimitMax, cfg.IPRateLimitWindow, logger).WithTrustedProxy(cfg.TrustProxyHeaders),
		admin:     admin.NewHandler(shops, cfg.AdminKeyHash, logger),
		webhook:   telegram.NewWebhookHandler(registry, channel, logger, cfg.Telegram.WebhookSecret),
		cleanup:   maintenance.NewCleanupHandler(events, logger, cfg.CronSecret, cfg.EventRetention, cfg.CleanupBatchSize),
	}
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	return config.EnvBoolOrDefault(name, fallback)
}
