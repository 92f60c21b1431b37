package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/qrpay/qr-gateway/internal/api"
	"github.com/qrpay/qr-gateway/internal/audit"
	"github.com/qrpay/qr-gateway/internal/auth"
	"github.com/qrpay/qr-gateway/internal/cache"
	"github.com/qrpay/qr-gateway/internal/config"
	"github.com/qrpay/qr-gateway/internal/notifications"
	"github.com/qrpay/qr-gateway/internal/ratelimit"
	"github.com/qrpay/qr-gateway/internal/resolver"
	"github.com/qrpay/qr-gateway/internal/secrets"
	"github.com/qrpay/qr-gateway/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting QR Gateway", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adminPassword := loadSecrets(ctx, cfg)

	shutdownTracing, err := telemetry.Init(ctx, "qr-gateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	var checkers []api.HealthChecker

	var counterStore ratelimit.CounterStore
	if cfg.RedisURL != "" {
		redisStore, err := ratelimit.NewRedisCounterStore(cfg.RedisURL, cfg.RateWindow)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		counterStore = redisStore
		checkers = append(checkers, api.NewRedisHealthCheckerWithClient(redisStore.Client()))
		slog.Info("using redis counter store")
	} else {
		counterStore = ratelimit.NewInMemoryCounterStore()
		slog.Warn("REDIS_URL not set, rate limit counters will not survive restarts")
	}

	limiter := ratelimit.NewLimiter(counterStore, ratelimit.Config{
		Limit:  cfg.RateLimit,
		Window: cfg.RateWindow,
	})

	var locator resolver.Locator
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			pingCancel()
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		pingCancel()

		locator = resolver.NewPostgresLocator(db)
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("using postgres locator")
	} else {
		locator = resolver.NewInMemoryLocator()
		slog.Warn("DATABASE_URL not set, serving an empty in-memory locator")
	}

	var recordCache cache.Cache
	if cfg.RedisURL != "" {
		recordCache, err = cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for record cache, using in-memory", "error", err)
			recordCache = cache.NewInMemoryCache()
		} else {
			slog.Info("using redis record cache")
		}
	} else {
		recordCache = cache.NewInMemoryCache()
	}

	var notifier notifications.Notifier
	var reporter resolver.AnomalyReporter
	var abuse *notifications.AbuseReporter
	if cfg.AlertTopicARN != "" {
		snsNotifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.AlertTopicARN)
		if err != nil {
			slog.Warn("failed to set up sns notifier, alerts disabled", "error", err)
		} else {
			notifier = snsNotifier
			reporter = notifications.NewAnomalyReporter(notifier)
			abuse = notifications.NewAbuseReporter(notifier, 0, 0)
			slog.Info("alerts enabled", "topic", cfg.AlertTopicARN)
		}
	}

	var auditor audit.Publisher = audit.NopPublisher{}
	if cfg.AuditQueueURL != "" {
		sqsPublisher, err := audit.NewSQSPublisher(ctx, cfg.AWSRegion, cfg.AuditQueueURL)
		if err != nil {
			slog.Warn("failed to set up audit publisher, auditing disabled", "error", err)
		} else {
			auditor = sqsPublisher
			defer sqsPublisher.Close()
			slog.Info("audit publishing enabled", "queue", cfg.AuditQueueURL)
		}
	}

	qrResolver := resolver.New(resolver.Config{
		Locator:  locator,
		Cache:    recordCache,
		CacheTTL: cfg.CacheTTL,
		Reporter: reporter,
	})

	handler := api.NewHandler(api.HandlerConfig{
		Limiter:  limiter,
		Resolver: qrResolver,
		Auditor:  auditor,
		Abuse:    abuse,
		Timeout:  cfg.RequestTimeout,
		Checkers: checkers,
	})

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	if cfg.AdminAuthEnabled {
		var repo auth.AdminUserRepository
		if db != nil {
			repo = auth.NewPostgresAdminUserRepository(db)
		} else {
			repo = auth.NewInMemoryAdminUserRepository(adminPassword)
		}
		mw := auth.NewMiddleware(auth.NewAuthenticator(repo))
		mux.Handle("/admin/", api.NewAdminHandler(limiter, mw))
		slog.Info("admin API enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// loadSecrets overlays Secrets Manager values onto the env config when
// SECRETS_NAME is set. Returns the admin password for the in-memory user
// repository.
func loadSecrets(ctx context.Context, cfg *config.Config) string {
	if cfg.SecretsName == "" {
		return ""
	}

	store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		slog.Warn("failed to set up secrets manager, using env config", "error", err)
		return ""
	}

	gw, err := secrets.LoadGatewaySecrets(ctx, store, cfg.SecretsName)
	if err != nil {
		slog.Warn("failed to load secrets, using env config", "error", err)
		return ""
	}

	if gw.DatabaseURL != "" {
		cfg.DatabaseURL = gw.DatabaseURL
	}
	if gw.RedisURL != "" {
		cfg.RedisURL = gw.RedisURL
	}
	return gw.AdminPassword
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
