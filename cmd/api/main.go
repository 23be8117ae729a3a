package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/relaykit/relay-api/config"
	dispatchHandler "github.com/relaykit/relay-api/internal/handler/dispatch"
	healthHandler "github.com/relaykit/relay-api/internal/handler/health"
	outboxHandler "github.com/relaykit/relay-api/internal/handler/outbox"
	reconcileHandler "github.com/relaykit/relay-api/internal/handler/reconcile"
	"github.com/relaykit/relay-api/internal/middleware"
	"github.com/relaykit/relay-api/internal/provider"
	"github.com/relaykit/relay-api/internal/repository/postgres"
	"github.com/relaykit/relay-api/internal/router"
	dispatchService "github.com/relaykit/relay-api/internal/service/dispatch"
	healthService "github.com/relaykit/relay-api/internal/service/health"
	outboxService "github.com/relaykit/relay-api/internal/service/outbox"
	reconcileService "github.com/relaykit/relay-api/internal/service/reconcile"
	"github.com/relaykit/relay-api/pkg/auth"
	"github.com/relaykit/relay-api/pkg/lock"
	"github.com/relaykit/relay-api/pkg/logger"
	"github.com/relaykit/relay-api/pkg/messaging/redis"
	"github.com/relaykit/relay-api/pkg/metrics"
	"github.com/relaykit/relay-api/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      parseLevel(cfg.LogLevel),
		TimeFormat: time.RFC3339,
		Pretty:     false,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	redisBroker := broker.(*redis.RedisBroker)
	locker := lock.NewLocker(redisBroker.Client(), "relay")

	base := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(base)
	runRepo := postgres.NewReconcileRunRepository(base)
	integrationRepo := postgres.NewIntegrationConfigRepository(base)

	m := metrics.NewMetrics(cfg.Monitoring.Namespace)

	registry := provider.NewRegistry()
	registerTransports(registry, cfg.Providers)

	strategies := reconcileService.NewStrategyRegistry()
	reconcileService.RegisterDefaults(strategies, outboxRepo, appLogger)

	outboxSvc := outboxService.NewService(outboxRepo, m)
	dispatchSvc := dispatchService.NewService(outboxRepo, registry, broker, dispatchService.NewRedisLocker(locker), dispatchService.Config{
		BatchSize:      cfg.Dispatcher.BatchSize,
		CallTimeout:    cfg.Dispatcher.CallTimeout,
		DrainLeaseTTL:  cfg.Dispatcher.DrainLeaseTTL,
		RateProfiles:   cfg.Dispatcher.RateProfiles,
		DefaultProfile: cfg.Dispatcher.Default,
	}, appLogger, m)
	reconcileSvc := reconcileService.NewService(runRepo, strategies, reconcileService.NewRedisLocker(locker), appLogger, m)
	healthSvc := healthService.NewService(outboxRepo, runRepo, integrationRepo)

	jwtSvc := auth.NewJWTService(
		cfg.Auth.JWT.Secret,
		time.Duration(cfg.Auth.JWT.ExpiryHours)*time.Hour,
		cfg.Auth.JWT.Issuer,
	)
	hasher := security.NewBcryptHasher(0)
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc, hasher, cfg.Auth.APIKeyHashes)

	r := router.NewRouter(
		authMiddleware,
		outboxHandler.NewHandler(outboxSvc),
		dispatchHandler.NewHandler(dispatchSvc),
		reconcileHandler.NewHandler(reconcileSvc),
		healthHandler.NewHandler(healthSvc),
		map[string]router.Pinger{
			"postgres": db,
			"redis":    redisPinger{redisBroker.Client()},
		},
		router.Config{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			Namespace:        cfg.Monitoring.Namespace,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	appLogger.Info("api server started", "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info("server exited")
}

func registerTransports(registry *provider.Registry, cfg config.ProvidersConfig) {
	registry.Register("slack", provider.WithBreaker("slack", provider.NewSlackTransport(cfg.Slack)))
	registry.Register("resend", provider.WithBreaker("resend", provider.NewResendTransport(cfg.Resend)))
	registry.Register("twilio", provider.WithBreaker("twilio", provider.NewTwilioTransport(cfg.Twilio)))
	registry.Register("google_sheets", provider.WithBreaker("google_sheets", provider.NewSheetsTransport(cfg.Sheets)))
	registry.Register("smtp", provider.WithBreaker("smtp", provider.NewSMTPTransport(cfg.SMTP)))
	registry.Register("webhook", provider.WithBreaker("webhook", provider.NewWebhookTransport(cfg.Webhook)))
}

type redisPinger struct {
	client *redisclient.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func parseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
