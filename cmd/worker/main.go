package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/relaykit/relay-api/config"
	"github.com/relaykit/relay-api/internal/provider"
	"github.com/relaykit/relay-api/internal/repository/postgres"
	dispatchService "github.com/relaykit/relay-api/internal/service/dispatch"
	reconcileService "github.com/relaykit/relay-api/internal/service/reconcile"
	"github.com/relaykit/relay-api/internal/worker"
	"github.com/relaykit/relay-api/pkg/lock"
	"github.com/relaykit/relay-api/pkg/logger"
	"github.com/relaykit/relay-api/pkg/messaging/redis"
	"github.com/relaykit/relay-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	env, err := config.LoadWorkerEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load worker environment")
	}
	cfg.ApplyWorkerEnv(env)

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

	m := metrics.NewMetrics(cfg.Monitoring.Namespace)

	registry := provider.NewRegistry()
	registerTransports(registry, cfg.Providers)

	strategies := reconcileService.NewStrategyRegistry()
	reconcileService.RegisterDefaults(strategies, outboxRepo, appLogger)

	dispatchSvc := dispatchService.NewService(outboxRepo, registry, broker, dispatchService.NewRedisLocker(locker), dispatchService.Config{
		BatchSize:      cfg.Dispatcher.BatchSize,
		CallTimeout:    cfg.Dispatcher.CallTimeout,
		DrainLeaseTTL:  cfg.Dispatcher.DrainLeaseTTL,
		RateProfiles:   cfg.Dispatcher.RateProfiles,
		DefaultProfile: cfg.Dispatcher.Default,
	}, appLogger, m)
	reconcileSvc := reconcileService.NewService(runRepo, strategies, reconcileService.NewRedisLocker(locker), appLogger, m)

	integrations := cfg.Reconciler.Integrations
	if len(integrations) == 0 {
		integrations = worker.DefaultIntegrations()
	}

	dispatcher := worker.NewDispatcher(dispatchSvc, outboxRepo, worker.DispatcherConfig{
		BatchSize:    cfg.Dispatcher.BatchSize,
		PollInterval: cfg.Dispatcher.PollInterval,
		Integrations: integrations,
	}, appLogger, m)

	reconciler := worker.NewReconciler(reconcileSvc, worker.ReconcilerConfig{
		Interval:        cfg.Reconciler.Interval,
		MaxItems:        cfg.Reconciler.MaxItems,
		HardTimeoutSecs: cfg.Reconciler.HardTimeoutSecs,
		Integrations:    integrations,
	}, appLogger)

	setupHealthCheck(env.HealthCheckAddr, appLogger)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		reconciler.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down worker")

	cancel()
	wg.Wait()
	appLogger.Info("worker exited")
}

func setupHealthCheck(addr string, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			appLogger.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}

func registerTransports(registry *provider.Registry, cfg config.ProvidersConfig) {
	registry.Register("slack", provider.WithBreaker("slack", provider.NewSlackTransport(cfg.Slack)))
	registry.Register("resend", provider.WithBreaker("resend", provider.NewResendTransport(cfg.Resend)))
	registry.Register("twilio", provider.WithBreaker("twilio", provider.NewTwilioTransport(cfg.Twilio)))
	registry.Register("google_sheets", provider.WithBreaker("google_sheets", provider.NewSheetsTransport(cfg.Sheets)))
	registry.Register("smtp", provider.WithBreaker("smtp", provider.NewSMTPTransport(cfg.SMTP)))
	registry.Register("webhook", provider.WithBreaker("webhook", provider.NewWebhookTransport(cfg.Webhook)))
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
