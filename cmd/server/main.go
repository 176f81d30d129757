package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kevin07696/subscription-billing/internal/config"
	billingHandler "github.com/kevin07696/subscription-billing/internal/handlers/billing"
	cronHandler "github.com/kevin07696/subscription-billing/internal/handlers/cron"
	"github.com/kevin07696/subscription-billing/pkg/middleware"
	"github.com/kevin07696/subscription-billing/pkg/observability"
	"github.com/kevin07696/subscription-billing/pkg/resilience"
	"github.com/kevin07696/subscription-billing/pkg/shutdown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := initLogger(cfg.Logger)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting subscription billing service",
		zap.String("environment", cfg.Logger.Environment),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)
	health := observability.NewHealthChecker()

	deps, err := initDependencies(ctx, cfg, sm, health, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}

	// Outbox dispatcher
	dispatchWorker := shutdown.NewBackgroundWorker("notification-dispatcher", logger)
	dispatchWorker.Start(deps.dispatcher.Run)
	sm.Register("notification-dispatcher", dispatchWorker.Shutdown)

	// Sweeps triggered by the scheduler run detached from the request, so they
	// are drained separately from the HTTP server.
	sweeps := shutdown.NewInFlightTracker("sweeps", logger)
	sm.Register("sweeps", sweeps.Shutdown)

	cron := cronHandler.NewBillingHandler(deps.service, deps.locker, deps.cronSecret, cfg.Redis.LeaseTTL, logger)
	cron.TrackInFlight(sweeps)

	api := billingHandler.NewHandler(deps.service, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.SecurityHeaders(cfg.Logger.Development))
	r.Use(observability.HTTPMetricsMiddleware)

	timeouts := resilience.DefaultTimeoutConfig()
	r.With(limiter.Middleware, chimw.Timeout(timeouts.HTTPHandler)).Mount("/api/v1", api.Routes())
	r.Mount("/cron", cron.Routes())

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()
	sm.Register("http-server", server.Shutdown)

	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), health, logger)
	logger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))
	sm.Register("metrics-server", func(context.Context) error {
		return observability.ShutdownMetricsServer(metricsServer)
	})

	// Blocks until SIGINT/SIGTERM, then stops components in reverse order
	sm.WaitForShutdown(ctx)
	logger.Info("Server stopped")
}

// initLogger builds the process logger. Production uses JSON output.
func initLogger(cfg config.LoggerConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	return logger.With(zap.String("service", "subscription-billing"))
}
