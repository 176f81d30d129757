package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/adapters/broker"
	"github.com/kevin07696/subscription-billing/internal/adapters/cache"
	"github.com/kevin07696/subscription-billing/internal/adapters/gateway"
	"github.com/kevin07696/subscription-billing/internal/adapters/lock"
	"github.com/kevin07696/subscription-billing/internal/adapters/memory"
	"github.com/kevin07696/subscription-billing/internal/adapters/postgres"
	"github.com/kevin07696/subscription-billing/internal/adapters/secrets"
	"github.com/kevin07696/subscription-billing/internal/config"
	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/internal/seed"
	"github.com/kevin07696/subscription-billing/internal/services/billing"
	"github.com/kevin07696/subscription-billing/internal/services/notification"
	"github.com/kevin07696/subscription-billing/internal/services/pricing"
	"github.com/kevin07696/subscription-billing/pkg/logging"
	"github.com/kevin07696/subscription-billing/pkg/observability"
	"github.com/kevin07696/subscription-billing/pkg/shutdown"
)

const secretCacheTTL = 5 * time.Minute

// Dependencies holds the wired services
type Dependencies struct {
	service    *billing.Service
	dispatcher *notification.Dispatcher
	locker     ports.Locker
	cronSecret string
}

// storage is a ledger store plus its repositories
type storage struct {
	db    ports.TransactionManager
	repos billing.Repositories
}

// initDependencies wires adapters into the billing service. Every resource
// that needs closing is registered with sm in dependency order.
func initDependencies(ctx context.Context, cfg *config.Config, sm *shutdown.Manager, health *observability.HealthChecker, logger *zap.Logger) (*Dependencies, error) {
	store, err := initSecretStore(ctx, cfg.Secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("init secret store: %w", err)
	}

	dbPassword, err := secrets.Resolve(ctx, store, cfg.Secrets.DBPasswordPath, cfg.Database.Password)
	if err != nil {
		return nil, fmt.Errorf("resolve database password: %w", err)
	}
	cfg.Database.Password = dbPassword

	cronSecret, err := secrets.Resolve(ctx, store, cfg.Secrets.CronSecretPath, cfg.Cron.Secret)
	if err != nil {
		return nil, fmt.Errorf("resolve cron secret: %w", err)
	}
	if cronSecret == "" {
		logger.Warn("No cron secret configured, sweep endpoints will reject every request")
	}

	st, err := initStorage(ctx, cfg, sm, health, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.SeedDemo {
		seedRepos := seed.Repositories{Users: st.repos.Users, Plans: st.repos.Plans, PromoCodes: st.repos.PromoCodes}
		if _, err := seed.Load(ctx, st.db, seedRepos, time.Now().UTC(), logger); err != nil {
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}

	// Plans are read on every purchase and renewal and change rarely
	st.repos.Plans = cache.NewPlanCache(st.repos.Plans, cfg.Billing.PlanCacheTTL)

	engine, err := initPricing(cfg.Billing)
	if err != nil {
		return nil, err
	}

	gw := gateway.NewResilientGateway(
		gateway.NewSimulatedGateway(gateway.SimulatedConfig{
			ChargeSuccessRate: cfg.Gateway.ChargeSuccessRate,
			RefundSuccessRate: cfg.Gateway.RefundSuccessRate,
			MinLatency:        cfg.Gateway.MinLatency,
			MaxLatency:        cfg.Gateway.MaxLatency,
		}, logger.Named("gateway")),
		gateway.BreakerConfig{
			MaxFailures:         cfg.Gateway.BreakerMaxFailures,
			OpenTimeout:         cfg.Gateway.BreakerOpenTimeout,
			MaxRequestsHalfOpen: 1,
		},
		logger,
	)

	service := billing.NewService(st.db, st.repos, gw, engine, billing.Config{
		RenewalLookahead:     cfg.Billing.RenewalLookahead,
		StaleHorizon:         cfg.Billing.StaleHorizon,
		ExpiringNoticeWindow: cfg.Billing.ExpiringNoticeWindow,
		RetryBaseDelay:       cfg.Billing.RetryBaseDelay,
		RetryMaxDelay:        cfg.Billing.RetryMaxDelay,
		GatewayTimeout:       cfg.Gateway.Timeout,
		SweepBatchSize:       cfg.Billing.SweepBatchSize,
		SweepConcurrency:     cfg.Billing.SweepConcurrency,
	}, logging.NewZapAdapter(logger.Named("billing")))

	publisher, err := initPublisher(cfg.Broker, logger)
	if err != nil {
		return nil, err
	}
	sm.RegisterCloser("notification-publisher", publisher)

	dispatcher := notification.NewDispatcher(st.repos.Notifications, publisher, notification.Config{
		PollInterval: cfg.Dispatcher.PollInterval,
		BatchSize:    cfg.Dispatcher.BatchSize,
	}, logger.Named("dispatcher"))

	locker, err := initLocker(ctx, cfg.Redis, sm, health, logger)
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		service:    service,
		dispatcher: dispatcher,
		locker:     locker,
		cronSecret: cronSecret,
	}, nil
}

// initSecretStore returns nil for the env provider; secrets.Resolve then
// falls back to plain environment values.
func initSecretStore(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretStore, error) {
	var store ports.SecretStore
	switch cfg.Provider {
	case "local":
		store = secrets.NewLocalStore(cfg.LocalPath, logger)
	case "aws":
		awsStore, err := secrets.NewAWSStore(ctx, secrets.AWSConfig{Region: cfg.AWSRegion}, logger)
		if err != nil {
			return nil, err
		}
		store = awsStore
	case "vault":
		vaultStore, err := secrets.NewVaultStore(secrets.VaultConfig{
			Address:   cfg.VaultAddr,
			Token:     cfg.VaultToken,
			MountPath: cfg.VaultMount,
		}, logger)
		if err != nil {
			return nil, err
		}
		store = vaultStore
	default:
		return nil, nil
	}

	logger.Info("Secret store initialized", zap.String("provider", cfg.Provider))
	return secrets.NewCachedStore(store, secretCacheTTL, logger), nil
}

func initStorage(ctx context.Context, cfg *config.Config, sm *shutdown.Manager, health *observability.HealthChecker, logger *zap.Logger) (*storage, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		logger.Warn("Using in-memory ledger store, data is lost on restart")
		store := memory.NewStore()
		return &storage{
			db: store,
			repos: billing.Repositories{
				Users:         store.Users(),
				Plans:         store.Plans(),
				Subscriptions: store.Subscriptions(),
				Transactions:  store.Transactions(),
				PromoCodes:    store.PromoCodes(),
				Notifications: store.Notifications(),
			},
		}, nil
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.ConnectionString())
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(connectCtx, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	sm.RegisterNoErr("database", pool.Close)
	health.AddCheck("database", pool.Ping)
	postgres.StartPoolMonitoring(ctx, pool, 30*time.Second, logger)

	logger.Info("Database connection established",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int32("min_conns", poolCfg.MinConns),
	)

	return &storage{
		db: postgres.NewDBExecutor(pool),
		repos: billing.Repositories{
			Users:         postgres.NewUserRepository(pool),
			Plans:         postgres.NewPlanRepository(pool),
			Subscriptions: postgres.NewSubscriptionRepository(pool),
			Transactions:  postgres.NewTransactionRepository(pool),
			PromoCodes:    postgres.NewPromoCodeRepository(pool),
			Notifications: postgres.NewNotificationRepository(pool),
		},
	}, nil
}

func initPricing(cfg config.BillingConfig) (*pricing.Engine, error) {
	floor, err := decimal.NewFromString(cfg.RefundFloor)
	if err != nil {
		return nil, fmt.Errorf("parse BILLING_REFUND_FLOOR: %w", err)
	}
	threshold, err := decimal.NewFromString(cfg.FullRefundThreshold)
	if err != nil {
		return nil, fmt.Errorf("parse BILLING_FULL_REFUND_THRESHOLD: %w", err)
	}
	return pricing.NewEngine(pricing.Policy{
		FullRefundWindow:    cfg.FullRefundWindow,
		RefundFloor:         floor,
		FullRefundThreshold: threshold,
	}), nil
}

// publisher is a NotificationPublisher that holds a connection
type publisher interface {
	ports.NotificationPublisher
	Close() error
}

func initPublisher(cfg config.BrokerConfig, logger *zap.Logger) (publisher, error) {
	if cfg.URL == "" {
		logger.Info("RABBITMQ_URL not set, notifications will be logged only")
		return broker.NewLogPublisher(logger.Named("notifications")), nil
	}
	p, err := broker.NewRabbitMQPublisher(cfg.URL, cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("init rabbitmq publisher: %w", err)
	}
	return p, nil
}

func initLocker(ctx context.Context, cfg config.RedisConfig, sm *shutdown.Manager, health *observability.HealthChecker, logger *zap.Logger) (ports.Locker, error) {
	if cfg.Addr == "" {
		logger.Info("REDIS_ADDR not set, sweep leases are local to this process")
		return lock.NewLocalLocker(), nil
	}
	locker, err := lock.NewRedisLocker(ctx, cfg.Addr, cfg.Password, cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("init redis locker: %w", err)
	}
	sm.RegisterCloser("redis", locker)
	health.AddCheck("redis", locker.Ping)
	return locker, nil
}
