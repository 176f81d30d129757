package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	Gateway    GatewayConfig
	Billing    BillingConfig
	Dispatcher DispatcherConfig
	Redis      RedisConfig
	Broker     BrokerConfig
	Secrets    SecretsConfig
	Cron       CronConfig
	RateLimit  RateLimitConfig
	Logger     LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	MetricsPort     int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string // overrides the discrete fields when set
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// StorageConfig selects the ledger store
type StorageConfig struct {
	Driver   string // postgres, memory
	SeedDemo bool   // load the demo catalog and users at startup
}

// GatewayConfig holds the simulated payment gateway and its circuit breaker
type GatewayConfig struct {
	ChargeSuccessRate  float64
	RefundSuccessRate  float64
	MinLatency         time.Duration
	MaxLatency         time.Duration
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// BillingConfig holds the billing policy
type BillingConfig struct {
	FullRefundWindow     time.Duration
	RefundFloor          string
	FullRefundThreshold  string
	RenewalLookahead     time.Duration
	StaleHorizon         time.Duration
	ExpiringNoticeWindow time.Duration
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	SweepBatchSize       int
	SweepConcurrency     int
	PlanCacheTTL         time.Duration
}

// DispatcherConfig holds notification outbox polling settings
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// RedisConfig holds the sweep lease store. Leases are process-local when Addr is empty.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LeaseTTL time.Duration
}

// BrokerConfig holds RabbitMQ settings. Notifications are logged when URL is empty.
type BrokerConfig struct {
	URL      string
	Exchange string
}

// SecretsConfig selects where secrets are resolved from
type SecretsConfig struct {
	Provider       string // env, local, aws, vault
	LocalPath      string
	AWSRegion      string
	VaultAddr      string
	VaultToken     string
	VaultMount     string
	DBPasswordPath string
	CronSecretPath string
}

// CronConfig holds the sweep trigger credentials
type CronConfig struct {
	Secret string
}

// RateLimitConfig holds per-client request limits for the public API
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Environment string
	Development bool
}

// Load reads an optional .env file, then builds the configuration from
// environment variables. Real environment variables win over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	environment := getEnv("ENVIRONMENT", "development")
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			MetricsPort:     getEnvAsInt("METRICS_PORT", 9090),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "subscription_billing"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Storage: StorageConfig{
			Driver:   getEnv("STORAGE_DRIVER", StoragePostgres),
			SeedDemo: getEnvAsBool("SEED_DEMO_DATA", false),
		},
		Gateway: GatewayConfig{
			ChargeSuccessRate:  getEnvAsFloat("GATEWAY_CHARGE_SUCCESS_RATE", 0.90),
			RefundSuccessRate:  getEnvAsFloat("GATEWAY_REFUND_SUCCESS_RATE", 0.95),
			MinLatency:         getEnvAsDuration("GATEWAY_MIN_LATENCY", 500*time.Millisecond),
			MaxLatency:         getEnvAsDuration("GATEWAY_MAX_LATENCY", 2*time.Second),
			Timeout:            getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
			BreakerMaxFailures: uint32(getEnvAsInt("GATEWAY_BREAKER_MAX_FAILURES", 5)),
			BreakerOpenTimeout: getEnvAsDuration("GATEWAY_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Billing: BillingConfig{
			FullRefundWindow:     getEnvAsDuration("BILLING_FULL_REFUND_WINDOW", 72*time.Hour),
			RefundFloor:          getEnv("BILLING_REFUND_FLOOR", "0.5"),
			FullRefundThreshold:  getEnv("BILLING_FULL_REFUND_THRESHOLD", "0.95"),
			RenewalLookahead:     getEnvAsDuration("BILLING_RENEWAL_LOOKAHEAD", 24*time.Hour),
			StaleHorizon:         getEnvAsDuration("BILLING_STALE_HORIZON", 48*time.Hour),
			ExpiringNoticeWindow: getEnvAsDuration("BILLING_EXPIRING_NOTICE_WINDOW", 72*time.Hour),
			RetryBaseDelay:       getEnvAsDuration("BILLING_RETRY_BASE_DELAY", time.Hour),
			RetryMaxDelay:        getEnvAsDuration("BILLING_RETRY_MAX_DELAY", 24*time.Hour),
			SweepBatchSize:       getEnvAsInt("BILLING_SWEEP_BATCH_SIZE", 500),
			SweepConcurrency:     getEnvAsInt("BILLING_SWEEP_CONCURRENCY", 8),
			PlanCacheTTL:         getEnvAsDuration("BILLING_PLAN_CACHE_TTL", 5*time.Minute),
		},
		Dispatcher: DispatcherConfig{
			PollInterval: getEnvAsDuration("NOTIFY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getEnvAsInt("NOTIFY_BATCH_SIZE", 100),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LeaseTTL: getEnvAsDuration("SWEEP_LEASE_TTL", 10*time.Minute),
		},
		Broker: BrokerConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "billing.notifications"),
		},
		Secrets: SecretsConfig{
			Provider:       getEnv("SECRETS_PROVIDER", "env"),
			LocalPath:      getEnv("SECRETS_LOCAL_PATH", "./secrets"),
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			VaultAddr:      getEnv("VAULT_ADDR", ""),
			VaultToken:     getEnv("VAULT_TOKEN", ""),
			VaultMount:     getEnv("VAULT_MOUNT", "secret"),
			DBPasswordPath: getEnv("DB_PASSWORD_SECRET_PATH", ""),
			CronSecretPath: getEnv("CRON_SECRET_PATH", ""),
		},
		Cron: CronConfig{
			Secret: getEnv("CRON_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: environment,
			Development: getEnvAsBool("LOG_DEVELOPMENT", environment != "production"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StoragePostgres:
		if c.Database.URL == "" && c.Database.Password == "" && c.Secrets.DBPasswordPath == "" {
			return fmt.Errorf("DATABASE_URL, DB_PASSWORD or DB_PASSWORD_SECRET_PATH is required for the postgres driver")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.Secrets.Provider {
	case "env", "local", "aws", "vault":
	default:
		return fmt.Errorf("unknown SECRETS_PROVIDER %q", c.Secrets.Provider)
	}

	if c.Gateway.ChargeSuccessRate < 0 || c.Gateway.ChargeSuccessRate > 1 {
		return fmt.Errorf("GATEWAY_CHARGE_SUCCESS_RATE must be within [0, 1]")
	}
	if c.Gateway.RefundSuccessRate < 0 || c.Gateway.RefundSuccessRate > 1 {
		return fmt.Errorf("GATEWAY_REFUND_SUCCESS_RATE must be within [0, 1]")
	}
	if c.Gateway.MaxLatency < c.Gateway.MinLatency {
		return fmt.Errorf("GATEWAY_MAX_LATENCY must not be below GATEWAY_MIN_LATENCY")
	}
	if c.Billing.SweepBatchSize <= 0 {
		return fmt.Errorf("BILLING_SWEEP_BATCH_SIZE must be positive")
	}
	return nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
