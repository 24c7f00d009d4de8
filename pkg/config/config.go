package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ORDERFLOW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Breaker      BreakerConfig
	RateLimit    RateLimitConfig
	Orders       OrdersConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERFLOW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ORDERFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN             string        `envconfig:"ORDERFLOW_DB_DSN"`
	MaxOpenConns    int           `envconfig:"ORDERFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERFLOW_REDIS_URL" required:"true"`
	Password     string        `envconfig:"ORDERFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"ORDERFLOW_GCP_PROJECT_ID" required:"true"`
}

type PubSubConfig struct {
	OrdersTopic          string `envconfig:"ORDERFLOW_PUBSUB_ORDERS_TOPIC" default:"orderflow-order-events"`
	OrdersSubscription   string `envconfig:"ORDERFLOW_PUBSUB_ORDERS_SUBSCRIPTION" default:"orderflow-order-events-worker"`
	PaymentsSubscription string `envconfig:"ORDERFLOW_PUBSUB_PAYMENTS_SUBSCRIPTION" default:"orderflow-payment-events-worker"`
}

type OutboxConfig struct {
	BatchSize          int    `envconfig:"ORDERFLOW_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS     int    `envconfig:"ORDERFLOW_OUTBOX_POLL_MS" default:"1000"`
	MaxAttempts        int    `envconfig:"ORDERFLOW_OUTBOX_MAX_ATTEMPTS" default:"7"`
	StaleLockSeconds   int    `envconfig:"ORDERFLOW_OUTBOX_STALE_LOCK_SECONDS" default:"60"`
	MaxBackoffSeconds  int    `envconfig:"ORDERFLOW_OUTBOX_MAX_BACKOFF_SECONDS" default:"60"`
	BackoffCapExponent int    `envconfig:"ORDERFLOW_OUTBOX_BACKOFF_CAP_EXPONENT" default:"6"`
	WorkerID           string `envconfig:"ORDERFLOW_OUTBOX_WORKER_ID"`
}

type BreakerConfig struct {
	CallTimeout  time.Duration `envconfig:"ORDERFLOW_BREAKER_CALL_TIMEOUT" default:"5s"`
	ResetTimeout time.Duration `envconfig:"ORDERFLOW_BREAKER_RESET_TIMEOUT" default:"30s"`
	Interval     time.Duration `envconfig:"ORDERFLOW_BREAKER_INTERVAL" default:"10s"`
	FailureRatio float64       `envconfig:"ORDERFLOW_BREAKER_FAILURE_RATIO" default:"0.5"`
	MinRequests  uint32        `envconfig:"ORDERFLOW_BREAKER_MIN_REQUESTS" default:"5"`
}

type RateLimitConfig struct {
	WritePerMinute int `envconfig:"ORDERFLOW_RATE_LIMIT_WRITE_PER_MIN" default:"60"`
	ReadPerMinute  int `envconfig:"ORDERFLOW_RATE_LIMIT_READ_PER_MIN" default:"240"`
}

type OrdersConfig struct {
	Currency       string        `envconfig:"ORDERFLOW_ORDERS_CURRENCY" default:"BRL"`
	IdempotencyTTL time.Duration `envconfig:"ORDERFLOW_ORDERS_IDEMPOTENCY_TTL" default:"24h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ORDERFLOW_AUTO_MIGRATE" default:"false"`
}
