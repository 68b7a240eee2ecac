package config

import (
	"fmt"
	"time"

	"github.com/NeuronioAzul/car-dealership-sub000/pkg/config"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/database"
)

// Config holds all orchestrator configuration, loaded from the environment.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"saga-orchestrator"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Postgres PostgresConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Sweeper  SweeperConfig
	Dispatch DispatchConfig
	Tracing  TracingConfig
}

// PostgresConfig holds database settings.
type PostgresConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"postgres"`
	Password        string        `env:"POSTGRES_PASSWORD"`
	DBName          string        `env:"POSTGRES_DB" envDefault:"saga_orchestrator"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxConns        int32         `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"30m"`
	MaxConnIdleTime time.Duration `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"5m"`
}

// KafkaConfig holds broker and consumer group settings.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID string   `env:"KAFKA_GROUP_ID" envDefault:"saga-orchestrator"`
}

// RedisConfig holds settings for the idempotency store.
type RedisConfig struct {
	Host           string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port           int           `env:"REDIS_PORT" envDefault:"6379"`
	Password       string        `env:"REDIS_PASSWORD"`
	DB             int           `env:"REDIS_DB" envDefault:"0"`
	IdempotencyTTL time.Duration `env:"REDIS_IDEMPOTENCY_TTL" envDefault:"24h"`
}

// SweeperConfig holds recovery sweeper tuning.
type SweeperConfig struct {
	Interval       time.Duration `env:"SWEEPER_INTERVAL" envDefault:"30s"`
	StepTimeout    time.Duration `env:"SWEEPER_STEP_TIMEOUT" envDefault:"2m"`
	MaxStepRetries int           `env:"SWEEPER_MAX_STEP_RETRIES" envDefault:"5"`
}

// DispatchConfig holds command send retry tuning.
type DispatchConfig struct {
	MaxSendAttempts int           `env:"DISPATCH_MAX_SEND_ATTEMPTS" envDefault:"3"`
	BaseBackoff     time.Duration `env:"DISPATCH_BASE_BACKOFF" envDefault:"200ms"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `env:"TRACING_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	SampleRatio float64 `env:"TRACING_SAMPLE_RATIO" envDefault:"0.1"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("SWEEPER_INTERVAL must be positive")
	}
	if c.Sweeper.StepTimeout <= 0 {
		return fmt.Errorf("SWEEPER_STEP_TIMEOUT must be positive")
	}
	if c.Sweeper.MaxStepRetries < 1 {
		return fmt.Errorf("SWEEPER_MAX_STEP_RETRIES must be at least 1")
	}
	if c.Dispatch.MaxSendAttempts < 1 {
		return fmt.Errorf("DISPATCH_MAX_SEND_ATTEMPTS must be at least 1")
	}
	return nil
}

// PostgresPoolConfig converts to the database package's pool configuration.
func (c *Config) PostgresPoolConfig() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.Postgres.Host,
		Port:            c.Postgres.Port,
		User:            c.Postgres.User,
		Password:        c.Postgres.Password,
		DBName:          c.Postgres.DBName,
		SSLMode:         c.Postgres.SSLMode,
		MaxConns:        c.Postgres.MaxConns,
		MinConns:        c.Postgres.MinConns,
		MaxConnLifetime: c.Postgres.MaxConnLifetime,
		MaxConnIdleTime: c.Postgres.MaxConnIdleTime,
	}
}

// RedisClientConfig converts to the database package's Redis configuration.
func (c *Config) RedisClientConfig() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.Redis.Host,
		Port:     c.Redis.Port,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}
