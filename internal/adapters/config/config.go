package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"ideaflow/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	ErrorTracking ErrorTrackingConfig
	Workflow      WorkflowConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"ideaflow"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

type HTTPConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":8080"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"ideaflow"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers    []string `envconfig:"KAFKA_BROKERS" required:"true"`
	GroupID    string   `envconfig:"KAFKA_GROUP_ID" default:"ideaflow"`
	AuditTopic string   `envconfig:"KAFKA_AUDIT_TOPIC" default:"workflow.audit"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkflowConfig holds the policy knobs of the trade-idea workflow
type WorkflowConfig struct {
	// Timezone is the calendar used by the deferral resurfacing rule
	Timezone string `envconfig:"WORKFLOW_TIMEZONE" default:"UTC"`

	// AdvanceOnProposal moves an idea into deciding once a proposal is recorded.
	// When false the stage is left as is and proposals are shown as an overlay.
	AdvanceOnProposal bool `envconfig:"WORKFLOW_ADVANCE_ON_PROPOSAL" default:"false"`

	WeightCacheTTL time.Duration `envconfig:"WORKFLOW_WEIGHT_CACHE_TTL" default:"5m"`
}

// Location resolves the configured timezone
func (c WorkflowConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", c.Timezone)
	}
	return loc, nil
}

type WorkerConfig struct {
	DeferralSweepInterval time.Duration `envconfig:"WORKER_DEFERRAL_SWEEP_INTERVAL" default:"15m"`
	DeferralSweepEnabled  bool          `envconfig:"WORKER_DEFERRAL_SWEEP_ENABLED" default:"true"`
	AggregateConsumer     bool          `envconfig:"WORKER_AGGREGATE_CONSUMER_ENABLED" default:"true"`
	AggregateRateLimit    float64       `envconfig:"WORKER_AGGREGATE_RATE_LIMIT" default:"50"`
	AggregateRateBurst    int           `envconfig:"WORKER_AGGREGATE_RATE_BURST" default:"10"`
	AuditArchiveConsumer  bool          `envconfig:"WORKER_AUDIT_ARCHIVE_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
