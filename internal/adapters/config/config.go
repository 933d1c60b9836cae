package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"marketintel/pkg/errors"
)

type Config struct {
	App           AppConfig
	AI            AIConfig
	Search        SearchConfig
	Pipeline      PipelineConfig
	Storage       StorageConfig
	Redis         RedisConfig
	ClickHouse    ClickHouseConfig
	Kafka         KafkaConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"marketintel"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	// PromptsDir overrides the embedded prompt templates with a directory on
	// disk. Blank uses the embedded set.
	PromptsDir string `envconfig:"PROMPTS_DIR"`
}

type AIConfig struct {
	OpenRouterKey  string        `envconfig:"OPENROUTER_API_KEY"`
	BaseURL        string        `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`
	DefaultModel   string        `envconfig:"DEFAULT_MODEL" default:"x-ai/grok-4.1-fast:free"`
	RequestTimeout time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"120s"`
	RequestsPerMin int           `envconfig:"AI_REQUESTS_PER_MINUTE" default:"60"`
}

type SearchConfig struct {
	TavilyKey      string        `envconfig:"TAVILY_API_KEY"`
	BaseURL        string        `envconfig:"TAVILY_BASE_URL" default:"https://api.tavily.com"`
	RequestTimeout time.Duration `envconfig:"SEARCH_REQUEST_TIMEOUT" default:"30s"`
	RequestsPerMin int           `envconfig:"SEARCH_REQUESTS_PER_MINUTE" default:"60"`
}

type PipelineConfig struct {
	MaxBudget      float64 `envconfig:"MAX_COST_PER_RUN" default:"2.0"`
	DailyCostLimit float64 `envconfig:"DAILY_COST_LIMIT" default:"25.0"`
	MaxRevisions   int     `envconfig:"MAX_REVISIONS" default:"2"`
	AutoApprove    bool    `envconfig:"AUTO_APPROVE" default:"true"`
	// ReviewTimeout bounds how long an interactive run waits at the review
	// gate. Zero means wait indefinitely.
	ReviewTimeout       time.Duration `envconfig:"REVIEW_TIMEOUT" default:"0"`
	ResearchDepth       string        `envconfig:"RESEARCH_DEPTH" default:"comprehensive"`
	TrendYear           int           `envconfig:"TREND_YEAR" default:"2025"`
	MaxConcurrentRuns   int           `envconfig:"MAX_CONCURRENT_RUNS" default:"4"`
	CheckpointRetention time.Duration `envconfig:"CHECKPOINT_RETENTION" default:"720h"`
}

type StorageConfig struct {
	Driver     string `envconfig:"STORAGE_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"marketintel.db"`
	Postgres   PostgresConfig
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ClickHouseConfig struct {
	Enabled  bool   `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"marketintel"`
}

type KafkaConfig struct {
	Enabled  bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers  []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	RunTopic string   `envconfig:"KAFKA_RUN_TOPIC" default:"marketintel.runs"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

type WorkerConfig struct {
	ReviewSweepInterval     time.Duration `envconfig:"WORKER_REVIEW_SWEEP_INTERVAL" default:"30s"`
	CheckpointPruneInterval time.Duration `envconfig:"WORKER_CHECKPOINT_PRUNE_INTERVAL" default:"1h"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}

// Validate checks that everything the enabled subsystems need is present.
// Keys are checked here rather than via required env tags so that test and
// memory-driver setups can construct a Config without a full environment.
func (c *Config) Validate() error {
	if c.AI.OpenRouterKey == "" {
		return errors.Wrap(errors.ErrInvalidInput, "OPENROUTER_API_KEY is required")
	}
	if c.Search.TavilyKey == "" {
		return errors.Wrap(errors.ErrInvalidInput, "TAVILY_API_KEY is required")
	}
	if c.Pipeline.MaxBudget <= 0 {
		return errors.Wrap(errors.ErrInvalidInput, "MAX_COST_PER_RUN must be positive")
	}
	if c.Pipeline.MaxRevisions < 0 {
		return errors.Wrap(errors.ErrInvalidInput, "MAX_REVISIONS must not be negative")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.Wrap(errors.ErrInvalidInput, "SQLITE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.Postgres.User == "" || c.Storage.Postgres.Database == "" {
			return errors.Wrap(errors.ErrInvalidInput, "POSTGRES_USER and POSTGRES_DB are required for the postgres driver")
		}
	case "memory":
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Pipeline.ResearchDepth {
	case "basic", "comprehensive":
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown research depth %q", c.Pipeline.ResearchDepth)
	}

	return nil
}
