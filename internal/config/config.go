package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"wowmeta/aggregator/internal/cache"
	"wowmeta/aggregator/internal/client"
	"wowmeta/aggregator/internal/pipeline"
	"wowmeta/aggregator/internal/repository"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	// Ranking service (Warcraft Logs)
	WCLClientID     string        `envconfig:"WCL_CLIENT_ID"`
	WCLClientSecret string        `envconfig:"WCL_CLIENT_SECRET"`
	WCLTokenURL     string        `envconfig:"WCL_TOKEN_URL" default:"https://www.warcraftlogs.com/oauth/token"`
	WCLAPIURL       string        `envconfig:"WCL_API_URL" default:"https://www.warcraftlogs.com/api/v2/client"`
	WCLTimeout      time.Duration `envconfig:"WCL_TIMEOUT" default:"30s"`
	WCLConcurrency  int           `envconfig:"WCL_CONCURRENCY" default:"10"`
	WCLMaxPages     int           `envconfig:"WCL_MAX_PAGES" default:"1"`

	// Token cache
	TokenSafetyMargin time.Duration `envconfig:"TOKEN_SAFETY_MARGIN" default:"60s"`
	TokenLockTTL      time.Duration `envconfig:"TOKEN_LOCK_TTL" default:"30s"`
	TokenLockWait     time.Duration `envconfig:"TOKEN_LOCK_WAIT" default:"10s"`

	// Rating service (Raider.IO)
	RIOBaseURL     string        `envconfig:"RIO_BASE_URL" default:"https://raider.io/api/v1/characters/profile"`
	RIOTimeout     time.Duration `envconfig:"RIO_TIMEOUT" default:"10s"`
	RIOConcurrency int           `envconfig:"RIO_CONCURRENCY" default:"4"`
	RIOMinInterval time.Duration `envconfig:"RIO_MIN_INTERVAL" default:"400ms"`

	// Retry policy shared by both upstream services
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"4"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`
	RetryMultiplier  float64       `envconfig:"RETRY_MULTIPLIER" default:"2"`
	RetryJitter      float64       `envconfig:"RETRY_JITTER" default:"0.1"`

	// Pipeline
	TaskConcurrency  int           `envconfig:"TASK_CONCURRENCY" default:"16"`
	TaskTimeout      time.Duration `envconfig:"TASK_TIMEOUT" default:"2m"`
	PersistBatchSize int           `envconfig:"PERSIST_BATCH_SIZE" default:"50"`
	BracketThreshold int           `envconfig:"BRACKET_THRESHOLD" default:"12"`
	CatalogPath      string        `envconfig:"CATALOG_PATH"`

	// Database
	DatabaseHost           string        `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort           int           `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName           string        `envconfig:"DATABASE_NAME" default:"wowmeta"`
	DatabaseUser           string        `envconfig:"DATABASE_USER" default:"wowmeta"`
	DatabasePassword       string        `envconfig:"DATABASE_PASSWORD"`
	DatabaseSSLMode        string        `envconfig:"DATABASE_SSL_MODE" default:"disable"`
	DatabaseMaxConns       int32         `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMinConns       int32         `envconfig:"DATABASE_MIN_CONNS" default:"2"`
	DatabaseConnectTimeout time.Duration `envconfig:"DATABASE_CONNECT_TIMEOUT" default:"10s"`
	DatabaseAutoSchema     bool          `envconfig:"DATABASE_AUTO_SCHEMA" default:"true"`

	// Redis
	RedisEnabled     bool   `envconfig:"REDIS_ENABLED" default:"true"`
	RedisHost        string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort        int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword    string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB          int    `envconfig:"REDIS_DB" default:"0"`
	MetaCachePattern string `envconfig:"META_CACHE_PATTERN" default:"meta:*"`

	// Application
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Scheduler
	EnableScheduler    bool          `envconfig:"ENABLE_SCHEDULER" default:"true"`
	InitialSyncEnabled bool          `envconfig:"INITIAL_SYNC_ENABLED" default:"true"`
	AggregationCron    string        `envconfig:"AGGREGATION_CRON" default:"0 */8 * * *"`
	ShutdownGrace      time.Duration `envconfig:"SHUTDOWN_GRACE" default:"45s"`

	// Monitoring
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
	MetricsPort   int  `envconfig:"METRICS_PORT" default:"9090"`
}

// Load loads configuration from environment variables
// It first attempts to load from .env file if in development mode
func Load() (*Config, error) {
	// Try to load .env file (ignore error if doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration. Missing ranking credentials are not
// a configuration error here: the first cycle fails with ErrAuthConfig.
func (c *Config) Validate() error {
	if c.DatabasePassword == "" && c.IsProduction() {
		return fmt.Errorf("DATABASE_PASSWORD is required in production")
	}

	if c.WCLConcurrency < 1 || c.RIOConcurrency < 1 || c.TaskConcurrency < 1 {
		return fmt.Errorf("WCL_CONCURRENCY, RIO_CONCURRENCY and TASK_CONCURRENCY must be positive")
	}

	if c.PersistBatchSize < 1 {
		return fmt.Errorf("PERSIST_BATCH_SIZE must be positive")
	}

	if c.BracketThreshold < 2 {
		return fmt.Errorf("BRACKET_THRESHOLD must be at least 2")
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("RETRY_JITTER must be between 0 and 1")
	}

	if c.TokenLockTTL <= 0 || c.TokenLockWait <= 0 {
		return fmt.Errorf("TOKEN_LOCK_TTL and TOKEN_LOCK_WAIT must be positive")
	}

	if c.TokenSafetyMargin < 0 {
		return fmt.Errorf("TOKEN_SAFETY_MARGIN must not be negative")
	}

	if _, err := cron.ParseStandard(c.AggregationCron); err != nil {
		return fmt.Errorf("invalid AGGREGATION_CRON %q: %w", c.AggregationCron, err)
	}

	return nil
}

// RetryPolicy returns the retry policy shared by both upstream services
func (c *Config) RetryPolicy() client.RetryPolicy {
	return client.RetryPolicy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		Multiplier:  c.RetryMultiplier,
		Jitter:      c.RetryJitter,
	}
}

// TokenProviderConfig returns the ranking service OAuth settings
func (c *Config) TokenProviderConfig() client.TokenProviderConfig {
	return client.TokenProviderConfig{
		ClientID:     c.WCLClientID,
		ClientSecret: c.WCLClientSecret,
		TokenURL:     c.WCLTokenURL,
		SafetyMargin: c.TokenSafetyMargin,
		LockWait:     c.TokenLockWait,
		Retry:        c.RetryPolicy(),
		// The exchange must finish while this worker still owns the lock
		ExchangeTimeout: c.TokenLockTTL * 4 / 5,
	}
}

// RankingsFetcherConfig returns the ranking service query settings
func (c *Config) RankingsFetcherConfig() client.RankingsFetcherConfig {
	return client.RankingsFetcherConfig{
		APIURL:   c.WCLAPIURL,
		Timeout:  c.WCLTimeout,
		Retry:    c.RetryPolicy(),
		MaxPages: c.WCLMaxPages,
	}
}

// PipelineConfig returns the cycle bounds
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		TaskConcurrency:    c.TaskConcurrency,
		RankingConcurrency: c.WCLConcurrency,
		RatingConcurrency:  c.RIOConcurrency,
		RatingInterval:     c.RIOMinInterval,
		TaskTimeout:        c.TaskTimeout,
		BatchSize:          c.PersistBatchSize,
		Retry:              c.RetryPolicy(),
		CachePattern:       c.MetaCachePattern,
	}
}

// DatabaseConfig returns the connection pool settings
func (c *Config) DatabaseConfig() repository.Config {
	return repository.Config{
		Host:     c.DatabaseHost,
		Port:     strconv.Itoa(c.DatabasePort),
		User:     c.DatabaseUser,
		Password: c.DatabasePassword,
		Database: c.DatabaseName,
		SSLMode:  c.DatabaseSSLMode,
		MaxConns: c.DatabaseMaxConns,
		MinConns: c.DatabaseMinConns,

		ConnectTimeout: c.DatabaseConnectTimeout,
	}
}

// RedisConfig returns the Redis connection settings
func (c *Config) RedisConfig() cache.Config {
	return cache.Config{
		Host:     c.RedisHost,
		Port:     strconv.Itoa(c.RedisPort),
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		LockTTL:  c.TokenLockTTL,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// MustLoad loads configuration or panics on error
// Use this in main() where we want to fail fast
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
