package repository

import (
	"context"
	"fmt"
	"time"

	"wowmeta/aggregator/internal/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Database owns the connection pool and the meta repository built on it
type Database struct {
	Pool *pgxpool.Pool

	Meta *MetaRepository
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string

	// MaxConns bounds the pool; zero means 10
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
}

// DSN returns the keyword/value connection string
func (c Config) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host,
		c.Port,
		c.Database,
		c.User,
		c.Password,
		c.SSLMode,
	)
	if c.ConnectTimeout > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", max(1, int(c.ConnectTimeout.Seconds())))
	}
	return dsn
}

// PoolConfig returns the pgxpool configuration for c
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	if c.MaxConns > 0 {
		poolConfig.MaxConns = c.MaxConns
	}
	poolConfig.MinConns = min(c.MinConns, poolConfig.MaxConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	return poolConfig, nil
}

// NewDatabase opens the pool and verifies it with a ping
func NewDatabase(ctx context.Context, cfg Config) (*Database, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Connected to meta database")

	db := &Database{Pool: pool}
	db.Meta = &MetaRepository{db: db}

	return db, nil
}

// Close closes the database connection pool
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Msg("Database connection pool closed")
	}
}

// PoolStats is a snapshot of the pool counters
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// HealthStatus is what the worker's /health endpoint reports for Postgres
type HealthStatus struct {
	Healthy     bool          `json:"healthy"`
	Error       string        `json:"error,omitempty"`
	PingLatency time.Duration `json:"ping_latency_ns"`
	Pool        PoolStats     `json:"pool"`
}

// Health pings the database within 2s. A failed ping is reported in the
// status and as the returned error.
func (db *Database) Health(ctx context.Context) (HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := HealthStatus{Pool: db.PoolStats()}

	start := time.Now()
	if err := db.Pool.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status, fmt.Errorf("database health check failed: %w", err)
	}
	status.PingLatency = time.Since(start)
	status.Healthy = true

	return status, nil
}

// PoolStats returns the pool counters and publishes them as metrics
func (db *Database) PoolStats() PoolStats {
	stat := db.Pool.Stat()
	metrics.UpdateDBConnectionStats(stat.AcquiredConns(), stat.IdleConns())
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		AcquiredConns: stat.AcquiredConns(),
		IdleConns:     stat.IdleConns(),
		MaxConns:      stat.MaxConns(),
	}
}
