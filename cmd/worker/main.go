package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wowmeta/aggregator/internal/cache"
	"wowmeta/aggregator/internal/catalog"
	"wowmeta/aggregator/internal/client"
	"wowmeta/aggregator/internal/config"
	"wowmeta/aggregator/internal/pipeline"
	"wowmeta/aggregator/internal/repository"
	"wowmeta/aggregator/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Setup logger
	setupLogger(cfg)

	log.Info().Msg("Starting meta score aggregation worker")
	log.Info().
		Str("env", cfg.AppEnv).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	// Create context that listens for cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, gracefully shutting down...")
		cancel()
	}()

	// Initialize database connection
	db, err := repository.NewDatabase(ctx, cfg.DatabaseConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if cfg.DatabaseAutoSchema {
		if err := db.Meta.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure meta schema")
		}
	}

	// Initialize Redis client. Without Redis the token is shared in-process
	// only and no read-side cache is invalidated.
	var (
		tokenStore  client.TokenStore = client.NewMemoryTokenStore()
		redisCache  *cache.RedisCache
		redisHealth func(context.Context) error
	)
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cfg.RedisConfig())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Redis - continuing with in-process token cache")
		} else {
			defer redisCache.Close()
			tokenStore = redisCache
			redisHealth = redisCache.Health
			log.Info().Msg("Redis cache connected")
		}
	}

	// Start metrics HTTP server
	var metricsServer *http.Server
	if cfg.EnableMetrics {
		metricsServer = startMetricsServer(cfg.MetricsPort, db, redisHealth)
	}

	// Upstream clients
	tokens := client.NewTokenProvider(cfg.TokenProviderConfig(), tokenStore)
	rankings := client.NewRankingsFetcher(cfg.RankingsFetcherConfig(), tokens)
	ratings := client.NewRaiderIOClient(cfg.RIOBaseURL, cfg.RIOTimeout)
	log.Info().Msg("Ranking and rating clients initialized")

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load catalog")
	}
	tasks := cat.BuildTasks(cfg.BracketThreshold)
	log.Info().
		Int("specs", len(cat.Specs)).
		Int("encounters", len(cat.Encounters)).
		Int("tasks", len(tasks)).
		Msg("Catalog loaded")

	orch := pipeline.New(cfg.PipelineConfig(), tokens, rankings, ratings, db.Meta)
	if redisCache != nil {
		orch.WithInvalidator(redisCache)
	}

	runner := &cycleRunner{orch: orch, db: db, tasks: tasks}
	sched := scheduler.NewScheduler(cfg.AggregationCron, runner.Run)

	// Run initial cycle if enabled
	if cfg.InitialSyncEnabled {
		log.Info().Msg("Running initial aggregation cycle...")
		sched.Trigger(ctx)
	}

	if cfg.EnableScheduler {
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	}

	log.Info().Msg("Worker is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	<-ctx.Done()

	// Cleanup
	log.Info().Msg("Shutting down...")
	sched.Stop(cfg.ShutdownGrace)

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	log.Info().Msg("Worker shutdown complete")
}

// setupLogger configures the zerolog logger
func setupLogger(cfg *config.Config) {
	// Pretty console logging in development
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("level", level.String()).
		Msg("Logger initialized")
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(path)
}

type healthResponse struct {
	Status   string                  `json:"status"`
	Database repository.HealthStatus `json:"database"`
	Redis    string                  `json:"redis,omitempty"`
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(port int, db *repository.Database, redisHealth func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy"}
		code := http.StatusOK

		dbStatus, err := db.Health(r.Context())
		resp.Database = dbStatus
		if err != nil {
			resp.Status, code = "unhealthy", http.StatusServiceUnavailable
		}
		if redisHealth != nil {
			resp.Redis = "ok"
			if err := redisHealth(r.Context()); err != nil {
				resp.Redis = err.Error()
				resp.Status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Int("port", port).Msg("Starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return srv
}
