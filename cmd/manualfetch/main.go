// Command manualfetch runs a single aggregation cycle on demand, optionally
// narrowed to some encounters or classes, and prints the produced records.
package main

import (
	"context"
	"fmt"
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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	encounters  []int
	classes     []string
	catalogPath string
	dryRun      bool
	rateLimit   bool
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "manualfetch",
		Short: "Run one meta score aggregation cycle",
		Long: `manualfetch runs a single aggregation cycle against the ranking and
rating services and prints one row per produced meta record.

Without --dry-run the records are written to the database exactly as a
scheduled cycle would write them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.IntSliceVarP(&opts.encounters, "encounter", "e", nil, "only aggregate these encounter IDs")
	flags.StringSliceVarP(&opts.classes, "class", "c", nil, "only aggregate these classes")
	flags.StringVar(&opts.catalogPath, "catalog", "", "YAML catalog file (defaults to CATALOG_PATH or the built-in catalog)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "aggregate without writing to the database")
	flags.BoolVar(&opts.rateLimit, "rate-limit", true, "print the ranking API point budget after the cycle")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	path := cfg.CatalogPath
	if opts.catalogPath != "" {
		path = opts.catalogPath
	}
	cat := catalog.Default()
	if path != "" {
		if cat, err = catalog.LoadFile(path); err != nil {
			return err
		}
	}
	cat = cat.Apply(catalog.Filter{EncounterIDs: opts.encounters, ClassNames: opts.classes})
	tasks := cat.BuildTasks(cfg.BracketThreshold)
	if len(tasks) == 0 {
		return fmt.Errorf("filter matched no tasks")
	}

	var tokenStore client.TokenStore = client.NewMemoryTokenStore()
	var redisCache *cache.RedisCache
	if cfg.RedisEnabled {
		if redisCache, err = cache.NewRedisCache(cfg.RedisConfig()); err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, using in-process token cache")
			redisCache = nil
		} else {
			defer redisCache.Close()
			tokenStore = redisCache
		}
	}

	tokens := client.NewTokenProvider(cfg.TokenProviderConfig(), tokenStore)
	rankings := client.NewRankingsFetcher(cfg.RankingsFetcherConfig(), tokens)
	ratings := client.NewRaiderIOClient(cfg.RIOBaseURL, cfg.RIOTimeout)

	var persister pipeline.Persister
	if !opts.dryRun {
		db, err := repository.NewDatabase(ctx, cfg.DatabaseConfig())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if cfg.DatabaseAutoSchema {
			if err := db.Meta.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		persister = db.Meta
	}

	orch := pipeline.New(cfg.PipelineConfig(), tokens, rankings, ratings, persister)
	if redisCache != nil && !opts.dryRun {
		orch.WithInvalidator(redisCache)
	}

	log.Info().
		Int("tasks", len(tasks)).
		Bool("dry_run", opts.dryRun).
		Msg("Running manual aggregation cycle")

	cycle, err := orch.Run(ctx, tasks)
	if err != nil {
		return err
	}

	if err := renderRecords(os.Stdout, cycle.Records); err != nil {
		return err
	}
	if err := renderSummary(os.Stdout, cycle.Summary); err != nil {
		return err
	}

	if opts.rateLimit {
		status, err := rankings.RateLimit(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read ranking API rate limit")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Ranking API points: %.0f/%d used, resets in %ds\n",
			status.PointsSpentThisHour, status.LimitPerHour, status.PointsResetIn)
	}

	return nil
}
