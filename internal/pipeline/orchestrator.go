package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wowmeta/aggregator/internal/aggregate"
	"wowmeta/aggregator/internal/client"
	"wowmeta/aggregator/internal/enrich"
	"wowmeta/aggregator/internal/metrics"
	"wowmeta/aggregator/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// TokenSource produces the ranking service token
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// RankingSource fetches the ranking entries of one tuple
type RankingSource interface {
	Fetch(ctx context.Context, q client.RankingQuery) ([]models.RankingEntry, error)
}

// Persister stores one batch atomically
type Persister interface {
	UpsertBatch(ctx context.Context, records []*models.MetaRecord) error
}

// Invalidator drops read-side snapshots after new data was stored
type Invalidator interface {
	InvalidateMeta(ctx context.Context, pattern string) (int, error)
}

// Config bounds a cycle
type Config struct {
	TaskConcurrency    int
	RankingConcurrency int
	RatingConcurrency  int
	RatingInterval     time.Duration
	TaskTimeout        time.Duration
	BatchSize          int
	Retry              client.RetryPolicy
	CachePattern       string
}

// Orchestrator runs aggregation cycles
type Orchestrator struct {
	cfg         Config
	tokens      TokenSource
	rankings    RankingSource
	ratings     enrich.RatingSource
	persister   Persister
	invalidator Invalidator
	limiter     *rate.Limiter
}

// Cycle is the outcome of one run
type Cycle struct {
	Summary models.Summary
	Records []*models.MetaRecord
	Results []models.TaskResult
}

// New creates an orchestrator. A nil persister runs cycles without storing
// anything.
func New(cfg Config, tokens TokenSource, rankings RankingSource, ratings enrich.RatingSource, persister Persister) *Orchestrator {
	if cfg.TaskConcurrency < 1 {
		cfg.TaskConcurrency = 1
	}
	if cfg.RankingConcurrency < 1 {
		cfg.RankingConcurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}

	return &Orchestrator{
		cfg:       cfg,
		tokens:    tokens,
		rankings:  rankings,
		ratings:   ratings,
		persister: persister,
		limiter:   enrich.NewLimiter(cfg.RatingInterval),
	}
}

// WithInvalidator clears read-side caches matching the configured pattern
// after each cycle that stored records
func (o *Orchestrator) WithInvalidator(inv Invalidator) *Orchestrator {
	o.invalidator = inv
	return o
}

// RunCycle runs every task and returns the outcome counts. Only a failure to
// obtain a token fails the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context, tasks []models.Task) (models.Summary, error) {
	cycle, err := o.Run(ctx, tasks)
	if err != nil {
		return models.Summary{}, err
	}
	return cycle.Summary, nil
}

// Run is RunCycle that also returns the produced records and task results
func (o *Orchestrator) Run(ctx context.Context, tasks []models.Task) (*Cycle, error) {
	start := time.Now()
	cycleID := uuid.NewString()
	logger := log.With().Str("cycle_id", cycleID).Logger()

	logger.Info().
		Int("tasks", len(tasks)).
		Int("task_concurrency", o.cfg.TaskConcurrency).
		Int("ranking_concurrency", o.cfg.RankingConcurrency).
		Msg("Starting aggregation cycle")

	if _, err := o.tokens.Token(ctx); err != nil {
		metrics.RecordCycle("error", time.Since(start).Seconds(), 0, 0, 0, 0)
		metrics.RecordError("pipeline", "token")
		logger.Error().Err(err).Msg("Aggregation cycle aborted, no access token")
		return nil, fmt.Errorf("cycle %s: %w", cycleID, err)
	}

	enricher := enrich.New(o.ratings, o.limiter, enrich.NewCache(), enrich.Options{
		Concurrency: o.cfg.RatingConcurrency,
		Retry:       o.cfg.Retry,
	})

	results := o.runTasks(ctx, logger, enricher, tasks)

	cycle := &Cycle{
		Summary: models.Summary{CycleID: cycleID},
		Results: results,
	}
	for _, res := range results {
		switch res.Status {
		case models.TaskSucceeded:
			cycle.Summary.Succeeded++
			cycle.Records = append(cycle.Records, res.Record)
		case models.TaskNoData:
			cycle.Summary.NoData++
		default:
			cycle.Summary.Failed++
		}
	}

	if o.persister != nil {
		o.persist(ctx, logger, cycle)
	}

	cycle.Summary.Duration = time.Since(start)

	status := "success"
	if cycle.Summary.Failed > 0 {
		status = "partial"
	}
	metrics.RecordCycle(status, cycle.Summary.Duration.Seconds(),
		cycle.Summary.Succeeded, cycle.Summary.NoData, cycle.Summary.Failed, cycle.Summary.Persisted)

	logger.Info().
		Int("succeeded", cycle.Summary.Succeeded).
		Int("no_data", cycle.Summary.NoData).
		Int("failed", cycle.Summary.Failed).
		Int("persisted", cycle.Summary.Persisted).
		Int("players_rated", enricher.Cache().Len()).
		Int64("rating_requests", enricher.Requests()).
		Dur("duration", cycle.Summary.Duration).
		Msg("Aggregation cycle complete")

	return cycle, nil
}

// runTasks executes tasks under the task window. Once ctx is cancelled no new
// task starts; tasks already running finish under their own timeout.
func (o *Orchestrator) runTasks(ctx context.Context, logger zerolog.Logger, enricher *enrich.Enricher, tasks []models.Task) []models.TaskResult {
	results := make([]models.TaskResult, len(tasks))
	window := semaphore.NewWeighted(int64(o.cfg.TaskConcurrency))
	rankingWindow := semaphore.NewWeighted(int64(o.cfg.RankingConcurrency))

	var wg sync.WaitGroup
	for i, task := range tasks {
		if err := window.Acquire(ctx, 1); err != nil {
			for j := i; j < len(tasks); j++ {
				results[j] = models.TaskResult{Task: tasks[j], Status: models.TaskFailed, Err: err}
			}
			logger.Warn().Int("skipped", len(tasks)-i).Msg("Cycle cancelled, remaining tasks not started")
			break
		}

		wg.Add(1)
		go func(i int, task models.Task) {
			defer wg.Done()
			defer window.Release(1)
			results[i] = o.runTask(ctx, logger, enricher, rankingWindow, task)
		}(i, task)
	}
	wg.Wait()

	return results
}

// runTask runs fetch, enrichment and aggregation for one tuple. It never
// panics and never returns an error; the outcome is in the result.
func (o *Orchestrator) runTask(ctx context.Context, logger zerolog.Logger, enricher *enrich.Enricher, rankingWindow *semaphore.Weighted, task models.Task) (res models.TaskResult) {
	res.Task = task

	defer func() {
		if r := recover(); r != nil {
			res = models.TaskResult{Task: task, Status: models.TaskFailed, Err: fmt.Errorf("panic: %v", r)}
			metrics.RecordError("pipeline", "panic")
			logger.Error().
				Str("task", task.Key().String()).
				Interface("panic", r).
				Msg("Task panicked")
		}
	}()

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TaskTimeout)
	defer cancel()

	entries, err := o.fetch(tctx, rankingWindow, task)
	if err != nil {
		metrics.RecordError("pipeline", "fetch")
		logger.Error().
			Err(err).
			Str("class", task.ClassName).
			Str("spec", task.SpecName).
			Int("encounter_id", task.Encounter.ID).
			Str("bracket", task.Selector.String()).
			Msg("Task failed")
		res.Status, res.Err = models.TaskFailed, err
		return res
	}
	if len(entries) == 0 {
		res.Status = models.TaskNoData
		return res
	}

	ratings, err := enricher.Enrich(tctx, aggregate.EnrichmentSet(entries))
	if err == nil {
		err = tctx.Err()
	}
	if err != nil {
		metrics.RecordError("pipeline", "timeout")
		logger.Error().
			Err(err).
			Str("class", task.ClassName).
			Str("spec", task.SpecName).
			Int("encounter_id", task.Encounter.ID).
			Str("bracket", task.Selector.String()).
			Msg("Rating enrichment did not complete")
		res.Status, res.Err = models.TaskFailed, fmt.Errorf("rating enrichment: %w", err)
		return res
	}

	rec, ok := aggregate.Aggregate(task, entries, ratings)
	if !ok {
		res.Status = models.TaskNoData
		return res
	}

	logger.Debug().
		Str("task", task.Key().String()).
		Int("entries", len(entries)).
		Int("meta_score", rec.MetaScore).
		Msg("Task aggregated")

	res.Status, res.Record = models.TaskSucceeded, rec
	return res
}

func (o *Orchestrator) fetch(ctx context.Context, rankingWindow *semaphore.Weighted, task models.Task) ([]models.RankingEntry, error) {
	if err := rankingWindow.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer rankingWindow.Release(1)

	return o.rankings.Fetch(ctx, client.QueryFor(task))
}

// persist flushes records in fixed-size batches. A batch that still fails
// after retries turns its tasks into failures; later batches still run.
func (o *Orchestrator) persist(ctx context.Context, logger zerolog.Logger, cycle *Cycle) {
	pctx := context.WithoutCancel(ctx)

	for start := 0; start < len(cycle.Records); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(cycle.Records))
		batch := cycle.Records[start:end]

		bctx, cancel := context.WithTimeout(pctx, o.cfg.TaskTimeout)
		err := o.cfg.Retry.Do(bctx, "persist batch", func(ctx context.Context) error {
			return o.persister.UpsertBatch(ctx, batch)
		})
		cancel()

		if err != nil {
			metrics.RecordError("pipeline", "persist")
			logger.Error().
				Err(err).
				Int("batch_start", start).
				Int("batch_size", len(batch)).
				Msg("Failed to persist batch")
			cycle.Summary.Succeeded -= len(batch)
			cycle.Summary.Failed += len(batch)
			continue
		}
		cycle.Summary.Persisted += len(batch)
	}

	if cycle.Summary.Persisted > 0 && o.invalidator != nil && o.cfg.CachePattern != "" {
		n, err := o.invalidator.InvalidateMeta(pctx, o.cfg.CachePattern)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to invalidate meta cache")
			return
		}
		logger.Info().Int("keys", n).Msg("Meta cache invalidated")
	}
}
