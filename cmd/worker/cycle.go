package main

import (
	"context"

	"wowmeta/aggregator/internal/metrics"
	"wowmeta/aggregator/internal/models"
	"wowmeta/aggregator/internal/pipeline"
	"wowmeta/aggregator/internal/repository"

	"github.com/rs/zerolog/log"
)

// cycleRunner is the scheduled job: one aggregation cycle over the full task
// list followed by a refresh of the stored-record gauges.
type cycleRunner struct {
	orch  *pipeline.Orchestrator
	db    *repository.Database
	tasks []models.Task
}

func (r *cycleRunner) Run(ctx context.Context) error {
	summary, err := r.orch.RunCycle(ctx, r.tasks)
	if err != nil {
		return err
	}

	log.Info().
		Str("cycle_id", summary.CycleID).
		Int("total", summary.Total()).
		Int("persisted", summary.Persisted).
		Msg("Scheduled aggregation finished")

	statsCtx := context.WithoutCancel(ctx)
	if n, err := r.db.Meta.Count(statsCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to count meta records")
	} else {
		metrics.UpdateMetaRecordCount(int64(n))
	}
	r.db.PoolStats()

	return nil
}
