package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wowmeta/aggregator/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Job runs one aggregation cycle
type Job func(ctx context.Context) error

// Scheduler runs the aggregation cycle on a cron schedule. A tick that fires
// while a cycle is still running is skipped.
type Scheduler struct {
	spec string
	job  Job
	cron *cron.Cron

	running atomic.Bool
	skipped atomic.Int64
	wg      sync.WaitGroup
}

// NewScheduler creates a new scheduler instance for a standard 5-field cron spec
func NewScheduler(spec string, job Job) *Scheduler {
	return &Scheduler{
		spec: spec,
		job:  job,
		cron: cron.New(),
	}
}

// Start schedules the job. Cycles started by the schedule run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Msg("Scheduler starting...")

	if _, err := s.cron.AddFunc(s.spec, func() {
		if !s.Trigger(ctx) {
			log.Warn().Msg("Previous aggregation cycle still running, skipping tick")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule aggregation: %w", err)
	}

	s.cron.Start()
	log.Info().
		Str("schedule", s.spec).
		Msg("Aggregation cycle scheduled")

	return nil
}

// Trigger runs the job now unless a cycle is already running. It reports
// whether the job ran.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.RecordError("scheduler", "overlap")
		return false
	}
	s.wg.Add(1)
	defer func() {
		s.running.Store(false)
		s.wg.Done()
	}()

	start := time.Now()
	if err := s.job(ctx); err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("Aggregation cycle failed")
	}
	return true
}

// Running reports whether a cycle is in progress
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Skipped returns how many ticks were skipped because of overlap
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// Stop stops the schedule and waits up to grace for a running cycle
func (s *Scheduler) Stop(grace time.Duration) {
	log.Info().Msg("Stopping scheduler...")

	s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Scheduler stopped")
	case <-time.After(grace):
		log.Warn().Dur("grace", grace).Msg("Scheduler stopped with a cycle still running")
	}
}
