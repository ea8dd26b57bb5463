// Package scheduler runs the pipeline on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/internal/pipeline"
)

// Runner is the slice of the pipeline the scheduler drives.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
}

// Scheduler triggers pipeline runs: one immediately, then one per
// interval. A run still in flight when the ticker fires is skipped, not
// queued.
type Scheduler struct {
	runner   Runner
	interval time.Duration
}

// New creates a scheduler.
func New(runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Scheduler{runner: runner, interval: interval}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Scheduler started")
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes one run, recovering panics so a crash in one pass
// cannot take the scheduler down.
func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Pipeline run panicked")
		}
	}()

	_, err := s.runner.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		log.Warn().Msg("Skipping scheduled run, previous run still in progress")
	default:
		log.Error().Err(err).Msg("Scheduled pipeline run failed")
	}
}
