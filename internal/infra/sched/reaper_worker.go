package sched

import (
	"context"
	"time"

	"telegram-image-generation/internal/usecase"

	"github.com/rs/zerolog"
)

// ReaperWorker periodically sweeps generations abandoned in an active state.
type ReaperWorker struct {
	interval time.Duration
	reaper   usecase.Reaper
	log      *zerolog.Logger
}

func NewReaperWorker(interval time.Duration, reaper usecase.Reaper, logger *zerolog.Logger) *ReaperWorker {
	l := logger.With().Str("component", "ReaperWorker").Logger()
	return &ReaperWorker{interval: interval, reaper: reaper, log: &l}
}

// RunOnce satisfies scheduler.Job.
func (w *ReaperWorker) RunOnce(ctx context.Context) (int, error) {
	return w.reaper.SweepStuck(ctx)
}

// Run is the standalone loop form, for deployments that run the reaper
// outside the generic scheduler.
func (w *ReaperWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("starting reaper worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping reaper worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.reaper.SweepStuck(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("reaper sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("stuck generations cleaned")
			}
		}
	}
}
