package usecase

import (
	"context"
	"time"

	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
	"telegram-image-generation/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

const reapBatchSize = 100

// Reaper terminates generations abandoned in an active state, for example
// after a worker crash between admission and poller handoff. Running it over
// already-terminal requests is a no-op thanks to ledger idempotency.
type Reaper interface {
	SweepStuck(ctx context.Context) (int, error)
}

type reaper struct {
	tm       repository.TransactionManager
	requests repository.GenerationRequestRepository
	jobs     repository.GenerationJobRepository
	ledger   LedgerUseCase
	stuckAge time.Duration
	log      *zerolog.Logger
}

func NewReaper(
	tm repository.TransactionManager,
	requests repository.GenerationRequestRepository,
	jobs repository.GenerationJobRepository,
	ledger LedgerUseCase,
	stuckAge time.Duration,
	logger *zerolog.Logger,
) Reaper {
	l := logger.With().Str("component", "Reaper").Logger()
	return &reaper{tm: tm, requests: requests, jobs: jobs, ledger: ledger, stuckAge: stuckAge, log: &l}
}

func (r *reaper) SweepStuck(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.stuckAge)
	stuck, err := r.requests.FindStuck(ctx, repository.NoTX, cutoff, reapBatchSize)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, req := range stuck {
		if err := r.reapOne(ctx, req.ID); err != nil {
			r.log.Error().Err(err).Str("request_id", req.ID).Msg("reap failed")
			continue
		}
		reaped++
	}
	if reaped > 0 {
		metrics.AddGenerationsReaped(reaped)
		r.log.Info().Int("count", reaped).Msg("stuck generations reaped")
	}
	return reaped, nil
}

func (r *reaper) reapOne(ctx context.Context, requestID string) error {
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		req, err := r.requests.FindByID(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return nil // a poller won the race
		}
		if err := req.TransitionTo(model.RequestStatusFailed); err != nil {
			return err
		}
		req.ErrorMessage = "system cleanup"
		if err := r.requests.Save(ctx, tx, req); err != nil {
			return err
		}
		if job, err := r.jobs.FindByRequest(ctx, tx, requestID); err == nil {
			job.Status = model.JobStatusFailed
			job.ErrorMessage = "system cleanup"
			job.UpdatedAt = time.Now().UTC()
			if err := r.jobs.Save(ctx, tx, job); err != nil {
				return err
			}
		}
		_, err = r.ledger.CompensateFailure(ctx, tx, req)
		return err
	})
}
