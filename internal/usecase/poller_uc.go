package usecase

import (
	"context"
	"fmt"
	"time"

	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/adapter"
	"telegram-image-generation/internal/domain/ports/repository"
	"telegram-image-generation/internal/infra/metrics"
	"telegram-image-generation/internal/infra/worker"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Poller drives one active generation to a terminal state: it polls the
// upstream job, applies monotone state transitions, compensates on failure
// and delivers the outcome to chat. Duplicate pollers for one request are
// harmless; whoever observes a terminal state first wins and the rest no-op.
type Poller interface {
	PollerSpawner

	// Run polls until the request reaches a terminal state or the deadline
	// passes, then returns.
	Run(ctx context.Context, requestID string) error

	// PollOnce executes a single poll iteration and returns the refreshed
	// request. Terminal requests are returned unchanged.
	PollOnce(ctx context.Context, requestID string) (*model.GenerationRequest, error)
}

type poller struct {
	tm       repository.TransactionManager
	requests repository.GenerationRequestRepository
	results  repository.GenerationResultRepository
	jobs     repository.GenerationJobRepository
	users    repository.UserRepository
	ledger   LedgerUseCase
	client   adapter.ProviderClient
	bot      adapter.TelegramBotAdapter
	pool     *worker.Pool

	pollInterval time.Duration
	maxDuration  time.Duration
	log          *zerolog.Logger
}

func NewPoller(
	tm repository.TransactionManager,
	requests repository.GenerationRequestRepository,
	results repository.GenerationResultRepository,
	jobs repository.GenerationJobRepository,
	users repository.UserRepository,
	ledger LedgerUseCase,
	client adapter.ProviderClient,
	bot adapter.TelegramBotAdapter,
	pool *worker.Pool,
	pollInterval, maxDuration time.Duration,
	logger *zerolog.Logger,
) Poller {
	l := logger.With().Str("component", "Poller").Logger()
	return &poller{
		tm:           tm,
		requests:     requests,
		results:      results,
		jobs:         jobs,
		users:        users,
		ledger:       ledger,
		client:       client,
		bot:          bot,
		pool:         pool,
		pollInterval: pollInterval,
		maxDuration:  maxDuration,
		log:          &l,
	}
}

func (p *poller) Spawn(requestID string) {
	err := p.pool.Submit(func(ctx context.Context) error {
		return p.Run(ctx, requestID)
	})
	if err != nil {
		p.log.Error().Err(err).Str("request_id", requestID).Msg("poller task submit failed; reaper will pick it up")
	}
}

// statusRefreshAt are the consecutive-error counts at which the user-visible
// status message is refreshed.
var statusRefreshAt = map[int]struct{}{3: {}, 6: {}, 10: {}}

func (p *poller) Run(ctx context.Context, requestID string) error {
	deadline := time.Now().Add(p.maxDuration)
	consecutiveErrs := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}

		req, done, err := p.iterate(ctx, requestID)
		if err != nil {
			// Transient upstream or parse errors never terminate the request.
			consecutiveErrs++
			metrics.IncPollError()
			p.log.Warn().Err(err).Str("request_id", requestID).Int("consecutive", consecutiveErrs).Msg("poll error")
			if _, hit := statusRefreshAt[consecutiveErrs]; hit && req != nil {
				p.refreshStatusMessage(ctx, req)
			}
		} else {
			consecutiveErrs = 0
			if done {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return p.timeout(ctx, requestID)
		}
	}
}

func (p *poller) PollOnce(ctx context.Context, requestID string) (*model.GenerationRequest, error) {
	req, _, err := p.iterate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return p.requests.FindByID(ctx, repository.NoTX, requestID)
	}
	return req, nil
}

// iterate performs one poll cycle. done=true means a terminal state was
// reached (now or earlier).
func (p *poller) iterate(ctx context.Context, requestID string) (*model.GenerationRequest, bool, error) {
	req, err := p.requests.FindByID(ctx, repository.NoTX, requestID)
	if err != nil {
		return nil, false, err
	}
	if req.Status.IsTerminal() {
		return req, true, nil
	}
	job, err := p.jobs.FindByRequest(ctx, repository.NoTX, requestID)
	if err != nil {
		return req, false, err
	}
	pred, err := p.client.GetPrediction(ctx, job.UpstreamID)
	if err != nil {
		return req, false, err
	}

	switch {
	case pred.Status == "completed" || (pred.Status == "" && len(pred.Outputs) > 0):
		if err := p.finalizeCompleted(ctx, req, job, pred.Outputs); err != nil {
			return req, false, err
		}
		return req, true, nil
	case pred.Status == "failed":
		msg := pred.Error
		if msg == "" {
			msg = "generation failed"
		}
		fresh, err := p.finalizeFailed(ctx, requestID, msg, true)
		if err != nil {
			return req, false, err
		}
		*req = *fresh
		return req, true, nil
	case pred.Status == "created" || pred.Status == "queued":
		return req, false, p.updateStatus(ctx, req, model.RequestStatusQueued)
	default:
		return req, false, p.updateStatus(ctx, req, model.RequestStatusRunning)
	}
}

func (p *poller) updateStatus(ctx context.Context, req *model.GenerationRequest, next model.RequestStatus) error {
	if req.Status == next {
		return nil
	}
	if err := req.TransitionTo(next); err != nil {
		return nil // already terminal, nothing to move
	}
	return p.requests.Save(ctx, repository.NoTX, req)
}

func (p *poller) finalizeCompleted(ctx context.Context, req *model.GenerationRequest, job *model.GenerationJob, outputs []string) error {
	var fresh *model.GenerationRequest
	err := p.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		cur, err := p.requests.FindByID(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if cur.Status.IsTerminal() {
			fresh = cur
			return nil
		}
		for _, url := range outputs {
			res := &model.GenerationResult{ID: uuid.NewString(), RequestID: cur.ID, URL: url, CreatedAt: time.Now().UTC()}
			if err := p.results.Save(ctx, tx, res); err != nil {
				return err
			}
		}
		if err := cur.TransitionTo(model.RequestStatusCompleted); err != nil {
			return err
		}
		if err := p.requests.Save(ctx, tx, cur); err != nil {
			return err
		}
		job.Status = model.JobStatusCompleted
		job.UpdatedAt = time.Now().UTC()
		if err := p.jobs.Save(ctx, tx, job); err != nil {
			return err
		}
		fresh = cur
		return nil
	})
	if err != nil {
		return err
	}
	*req = *fresh
	metrics.IncGenerationFinished("completed")
	p.deliverResult(ctx, req, outputs)
	return nil
}

// finalizeFailed is shared by the failed path, the timeout path and the
// refresh endpoint. It returns the post-finalization snapshot. Refunds
// piggyback on ledger idempotency, so racing the reaper here is safe.
func (p *poller) finalizeFailed(ctx context.Context, requestID, errMsg string, notify bool) (*model.GenerationRequest, error) {
	var (
		fresh    *model.GenerationRequest
		refunded int64
		flipped  bool
	)
	err := p.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		cur, err := p.requests.FindByID(ctx, tx, requestID)
		if err != nil {
			return err
		}
		fresh = cur
		if cur.Status.IsTerminal() {
			return nil
		}
		if err := cur.TransitionTo(model.RequestStatusFailed); err != nil {
			return err
		}
		cur.ErrorMessage = errMsg
		if err := p.requests.Save(ctx, tx, cur); err != nil {
			return err
		}
		if job, err := p.jobs.FindByRequest(ctx, tx, requestID); err == nil {
			job.Status = model.JobStatusFailed
			job.ErrorMessage = errMsg
			job.UpdatedAt = time.Now().UTC()
			if err := p.jobs.Save(ctx, tx, job); err != nil {
				return err
			}
		}
		refunded, err = p.ledger.CompensateFailure(ctx, tx, cur)
		if err != nil {
			return err
		}
		flipped = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !flipped {
		return fresh, nil
	}
	metrics.IncGenerationFinished("failed")
	if notify {
		p.notifyFailure(ctx, fresh, errMsg, refunded)
	}
	return fresh, nil
}

func (p *poller) timeout(ctx context.Context, requestID string) error {
	p.log.Warn().Str("request_id", requestID).Dur("budget", p.maxDuration).Msg("polling timeout")
	metrics.IncGenerationFinished("timeout")
	_, err := p.finalizeFailed(ctx, requestID, "polling timeout", true)
	return err
}

func (p *poller) deliverResult(ctx context.Context, req *model.GenerationRequest, outputs []string) {
	caption := fmt.Sprintf("#%s · %d credits · %s\n%s",
		req.ModelKey, req.Cost, req.Duration().Round(time.Second), req.Prompt)
	for i, url := range outputs {
		c := ""
		if i == 0 {
			c = caption
		}
		if err := p.bot.SendPhoto(ctx, req.Chat.ChatID, url, c); err != nil {
			p.log.Error().Err(err).Str("request_id", req.ID).Msg("result delivery failed")
		}
	}
	if req.Chat.MessageID != 0 {
		if err := p.bot.DeleteMessage(ctx, req.Chat.ChatID, req.Chat.MessageID); err != nil {
			p.log.Debug().Err(err).Msg("status message cleanup failed")
		}
	}
}

func (p *poller) notifyFailure(ctx context.Context, req *model.GenerationRequest, errMsg string, refunded int64) {
	text := "❌ Generation failed: " + errMsg
	if refunded > 0 {
		text += fmt.Sprintf("\n%d credits refunded.", refunded)
	}
	if err := p.bot.SendMessage(ctx, req.Chat.ChatID, text); err != nil {
		p.log.Error().Err(err).Str("request_id", req.ID).Msg("failure notice delivery failed")
	}
}

func (p *poller) refreshStatusMessage(ctx context.Context, req *model.GenerationRequest) {
	if req.Chat.MessageID == 0 {
		return
	}
	text := fmt.Sprintf("⏳ Still working on your image (%s)…", req.Status)
	if err := p.bot.EditMessageText(ctx, req.Chat.ChatID, req.Chat.MessageID, text); err != nil {
		p.log.Debug().Err(err).Msg("status refresh failed")
	}
}
