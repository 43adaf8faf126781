package usecase

import (
	"context"
	"errors"
	"fmt"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/adapter"
	"telegram-image-generation/internal/domain/ports/repository"
	"telegram-image-generation/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// SubmitCommand carries one generation request from the chat front-end.
type SubmitCommand struct {
	TelegramID       int64
	Username         string
	ModelID          string
	Prompt           string
	Size             string
	AspectRatio      string
	Resolution       string
	Quality          string
	InputFidelity    string
	ReferenceURLs    []string
	ReferenceFileIDs []string
	ChatID           int64
	MessageID        int
	PromptMessageID  int
	Language         string
}

// SubmitResult is what the API returns on a successful admission.
type SubmitResult struct {
	Request       *model.GenerationRequest
	JobID         string
	UpstreamJobID string
	TrialUsed     bool
}

// PollerSpawner hands a freshly admitted request to its status poller.
type PollerSpawner interface {
	Spawn(requestID string)
}

// SubmissionUseCase is the generation gateway: it validates, prices, charges
// and dispatches one request, all under the caller's per-user serialization
// lock so concurrent submissions cannot race the admission checks.
type SubmissionUseCase interface {
	Submit(ctx context.Context, cmd SubmitCommand) (*SubmitResult, error)
}

type submissionUC struct {
	tm         repository.TransactionManager
	userUC     UserUseCase
	catalog    repository.ModelCatalogRepository
	pricer     Pricer
	ledger     LedgerUseCase
	trials     repository.TrialUseRepository
	requests   repository.GenerationRequestRepository
	references repository.GenerationReferenceRepository
	results    repository.GenerationResultRepository
	jobs       repository.GenerationJobRepository
	dispatcher adapter.Dispatcher
	gate       ProviderGate
	spawner    PollerSpawner

	maxParallel   int
	maxReferences int
	log           *zerolog.Logger
}

func NewSubmissionUseCase(
	tm repository.TransactionManager,
	userUC UserUseCase,
	catalog repository.ModelCatalogRepository,
	pricer Pricer,
	ledger LedgerUseCase,
	trials repository.TrialUseRepository,
	requests repository.GenerationRequestRepository,
	references repository.GenerationReferenceRepository,
	results repository.GenerationResultRepository,
	jobs repository.GenerationJobRepository,
	dispatcher adapter.Dispatcher,
	gate ProviderGate,
	spawner PollerSpawner,
	maxParallel, maxReferences int,
	logger *zerolog.Logger,
) SubmissionUseCase {
	l := logger.With().Str("component", "SubmissionUC").Logger()
	return &submissionUC{
		tm:            tm,
		userUC:        userUC,
		catalog:       catalog,
		pricer:        pricer,
		ledger:        ledger,
		trials:        trials,
		requests:      requests,
		references:    references,
		results:       results,
		jobs:          jobs,
		dispatcher:    dispatcher,
		gate:          gate,
		spawner:       spawner,
		maxParallel:   maxParallel,
		maxReferences: maxReferences,
		log:           &l,
	}
}

func (uc *submissionUC) Submit(ctx context.Context, cmd SubmitCommand) (*SubmitResult, error) {
	if cmd.TelegramID <= 0 || cmd.ModelID == "" || cmd.Prompt == "" {
		return nil, domain.ErrInvalidArgument
	}

	// Refuse admission before any state is touched while the provider
	// balance is low.
	if err := uc.gate.Check(ctx); err != nil {
		return nil, err
	}

	var (
		out          *SubmitResult
		admissionErr error // failures that must survive the commit (refund paths)
	)
	txErr := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// The per-user advisory lock serializes the rest of admission.
		if err := uc.tm.LockUser(ctx, tx, cmd.TelegramID); err != nil {
			return fmt.Errorf("user lock: %w", err)
		}
		user, err := uc.userUC.Materialize(ctx, tx, cmd.TelegramID, cmd.Username)
		if err != nil {
			return err
		}
		if user.IsBanned {
			return domain.ErrUserBanned
		}

		m, err := uc.resolveModel(ctx, tx, cmd.ModelID)
		if err != nil {
			return err
		}

		// Params are normalized before being validated against the model's
		// capabilities.
		params := model.GenerationParams{
			Size:          cmd.Size,
			AspectRatio:   cmd.AspectRatio,
			Resolution:    cmd.Resolution,
			Quality:       cmd.Quality,
			InputFidelity: cmd.InputFidelity,
			Language:      cmd.Language,
		}
		m.Normalize(&params)
		if err := m.ValidateParams(&params); err != nil {
			return err
		}

		price, err := uc.pricer.Price(ctx, tx, m, params)
		if err != nil {
			return err
		}

		// Reference images flip the request into image-to-image mode.
		mode := model.ModeTextToImage
		if len(cmd.ReferenceURLs) > 0 {
			mode = model.ModeImageToImage
		}
		if err := uc.checkReferences(m, cmd.ReferenceURLs); err != nil {
			return err
		}

		// Per-user parallelism cap.
		active, err := uc.requests.CountActiveByUser(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		if active >= uc.maxParallel {
			return &domain.ActiveLimitError{ActiveCount: active, Limit: uc.maxParallel}
		}

		req, err := model.NewGenerationRequest(user.ID, m, cmd.Prompt, params, model.ChatCoords{
			ChatID:          cmd.ChatID,
			MessageID:       cmd.MessageID,
			PromptMessageID: cmd.PromptMessageID,
		}, len(cmd.ReferenceURLs))
		if err != nil {
			return err
		}
		if err := uc.requests.Save(ctx, tx, req); err != nil {
			return fmt.Errorf("persist request: %w", err)
		}
		for i, url := range cmd.ReferenceURLs {
			ref := &model.GenerationReference{ID: uuid.NewString(), RequestID: req.ID, URL: url, CreatedAt: req.CreatedAt}
			if i < len(cmd.ReferenceFileIDs) {
				ref.FileID = cmd.ReferenceFileIDs[i]
			}
			if err := uc.references.Save(ctx, tx, ref); err != nil {
				return fmt.Errorf("persist reference: %w", err)
			}
		}

		// Trial first, ledger debit otherwise.
		trialUsed, err := uc.charge(ctx, tx, user, req, price)
		if err != nil {
			admissionErr = err
			return nil // commit the failed request row
		}

		provider, submit, ok := uc.dispatcher.Resolve(m.Key, mode)
		if !ok {
			uc.failAndCompensate(ctx, tx, req, "no provider path for model")
			admissionErr = domain.ErrProviderSubmitFailed
			return nil
		}
		sub, err := submit(ctx, adapter.SubmitInput{
			Prompt:        req.Prompt,
			Size:          params.Size,
			AspectRatio:   params.AspectRatio,
			Resolution:    params.Resolution,
			Quality:       params.Quality,
			InputFidelity: params.InputFidelity,
			ReferenceURLs: cmd.ReferenceURLs,
		})
		if err != nil {
			uc.log.Error().Err(err).Str("model", m.Key).Msg("upstream submit failed")
			uc.failAndCompensate(ctx, tx, req, err.Error())
			admissionErr = fmt.Errorf("%w: %v", domain.ErrProviderSubmitFailed, err)
			return nil
		}

		// Synchronous outputs short-circuit the poller entirely.
		job := model.NewGenerationJob(req.ID, provider, sub.JobID)
		if len(sub.Outputs) > 0 {
			for _, url := range sub.Outputs {
				res := &model.GenerationResult{ID: uuid.NewString(), RequestID: req.ID, URL: url, CreatedAt: req.CreatedAt}
				if err := uc.results.Save(ctx, tx, res); err != nil {
					return fmt.Errorf("persist result: %w", err)
				}
			}
			if err := req.TransitionTo(model.RequestStatusCompleted); err != nil {
				return err
			}
			job.Status = model.JobStatusCompleted
		} else {
			if err := req.TransitionTo(model.RequestStatusQueued); err != nil {
				return err
			}
		}
		if err := uc.requests.Save(ctx, tx, req); err != nil {
			return err
		}
		if err := uc.jobs.Save(ctx, tx, job); err != nil {
			return fmt.Errorf("persist job: %w", err)
		}

		out = &SubmitResult{Request: req, JobID: job.ID, UpstreamJobID: sub.JobID, TrialUsed: trialUsed}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	if admissionErr != nil {
		metrics.IncGenerationSubmitted("rejected")
		return nil, admissionErr
	}

	metrics.IncGenerationSubmitted("accepted")
	// Hand off to the poller only once the admission transaction is durable.
	if !out.Request.Status.IsTerminal() {
		uc.spawner.Spawn(out.Request.ID)
	}
	return out, nil
}

func (uc *submissionUC) resolveModel(ctx context.Context, tx repository.Tx, idOrKey string) (*model.Model, error) {
	m, err := uc.catalog.FindActiveByID(ctx, tx, idOrKey)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrModelNotFound) && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	m, err = uc.catalog.FindActiveByKey(ctx, tx, idOrKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrModelNotFound
	}
	return m, err
}

func (uc *submissionUC) checkReferences(m *model.Model, refs []string) error {
	if len(refs) > uc.maxReferences {
		return domain.ErrTooManyReferences
	}
	if len(refs) > 0 && !m.Caps.ImageToImage {
		return fmt.Errorf("%w: reference images", domain.ErrParameterNotSupported)
	}
	if len(refs) == 0 && !m.Caps.TextToImage {
		return fmt.Errorf("%w: text-to-image", domain.ErrParameterNotSupported)
	}
	return nil
}

// charge applies the trial-or-debit policy. On insufficient balance the
// request is flipped to failed in the same transaction and the sentinel is
// handed back for the API surface.
func (uc *submissionUC) charge(ctx context.Context, tx repository.Tx, user *model.User, req *model.GenerationRequest, price int64) (bool, error) {
	existing, err := uc.trials.FindByUser(ctx, tx, user.ID)
	if err != nil && err != domain.ErrNotFound {
		return false, err
	}
	if existing == nil {
		trial := &model.TrialUse{ID: uuid.NewString(), UserID: user.ID, RequestID: req.ID, CreatedAt: req.CreatedAt}
		inserted, err := uc.trials.Insert(ctx, tx, trial)
		if err != nil {
			return false, err
		}
		if inserted {
			req.Cost = 0
			return true, uc.requests.Save(ctx, tx, req)
		}
		// Raced an earlier consumption; fall through to the paid path.
	}
	balance, err := uc.ledger.Balance(ctx, tx, user.ID)
	if err != nil {
		return false, err
	}
	if balance < price {
		if err := req.TransitionTo(model.RequestStatusFailed); err != nil {
			return false, err
		}
		req.ErrorMessage = domain.ErrInsufficientBalance.Error()
		if err := uc.requests.Save(ctx, tx, req); err != nil {
			return false, err
		}
		return false, domain.ErrInsufficientBalance
	}
	if _, err := uc.ledger.Post(ctx, tx, user.ID, -price, model.EntryGenerationCharge, req.ID, "generation charge"); err != nil {
		return false, err
	}
	req.Cost = price
	return false, uc.requests.Save(ctx, tx, req)
}

// failAndCompensate flips the request to failed and reverses whatever the
// charge step applied. Compensation lives here, at the transition point,
// not in a deferred cleanup layer.
func (uc *submissionUC) failAndCompensate(ctx context.Context, tx repository.Tx, req *model.GenerationRequest, msg string) {
	if err := req.TransitionTo(model.RequestStatusFailed); err != nil {
		uc.log.Error().Err(err).Str("request_id", req.ID).Msg("fail transition rejected")
		return
	}
	req.ErrorMessage = msg
	if err := uc.requests.Save(ctx, tx, req); err != nil {
		uc.log.Error().Err(err).Str("request_id", req.ID).Msg("persist failed request")
		return
	}
	if _, err := uc.ledger.CompensateFailure(ctx, tx, req); err != nil {
		uc.log.Error().Err(err).Str("request_id", req.ID).Msg("compensation failed")
	}
}
