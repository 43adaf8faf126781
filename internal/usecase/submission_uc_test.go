//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/adapter"
	"telegram-image-generation/internal/domain/ports/repository"
)

type closedGate struct{ err error }

func (g closedGate) Check(context.Context) error { return g.err }

type submissionEnv struct {
	tm         *mockTxManager
	users      *memUserRepo
	ledgerRepo *memLedgerRepo
	trials     *memTrialRepo
	requests   *memRequestRepo
	references *memReferenceRepo
	results    *memResultRepo
	jobs       *memJobRepo
	catalog    *memCatalogRepo
	dispatcher *mockDispatcher
	spawner    *recordingSpawner
	ledger     LedgerUseCase
	uc         SubmissionUseCase
}

func testModel(id, key string) *model.Model {
	return &model.Model{
		ID:  id,
		Key: key,
		Caps: model.Capabilities{
			TextToImage:  true,
			ImageToImage: true,
			AspectRatio:  true,
			Resolution:   true,
			Reference:    true,
		},
		IsActive: true,
	}
}

func newSubmissionEnv(t *testing.T, m *model.Model, price int64) *submissionEnv {
	t.Helper()
	env := &submissionEnv{
		tm:         newMockTxManager(),
		users:      newMemUserRepo(),
		ledgerRepo: newMemLedgerRepo(),
		trials:     newMemTrialRepo(),
		requests:   newMemRequestRepo(),
		references: newMemReferenceRepo(),
		results:    newMemResultRepo(),
		jobs:       newMemJobRepo(),
		catalog:    newMemCatalogRepo(),
		dispatcher: newMockDispatcher("up-1", nil),
		spawner:    &recordingSpawner{},
	}
	ctx := context.Background()
	if err := env.catalog.Save(ctx, repository.NoTX, m); err != nil {
		t.Fatalf("seed model: %v", err)
	}
	if price > 0 {
		err := env.catalog.SavePrice(ctx, repository.NoTX, &model.ModelPrice{
			ID: "p-" + m.ID, ModelID: m.ID, Credits: price, IsActive: true,
		})
		if err != nil {
			t.Fatalf("seed price: %v", err)
		}
	}
	logger := newTestLogger()
	env.ledger = NewLedgerUseCase(env.ledgerRepo, env.users, env.trials, env.tm, 10, logger)
	userUC := NewUserUseCase(env.users, logger)
	pricer := NewPricer(env.catalog, []DynamicPrice{}, 0)
	env.uc = NewSubmissionUseCase(
		env.tm, userUC, env.catalog, pricer, env.ledger, env.trials,
		env.requests, env.references, env.results, env.jobs,
		env.dispatcher, openGate{}, env.spawner,
		2, 3,
		logger,
	)
	return env
}

// consumeTrial marks the user's free generation as already spent.
func (env *submissionEnv) consumeTrial(t *testing.T, userID string) {
	t.Helper()
	inserted, err := env.trials.Insert(context.Background(), repository.NoTX, &model.TrialUse{
		ID: "t-" + userID, UserID: userID, RequestID: "earlier-request",
	})
	if err != nil || !inserted {
		t.Fatalf("consume trial: inserted=%v err=%v", inserted, err)
	}
}

func (env *submissionEnv) deposit(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := env.ledger.Post(context.Background(), repository.NoTX, userID, amount, model.EntryDeposit, "seed-"+userID, "seed")
	if err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
}

func (env *submissionEnv) mustUser(t *testing.T, tgID int64) *model.User {
	t.Helper()
	u, err := env.users.FindByTelegramID(context.Background(), repository.NoTX, tgID)
	if err != nil {
		t.Fatalf("find user %d: %v", tgID, err)
	}
	return u
}

func baseCommand(tgID int64) SubmitCommand {
	return SubmitCommand{
		TelegramID: tgID,
		Username:   "tester",
		ModelID:    "m-1",
		Prompt:     "a lighthouse at dusk",
		ChatID:     tgID,
		MessageID:  42,
	}
}

func TestSubmissionUseCase_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("first generation rides the trial", func(t *testing.T) {
		// Arrange
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)

		// Act
		out, err := env.uc.Submit(ctx, baseCommand(101))

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !out.TrialUsed {
			t.Error("expected trial to be consumed")
		}
		if out.Request.Cost != 0 {
			t.Errorf("trial request cost = %d, want 0", out.Request.Cost)
		}
		if out.Request.Status != model.RequestStatusQueued {
			t.Errorf("status = %s, want queued", out.Request.Status)
		}
		if got := env.ledgerRepo.countByType(model.EntryGenerationCharge); got != 0 {
			t.Errorf("charge entries = %d, want 0", got)
		}
		if spawned := env.spawner.spawned(); len(spawned) != 1 || spawned[0] != out.Request.ID {
			t.Errorf("spawner got %v, want [%s]", spawned, out.Request.ID)
		}
	})

	t.Run("second generation debits the ledger", func(t *testing.T) {
		// Arrange
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		first, err := env.uc.Submit(ctx, baseCommand(102))
		if err != nil {
			t.Fatalf("first submit: %v", err)
		}
		user := env.mustUser(t, 102)
		env.deposit(t, user.ID, 500)

		// Act
		out, err := env.uc.Submit(ctx, baseCommand(102))

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.TrialUsed {
			t.Error("trial must not be reusable")
		}
		if out.Request.Cost != 100 {
			t.Errorf("cost = %d, want 100", out.Request.Cost)
		}
		bal, err := env.ledger.Balance(ctx, repository.NoTX, user.ID)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal != 400 {
			t.Errorf("balance after charge = %d, want 400", bal)
		}
		_ = first
	})

	t.Run("insufficient balance commits a failed request", func(t *testing.T) {
		// Arrange
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		env.uc.Submit(ctx, baseCommand(103)) // burn the trial
		user := env.mustUser(t, 103)
		env.deposit(t, user.ID, 30)

		// Act
		_, err := env.uc.Submit(ctx, baseCommand(103))

		// Assert
		if !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("err = %v, want ErrInsufficientBalance", err)
		}
		var failed *model.GenerationRequest
		for _, r := range env.requests.store {
			if r.Status == model.RequestStatusFailed {
				failed = r
			}
		}
		if failed == nil {
			t.Fatal("expected a committed failed request row")
		}
		if failed.ErrorMessage != domain.ErrInsufficientBalance.Error() {
			t.Errorf("error message = %q", failed.ErrorMessage)
		}
		if got := env.ledgerRepo.countByType(model.EntryGenerationCharge); got != 0 {
			t.Errorf("charge entries = %d, want 0", got)
		}
	})

	t.Run("parallel limit rejects with counts", func(t *testing.T) {
		// Arrange: limit is 2 in this env.
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		if _, err := env.uc.Submit(ctx, baseCommand(104)); err != nil {
			t.Fatalf("submit 1: %v", err)
		}
		user := env.mustUser(t, 104)
		env.deposit(t, user.ID, 1000)
		if _, err := env.uc.Submit(ctx, baseCommand(104)); err != nil {
			t.Fatalf("submit 2: %v", err)
		}

		// Act
		_, err := env.uc.Submit(ctx, baseCommand(104))

		// Assert
		var limitErr *domain.ActiveLimitError
		if !errors.As(err, &limitErr) {
			t.Fatalf("err = %v, want ActiveLimitError", err)
		}
		if limitErr.ActiveCount != 2 || limitErr.Limit != 2 {
			t.Errorf("counts = %d/%d, want 2/2", limitErr.ActiveCount, limitErr.Limit)
		}
	})

	t.Run("banned user is rejected before any writes", func(t *testing.T) {
		// Arrange
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		banned, _ := model.NewUser("", 105, "troll")
		banned.IsBanned = true
		if err := env.users.Save(ctx, repository.NoTX, banned); err != nil {
			t.Fatalf("seed banned user: %v", err)
		}

		// Act
		_, err := env.uc.Submit(ctx, baseCommand(105))

		// Assert
		if !errors.Is(err, domain.ErrUserBanned) {
			t.Fatalf("err = %v, want ErrUserBanned", err)
		}
		if len(env.requests.store) != 0 {
			t.Error("no request may be persisted for a banned user")
		}
	})

	t.Run("unknown model", func(t *testing.T) {
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		cmd := baseCommand(106)
		cmd.ModelID = "no-such-model"
		_, err := env.uc.Submit(ctx, cmd)
		if !errors.Is(err, domain.ErrModelNotFound) {
			t.Fatalf("err = %v, want ErrModelNotFound", err)
		}
	})

	t.Run("model resolvable by key as well as id", func(t *testing.T) {
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		cmd := baseCommand(107)
		cmd.ModelID = "flux-dev"
		if _, err := env.uc.Submit(ctx, cmd); err != nil {
			t.Fatalf("submit by key: %v", err)
		}
	})

	t.Run("unsupported parameter beats invalid value", func(t *testing.T) {
		// Arrange: model has no quality capability.
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		cmd := baseCommand(108)
		cmd.Quality = "ultra"

		// Act
		_, err := env.uc.Submit(ctx, cmd)

		// Assert
		if !errors.Is(err, domain.ErrParameterNotSupported) {
			t.Fatalf("err = %v, want ErrParameterNotSupported", err)
		}
	})

	t.Run("too many reference images", func(t *testing.T) {
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		cmd := baseCommand(109)
		cmd.ReferenceURLs = []string{"u1", "u2", "u3", "u4"}
		_, err := env.uc.Submit(ctx, cmd)
		if !errors.Is(err, domain.ErrTooManyReferences) {
			t.Fatalf("err = %v, want ErrTooManyReferences", err)
		}
	})

	t.Run("references persist alongside the request", func(t *testing.T) {
		// Arrange
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		cmd := baseCommand(110)
		cmd.ReferenceURLs = []string{"https://img/1.png", "https://img/2.png"}
		cmd.ReferenceFileIDs = []string{"file-1"}

		// Act
		out, err := env.uc.Submit(ctx, cmd)

		// Assert
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		refs, _ := env.references.ListByRequest(ctx, repository.NoTX, out.Request.ID)
		if len(refs) != 2 {
			t.Fatalf("references = %d, want 2", len(refs))
		}
		if refs[0].FileID != "file-1" || refs[1].FileID != "" {
			t.Errorf("file ids = %q/%q", refs[0].FileID, refs[1].FileID)
		}
		if out.Request.ReferenceCount != 2 {
			t.Errorf("reference count = %d, want 2", out.Request.ReferenceCount)
		}
	})

	t.Run("provider failure refunds the charge", func(t *testing.T) {
		// Arrange: paid user, then break the upstream.
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		env.uc.Submit(ctx, baseCommand(111))
		user := env.mustUser(t, 111)
		env.deposit(t, user.ID, 500)
		env.dispatcher.submitFn = func(context.Context, adapter.SubmitInput) (*adapter.Submission, error) {
			return nil, errors.New("upstream 500")
		}

		// Act
		_, err := env.uc.Submit(ctx, baseCommand(111))

		// Assert
		if !errors.Is(err, domain.ErrProviderSubmitFailed) {
			t.Fatalf("err = %v, want ErrProviderSubmitFailed", err)
		}
		bal, _ := env.ledger.Balance(ctx, repository.NoTX, user.ID)
		if bal != 500 {
			t.Errorf("balance = %d, want 500 (charge refunded)", bal)
		}
		if got := env.ledgerRepo.countByType(model.EntryGenerationRefund); got != 1 {
			t.Errorf("refund entries = %d, want 1", got)
		}
	})

	t.Run("provider failure rolls the trial back", func(t *testing.T) {
		// Arrange
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		env.dispatcher.submitFn = func(context.Context, adapter.SubmitInput) (*adapter.Submission, error) {
			return nil, errors.New("upstream 500")
		}

		// Act
		_, err := env.uc.Submit(ctx, baseCommand(112))

		// Assert
		if !errors.Is(err, domain.ErrProviderSubmitFailed) {
			t.Fatalf("err = %v, want ErrProviderSubmitFailed", err)
		}
		user := env.mustUser(t, 112)
		if _, err := env.trials.FindByUser(ctx, repository.NoTX, user.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Error("trial must be returned after a failed admission")
		}
	})

	t.Run("no provider route", func(t *testing.T) {
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		env.dispatcher.noRoute = true
		_, err := env.uc.Submit(ctx, baseCommand(113))
		if !errors.Is(err, domain.ErrProviderSubmitFailed) {
			t.Fatalf("err = %v, want ErrProviderSubmitFailed", err)
		}
	})

	t.Run("synchronous outputs skip the poller", func(t *testing.T) {
		// Arrange
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		env.dispatcher = newMockDispatcher("", []string{"https://out/1.png"})
		logger := newTestLogger()
		env.uc = NewSubmissionUseCase(
			env.tm, NewUserUseCase(env.users, logger), env.catalog,
			NewPricer(env.catalog, []DynamicPrice{}, 0), env.ledger, env.trials,
			env.requests, env.references, env.results, env.jobs,
			env.dispatcher, openGate{}, env.spawner,
			2, 3, logger,
		)

		// Act
		out, err := env.uc.Submit(ctx, baseCommand(114))

		// Assert
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if out.Request.Status != model.RequestStatusCompleted {
			t.Errorf("status = %s, want completed", out.Request.Status)
		}
		results, _ := env.results.ListByRequest(ctx, repository.NoTX, out.Request.ID)
		if len(results) != 1 {
			t.Errorf("results = %d, want 1", len(results))
		}
		if len(env.spawner.spawned()) != 0 {
			t.Error("terminal request must not be handed to the poller")
		}
	})

	t.Run("size normalizes to resolution for seedream", func(t *testing.T) {
		// Arrange: seedream advertises resolution, not size.
		m := testModel("m-1", "seedream-v4")
		m.Caps.Size = false
		m.Caps.Resolution = true
		env := newSubmissionEnv(t, m, 120)
		cmd := baseCommand(115)
		cmd.Size = "2048x2048"

		// Act
		out, err := env.uc.Submit(ctx, cmd)

		// Assert
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if out.Request.Params.Size != "" || out.Request.Params.Resolution != "2048x2048" {
			t.Errorf("params = %+v, want size rewritten to resolution", out.Request.Params)
		}
	})

	t.Run("closed provider gate blocks before any state", func(t *testing.T) {
		// Arrange
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		logger := newTestLogger()
		gateErr := &domain.ProviderBalanceLowError{Balance: 1, Threshold: 5}
		uc := NewSubmissionUseCase(
			env.tm, NewUserUseCase(env.users, logger), env.catalog,
			NewPricer(env.catalog, []DynamicPrice{}, 0), env.ledger, env.trials,
			env.requests, env.references, env.results, env.jobs,
			env.dispatcher, closedGate{err: gateErr}, env.spawner,
			2, 3, logger,
		)

		// Act
		_, err := uc.Submit(ctx, baseCommand(116))

		// Assert
		var lowErr *domain.ProviderBalanceLowError
		if !errors.As(err, &lowErr) {
			t.Fatalf("err = %v, want ProviderBalanceLowError", err)
		}
		if len(env.requests.store) != 0 {
			t.Error("gate rejection must leave no request row")
		}
		if _, findErr := env.users.FindByTelegramID(ctx, repository.NoTX, 116); !errors.Is(findErr, domain.ErrNotFound) {
			t.Error("gate rejection must not materialize the user")
		}
	})

	t.Run("invalid command shape", func(t *testing.T) {
		env := newSubmissionEnv(t, testModel("m-1", "flux-dev"), 100)
		for name, cmd := range map[string]SubmitCommand{
			"no telegram id": {ModelID: "m-1", Prompt: "x"},
			"no model":       {TelegramID: 1, Prompt: "x"},
			"no prompt":      {TelegramID: 1, ModelID: "m-1"},
		} {
			if _, err := env.uc.Submit(ctx, cmd); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("%s: err = %v, want ErrInvalidArgument", name, err)
			}
		}
	})
}
