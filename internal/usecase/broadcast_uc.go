package usecase

import (
	"context"
	"fmt"
	"time"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/adapter"
	"telegram-image-generation/internal/domain/ports/repository"
	"telegram-image-generation/internal/infra/metrics"
	"telegram-image-generation/internal/infra/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BroadcastThrottle bounds global send rate across all delivery tasks; the
// chat platform accepts at most ~20 messages per second per bot.
type BroadcastThrottle interface {
	Wait(ctx context.Context) error
}

// BroadcastUseCase runs admin fan-outs: cohort resolution, rate-limited
// per-recipient delivery, atomic progress counters and completion detection.
type BroadcastUseCase interface {
	Create(ctx context.Context, adminID string, ct model.BroadcastContentType, text, mediaFileID string, button *model.BroadcastButton, filter model.BroadcastFilter) (*model.Broadcast, error)
	Start(ctx context.Context, broadcastID string) (int, error)
	Cancel(ctx context.Context, broadcastID string) error
	Get(ctx context.Context, broadcastID string) (*model.Broadcast, error)
	List(ctx context.Context, limit int) ([]*model.Broadcast, error)
}

type broadcastUC struct {
	broadcasts repository.BroadcastRepository
	users      repository.UserRepository
	bot        adapter.TelegramBotAdapter
	workerPool *worker.Pool
	throttle   BroadcastThrottle
	log        *zerolog.Logger
}

func NewBroadcastUseCase(
	broadcasts repository.BroadcastRepository,
	users repository.UserRepository,
	bot adapter.TelegramBotAdapter,
	pool *worker.Pool,
	throttle BroadcastThrottle,
	logger *zerolog.Logger,
) BroadcastUseCase {
	l := logger.With().Str("component", "BroadcastUC").Logger()
	return &broadcastUC{
		broadcasts: broadcasts,
		users:      users,
		bot:        bot,
		workerPool: pool,
		throttle:   throttle,
		log:        &l,
	}
}

func (uc *broadcastUC) Create(ctx context.Context, adminID string, ct model.BroadcastContentType, text, mediaFileID string, button *model.BroadcastButton, filter model.BroadcastFilter) (*model.Broadcast, error) {
	b, err := model.NewBroadcast(adminID, ct, text, mediaFileID, button, filter)
	if err != nil {
		return nil, err
	}
	// The size recorded at create time is informational; the cohort itself is
	// re-resolved when the broadcast starts.
	total, err := uc.users.CountCohort(ctx, repository.NoTX, filter, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve cohort size: %w", err)
	}
	b.TotalUsers = total
	if err := uc.broadcasts.Save(ctx, repository.NoTX, b); err != nil {
		return nil, err
	}
	uc.log.Info().Str("broadcast_id", b.ID).Str("filter", string(filter)).Int("total", total).Msg("broadcast created")
	return b, nil
}

func (uc *broadcastUC) Start(ctx context.Context, broadcastID string) (int, error) {
	b, err := uc.broadcasts.FindByID(ctx, repository.NoTX, broadcastID)
	if err != nil {
		return 0, err
	}
	if b.Status != model.BroadcastStatusPending {
		return 0, domain.ErrBroadcastNotPending
	}

	// Snapshot the cohort now, not at create time.
	members, err := uc.users.ResolveCohort(ctx, repository.NoTX, b.Filter, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("resolve cohort: %w", err)
	}
	now := time.Now().UTC()
	b.Status = model.BroadcastStatusRunning
	b.StartedAt = &now
	b.TotalUsers = len(members)
	if err := uc.broadcasts.Save(ctx, repository.NoTX, b); err != nil {
		return 0, err
	}
	metrics.IncBroadcastStarted()

	// Fan-out outlives the start request, so it runs on its own context;
	// pool shutdown still unblocks it.
	go uc.enqueueAll(context.Background(), b, members)
	return len(members), nil
}

// enqueueAll feeds one delivery task per recipient through the throttle.
// A saturated queue blocks here instead of dropping recipients; the loop
// bails out when the context is cancelled or the pool stops.
func (uc *broadcastUC) enqueueAll(ctx context.Context, b *model.Broadcast, members []model.CohortMember) {
	uc.log.Info().Str("broadcast_id", b.ID).Int("recipients", len(members)).Msg("broadcast fan-out starting")
	for _, m := range members {
		if err := uc.throttle.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				uc.log.Warn().Err(ctx.Err()).Str("broadcast_id", b.ID).Msg("broadcast fan-out aborted")
				return
			}
			uc.log.Warn().Err(err).Msg("broadcast throttle wait failed")
		}
		member := m
		task := func(ctx context.Context) error {
			uc.deliverOne(ctx, b.ID, member)
			return nil
		}
		if err := uc.workerPool.SubmitWait(ctx, task); err != nil {
			uc.log.Warn().Err(err).Str("broadcast_id", b.ID).Msg("broadcast fan-out aborted")
			return
		}
	}
	uc.log.Info().Str("broadcast_id", b.ID).Msg("broadcast fan-out queued")
}

func (uc *broadcastUC) deliverOne(ctx context.Context, broadcastID string, member model.CohortMember) {
	// Pre-send re-check: cancellation is observed here.
	b, err := uc.broadcasts.FindByID(ctx, repository.NoTX, broadcastID)
	if err != nil {
		uc.log.Error().Err(err).Str("broadcast_id", broadcastID).Msg("deliver: reload failed")
		return
	}
	if b.Status != model.BroadcastStatusRunning {
		return
	}

	status := model.RecipientSent
	errMsg := ""
	if err := uc.send(ctx, b, member.TelegramID); err != nil {
		if adapter.IsBlocked(err) {
			status = model.RecipientBlocked
		} else {
			status = model.RecipientFailed
			errMsg = err.Error()
		}
	}

	if err := uc.broadcasts.IncrementCounter(ctx, repository.NoTX, b.ID, status); err != nil {
		uc.log.Error().Err(err).Str("broadcast_id", b.ID).Msg("counter increment failed")
	}
	rec := &model.BroadcastRecipient{
		ID:           uuid.NewString(),
		BroadcastID:  b.ID,
		UserID:       member.UserID,
		TelegramID:   member.TelegramID,
		Status:       status,
		ErrorMessage: errMsg,
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.broadcasts.SaveRecipient(ctx, repository.NoTX, rec); err != nil {
		uc.log.Error().Err(err).Str("broadcast_id", b.ID).Msg("recipient record failed")
	}
	metrics.IncBroadcastDelivery(string(status))

	uc.maybeComplete(ctx, b.ID)
}

func (uc *broadcastUC) send(ctx context.Context, b *model.Broadcast, telegramID int64) error {
	var btn *adapter.InlineButton
	if b.Button != nil {
		btn = &adapter.InlineButton{Text: b.Button.Text, URL: b.Button.URL}
	}
	if b.ContentType == model.BroadcastText {
		return uc.bot.SendMessageWithButton(ctx, telegramID, b.Text, btn)
	}
	return uc.bot.SendMedia(ctx, telegramID, b.ContentType, b.MediaFileID, b.Text, btn)
}

// maybeComplete re-reads the counters and flips a finished broadcast to
// completed. The flip is a conditional single-row update, so only one
// delivery task wins it and sends the admin summary.
func (uc *broadcastUC) maybeComplete(ctx context.Context, broadcastID string) {
	b, err := uc.broadcasts.FindByID(ctx, repository.NoTX, broadcastID)
	if err != nil || b.Status != model.BroadcastStatusRunning || !b.Done() {
		return
	}
	flipped, err := uc.broadcasts.MarkCompleted(ctx, repository.NoTX, b.ID)
	if err != nil {
		uc.log.Error().Err(err).Str("broadcast_id", b.ID).Msg("completion flip failed")
		return
	}
	if !flipped {
		return
	}
	metrics.IncBroadcastCompleted()
	uc.notifyAdmins(ctx, b)
}

func (uc *broadcastUC) notifyAdmins(ctx context.Context, b *model.Broadcast) {
	admins, err := uc.users.ListAdmins(ctx, repository.NoTX)
	if err != nil {
		uc.log.Error().Err(err).Msg("list admins for broadcast summary")
		return
	}
	text := fmt.Sprintf("📣 Broadcast finished.\nTotal: %d\nSent: %d\nFailed: %d\nBlocked: %d",
		b.TotalUsers, b.SentCount, b.FailedCount, b.BlockedCount)
	for _, a := range admins {
		if err := uc.bot.SendMessage(ctx, a.TelegramID, text); err != nil {
			uc.log.Warn().Err(err).Int64("tg_id", a.TelegramID).Msg("broadcast summary send failed")
		}
	}
}

func (uc *broadcastUC) Cancel(ctx context.Context, broadcastID string) error {
	b, err := uc.broadcasts.FindByID(ctx, repository.NoTX, broadcastID)
	if err != nil {
		return err
	}
	switch b.Status {
	case model.BroadcastStatusCompleted, model.BroadcastStatusCancelled:
		return nil // already terminal
	}
	now := time.Now().UTC()
	b.Status = model.BroadcastStatusCancelled
	b.CompletedAt = &now
	if err := uc.broadcasts.Save(ctx, repository.NoTX, b); err != nil {
		return err
	}
	uc.log.Info().Str("broadcast_id", b.ID).Msg("broadcast cancelled")
	return nil
}

func (uc *broadcastUC) Get(ctx context.Context, broadcastID string) (*model.Broadcast, error) {
	return uc.broadcasts.FindByID(ctx, repository.NoTX, broadcastID)
}

func (uc *broadcastUC) List(ctx context.Context, limit int) ([]*model.Broadcast, error) {
	if limit <= 0 {
		limit = 20
	}
	return uc.broadcasts.List(ctx, repository.NoTX, limit)
}
