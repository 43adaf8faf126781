package usecase

import (
	"fmt"

	"context"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
	"telegram-image-generation/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// LedgerUseCase owns the append-only credit ledger. Every posting is
// idempotent on (user, entry_type, reference_id): reposting the same triple
// is a no-op. That contract is what lets the poller, the reaper and admin
// refunds all attempt the same compensation without double-crediting.
type LedgerUseCase interface {
	Post(ctx context.Context, tx repository.Tx, userID string, amount int64, typ model.EntryType, referenceID, description string) (bool, error)
	Balance(ctx context.Context, tx repository.Tx, userID string) (int64, error)

	// CompensateFailure posts the refund for a charged request and rolls back
	// its trial consumption. Returns the refunded amount (0 when the request
	// was free or already refunded).
	CompensateFailure(ctx context.Context, tx repository.Tx, req *model.GenerationRequest) (int64, error)

	// RecordDeposit books a confirmed payment and, when the depositor was
	// referred, posts the referral bonus to the referrer.
	RecordDeposit(ctx context.Context, userID string, credits int64, referenceID string) error

	// AdminAdjust posts an admin_adjustment entry and reports balances before
	// and after.
	AdminAdjust(ctx context.Context, telegramID int64, amount int64, reason string) (*Adjustment, error)
}

type Adjustment struct {
	TelegramID int64
	Amount     int64
	OldBalance int64
	NewBalance int64
	Reason     string
}

type ledgerUC struct {
	entries  repository.LedgerRepository
	users    repository.UserRepository
	trials   repository.TrialUseRepository
	tm       repository.TransactionManager
	bonusPct int
	log      *zerolog.Logger
}

func NewLedgerUseCase(
	entries repository.LedgerRepository,
	users repository.UserRepository,
	trials repository.TrialUseRepository,
	tm repository.TransactionManager,
	referralBonusPct int,
	logger *zerolog.Logger,
) LedgerUseCase {
	l := logger.With().Str("component", "LedgerUC").Logger()
	return &ledgerUC{entries: entries, users: users, trials: trials, tm: tm, bonusPct: referralBonusPct, log: &l}
}

func (uc *ledgerUC) Post(ctx context.Context, tx repository.Tx, userID string, amount int64, typ model.EntryType, referenceID, description string) (bool, error) {
	e, err := model.NewLedgerEntry(uuid.NewString(), userID, amount, typ, referenceID, description)
	if err != nil {
		return false, err
	}
	inserted, err := uc.entries.Insert(ctx, tx, e)
	if err != nil {
		return false, fmt.Errorf("ledger post: %w", err)
	}
	if inserted {
		metrics.IncLedgerEntry(string(typ))
	} else {
		uc.log.Debug().Str("user_id", userID).Str("type", string(typ)).Str("ref", referenceID).Msg("duplicate posting skipped")
	}
	return inserted, nil
}

func (uc *ledgerUC) Balance(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	return uc.entries.Balance(ctx, tx, userID)
}

func (uc *ledgerUC) CompensateFailure(ctx context.Context, tx repository.Tx, req *model.GenerationRequest) (int64, error) {
	var refunded int64
	if req.Cost > 0 {
		inserted, err := uc.Post(ctx, tx, req.UserID, req.Cost, model.EntryGenerationRefund, model.RefundReference(req.ID), "refund for failed generation")
		if err != nil {
			return 0, err
		}
		if inserted {
			refunded = req.Cost
		}
	}
	// Trial rollback: the user gets their one free generation back.
	if err := uc.trials.DeleteByRequest(ctx, tx, req.ID); err != nil && err != domain.ErrNotFound {
		return refunded, fmt.Errorf("trial rollback: %w", err)
	}
	return refunded, nil
}

func (uc *ledgerUC) RecordDeposit(ctx context.Context, userID string, credits int64, referenceID string) error {
	if credits <= 0 {
		return domain.ErrInvalidArgument
	}
	return uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		inserted, err := uc.Post(ctx, tx, userID, credits, model.EntryDeposit, referenceID, "deposit")
		if err != nil {
			return err
		}
		if !inserted {
			return nil // replayed webhook; bonus was already handled too
		}
		u, err := uc.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if u.ReferrerID == nil {
			return nil
		}
		bonus := credits * int64(uc.bonusPct) / 100
		if bonus <= 0 {
			return nil
		}
		// Idempotent per depositor: one bonus per referred user's telegram id.
		_, err = uc.Post(ctx, tx, *u.ReferrerID, bonus, model.EntryReferralBonus, fmt.Sprintf("%d", u.TelegramID), "referral bonus")
		return err
	})
}

func (uc *ledgerUC) AdminAdjust(ctx context.Context, telegramID int64, amount int64, reason string) (*Adjustment, error) {
	if amount == 0 {
		return nil, domain.ErrInvalidArgument
	}
	var out *Adjustment
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		u, err := uc.users.FindByTelegramID(ctx, tx, telegramID)
		if err != nil {
			return err
		}
		old, err := uc.entries.Balance(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		ref := uuid.NewString()
		if _, err := uc.Post(ctx, tx, u.ID, amount, model.EntryAdminAdjustment, ref, reason); err != nil {
			return err
		}
		out = &Adjustment{
			TelegramID: telegramID,
			Amount:     amount,
			OldBalance: old,
			NewBalance: old + amount,
			Reason:     reason,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Info().Int64("tg_id", telegramID).Int64("amount", amount).Msg("admin adjustment posted")
	return out, nil
}
