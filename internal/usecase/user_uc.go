package usecase

import (
	"context"
	"fmt"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// UserUseCase materializes users on first contact and resolves referrals.
type UserUseCase interface {
	// Materialize locates or creates the user for a Telegram id and bumps
	// last_active_at. Callers holding the per-user advisory lock pass their tx.
	Materialize(ctx context.Context, tx repository.Tx, telegramID int64, username string) (*model.User, error)

	// AttachReferrer links a fresh user to the owner of a referral code.
	// It is a no-op when the user already has a referrer or the code is their own.
	AttachReferrer(ctx context.Context, tx repository.Tx, user *model.User, code string) error

	FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
}

type userUC struct {
	users repository.UserRepository
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, logger *zerolog.Logger) UserUseCase {
	l := logger.With().Str("component", "UserUC").Logger()
	return &userUC{users: users, log: &l}
}

func (uc *userUC) Materialize(ctx context.Context, tx repository.Tx, telegramID int64, username string) (*model.User, error) {
	u, err := uc.users.FindByTelegramID(ctx, tx, telegramID)
	if err == nil {
		u.Touch()
		if username != "" && username != u.Username {
			u.Username = username
		}
		if err := uc.users.Save(ctx, tx, u); err != nil {
			return nil, fmt.Errorf("touch user: %w", err)
		}
		return u, nil
	}
	if err != domain.ErrNotFound {
		return nil, err
	}
	u, err = model.NewUser("", telegramID, username)
	if err != nil {
		return nil, err
	}
	if err := uc.users.Save(ctx, tx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	uc.log.Info().Int64("tg_id", telegramID).Str("user_id", u.ID).Msg("user materialized")
	return u, nil
}

func (uc *userUC) AttachReferrer(ctx context.Context, tx repository.Tx, user *model.User, code string) error {
	if code == "" || user.ReferrerID != nil || code == user.ReferralCode {
		return nil
	}
	ref, err := uc.users.FindByReferralCode(ctx, tx, code)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil // unknown codes are ignored, not an error
		}
		return err
	}
	if ref.ID == user.ID {
		return nil
	}
	user.ReferrerID = &ref.ID
	return uc.users.Save(ctx, tx, user)
}

func (uc *userUC) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return uc.users.FindByTelegramID(ctx, repository.NoTX, telegramID)
}
