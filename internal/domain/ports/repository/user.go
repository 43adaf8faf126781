package repository

import (
	"context"
	"time"

	"telegram-image-generation/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByTelegramID(ctx context.Context, tx Tx, tgID int64) (*model.User, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	FindByReferralCode(ctx context.Context, tx Tx, code string) (*model.User, error)
	CountUsers(ctx context.Context, tx Tx) (int, error)

	// ListAdmins returns all admin users, used for low-balance alerts and
	// broadcast completion summaries.
	ListAdmins(ctx context.Context, tx Tx) ([]*model.User, error)

	// ResolveCohort returns the telegram ids of non-banned users matching the
	// broadcast filter at call time.
	ResolveCohort(ctx context.Context, tx Tx, filter model.BroadcastFilter, now time.Time) ([]model.CohortMember, error)
	CountCohort(ctx context.Context, tx Tx, filter model.BroadcastFilter, now time.Time) (int, error)
}
