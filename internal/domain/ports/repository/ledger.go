package repository

import (
	"context"

	"telegram-image-generation/internal/domain/model"
)

type LedgerRepository interface {
	// Insert appends one entry. When an entry with the same
	// (user_id, entry_type, reference_id) already exists, it reports
	// inserted=false and leaves the ledger untouched.
	Insert(ctx context.Context, tx Tx, e *model.LedgerEntry) (inserted bool, err error)

	// Balance sums all entry amounts for the user.
	Balance(ctx context.Context, tx Tx, userID string) (int64, error)

	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.LedgerEntry, error)
	FindByReference(ctx context.Context, tx Tx, userID string, typ model.EntryType, referenceID string) (*model.LedgerEntry, error)

	// SumByType totals issued credits per entry type across all users, for
	// the admin stats endpoint.
	SumByType(ctx context.Context, tx Tx, typ model.EntryType) (int64, error)
}
