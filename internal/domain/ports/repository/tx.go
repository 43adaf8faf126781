package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager provides a thin abstraction to execute a function within a
// database transaction, passing the underlying transaction handle via `tx`.
//
// Use-case interfaces stay clean (no driver types leaking out); repositories
// accept `tx Tx` and detect the handle implementation-side. The concrete type
// is infra-defined (pgx.Tx for Postgres) and repositories must gracefully
// accept nil for the non-transactional path.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error

	// LockUser takes the cluster-wide per-user advisory lock inside the given
	// transaction. It is released automatically at transaction end, which is
	// what serializes admission for one user across the whole process set.
	LockUser(ctx context.Context, tx Tx, telegramID int64) error
}
