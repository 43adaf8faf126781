package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

var _ repository.LedgerRepository = (*PostgresLedgerRepo)(nil)

// PostgresLedgerRepo is the append-only credit ledger. Idempotency of
// postings rides on the UNIQUE (user_id, entry_type, reference_id)
// constraint: duplicates insert zero rows instead of erroring.
type PostgresLedgerRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresLedgerRepo(pool *pgxpool.Pool) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{pool: pool}
}

func (r *PostgresLedgerRepo) Insert(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) (bool, error) {
	const q = `
INSERT INTO ledger_entries (id, user_id, amount, entry_type, reference_id, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id, entry_type, reference_id) DO NOTHING;
`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return false, err
	}
	tag, err := ex.Exec(ctx, q, e.ID, e.UserID, e.Amount, string(e.EntryType), e.ReferenceID, e.Description, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresLedgerRepo) Balance(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	row := pickRow(ctx, r.pool, tx, `SELECT COALESCE(SUM(amount),0) FROM ledger_entries WHERE user_id=$1;`, userID)
	var bal int64
	if err := row.Scan(&bal); err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return bal, nil
}

const ledgerColumns = `id, user_id, amount, entry_type, reference_id, description, created_at`

func (r *PostgresLedgerRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresLedgerRepo) FindByReference(ctx context.Context, tx repository.Tx, userID string, typ model.EntryType, referenceID string) (*model.LedgerEntry, error) {
	row := pickRow(ctx, r.pool, tx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE user_id=$1 AND entry_type=$2 AND reference_id=$3;`,
		userID, string(typ), referenceID)
	e, err := scanLedgerEntry(row)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *PostgresLedgerRepo) SumByType(ctx context.Context, tx repository.Tx, typ model.EntryType) (int64, error) {
	row := pickRow(ctx, r.pool, tx, `SELECT COALESCE(SUM(amount),0) FROM ledger_entries WHERE entry_type=$1;`, string(typ))
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum by type: %w", err)
	}
	return sum, nil
}

func scanLedgerEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var typ string
	if err := row.Scan(&e.ID, &e.UserID, &e.Amount, &typ, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	e.EntryType = model.EntryType(typ)
	return &e, nil
}
