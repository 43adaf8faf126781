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

var _ repository.TrialUseRepository = (*PostgresTrialRepo)(nil)

// PostgresTrialRepo records one-time trial consumption. The UNIQUE (user_id)
// constraint makes Insert the atomic claim: whoever inserts the row owns the
// trial, everyone after gets inserted=false.
type PostgresTrialRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresTrialRepo(pool *pgxpool.Pool) *PostgresTrialRepo {
	return &PostgresTrialRepo{pool: pool}
}

func (r *PostgresTrialRepo) Insert(ctx context.Context, tx repository.Tx, t *model.TrialUse) (bool, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return false, err
	}
	tag, err := ex.Exec(ctx, `
INSERT INTO trial_uses (id, user_id, request_id, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id) DO NOTHING;`,
		t.ID, t.UserID, t.RequestID, t.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert trial use: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresTrialRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.TrialUse, error) {
	row := pickRow(ctx, r.pool, tx,
		`SELECT id, user_id, request_id, created_at FROM trial_uses WHERE user_id=$1;`, userID)
	var t model.TrialUse
	if err := row.Scan(&t.ID, &t.UserID, &t.RequestID, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// DeleteByRequest rolls the trial back when the generation it paid for fails,
// so the user can try again. Missing row reports ErrNotFound.
func (r *PostgresTrialRepo) DeleteByRequest(ctx context.Context, tx repository.Tx, requestID string) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	tag, err := ex.Exec(ctx, `DELETE FROM trial_uses WHERE request_id=$1;`, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
