package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

var _ repository.GenerationRequestRepository = (*PostgresGenerationRepo)(nil)

type PostgresGenerationRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresGenerationRepo(pool *pgxpool.Pool) *PostgresGenerationRepo {
	return &PostgresGenerationRepo{pool: pool}
}

const requestColumns = `id, public_id, user_id, model_id, model_key, prompt,
  size, aspect_ratio, resolution, quality, input_fidelity, language,
  chat_id, message_id, prompt_message_id,
  reference_count, cost, status, error_message, created_at, started_at, completed_at`

func (r *PostgresGenerationRepo) Save(ctx context.Context, tx repository.Tx, req *model.GenerationRequest) error {
	const q = `
INSERT INTO generation_requests (
  id, public_id, user_id, model_id, model_key, prompt,
  size, aspect_ratio, resolution, quality, input_fidelity, language,
  chat_id, message_id, prompt_message_id,
  reference_count, cost, status, error_message, created_at, started_at, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
) ON CONFLICT (id) DO UPDATE SET
  cost=$17, status=$18, error_message=$19, started_at=$21, completed_at=$22;
`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q,
		req.ID, req.PublicID, req.UserID, req.ModelID, req.ModelKey, req.Prompt,
		req.Params.Size, req.Params.AspectRatio, req.Params.Resolution, req.Params.Quality, req.Params.InputFidelity, req.Params.Language,
		req.Chat.ChatID, req.Chat.MessageID, req.Chat.PromptMessageID,
		req.ReferenceCount, req.Cost, string(req.Status), req.ErrorMessage, req.CreatedAt, req.StartedAt, req.CompletedAt,
	)
	return err
}

func scanRequest(row pgx.Row) (*model.GenerationRequest, error) {
	var req model.GenerationRequest
	var status string
	if err := row.Scan(
		&req.ID, &req.PublicID, &req.UserID, &req.ModelID, &req.ModelKey, &req.Prompt,
		&req.Params.Size, &req.Params.AspectRatio, &req.Params.Resolution, &req.Params.Quality, &req.Params.InputFidelity, &req.Params.Language,
		&req.Chat.ChatID, &req.Chat.MessageID, &req.Chat.PromptMessageID,
		&req.ReferenceCount, &req.Cost, &status, &req.ErrorMessage, &req.CreatedAt, &req.StartedAt, &req.CompletedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	req.Status = model.RequestStatus(status)
	return &req, nil
}

func (r *PostgresGenerationRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.GenerationRequest, error) {
	return scanRequest(pickRow(ctx, r.pool, tx, `SELECT `+requestColumns+` FROM generation_requests WHERE id=$1;`, id))
}

func activeStatusList() []string {
	out := make([]string, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

func (r *PostgresGenerationRepo) CountActiveByUser(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	row := pickRow(ctx, r.pool, tx,
		`SELECT COUNT(*) FROM generation_requests WHERE user_id=$1 AND status = ANY($2);`,
		userID, activeStatusList())
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return n, nil
}

func (r *PostgresGenerationRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.GenerationRequest, error) {
	return scanRequest(pickRow(ctx, r.pool, tx,
		`SELECT `+requestColumns+` FROM generation_requests WHERE user_id=$1 AND status = ANY($2) ORDER BY created_at DESC LIMIT 1;`,
		userID, activeStatusList()))
}

func (r *PostgresGenerationRepo) FindStuck(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.GenerationRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx,
		`SELECT `+requestColumns+` FROM generation_requests WHERE status = ANY($1) AND created_at < $2 ORDER BY created_at LIMIT $3;`,
		activeStatusList(), olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.GenerationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *PostgresGenerationRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.RequestStatus]int, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `SELECT status, COUNT(*) FROM generation_requests GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.RequestStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.RequestStatus(status)] = n
	}
	return out, rows.Err()
}
