package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

var (
	_ repository.GenerationReferenceRepository = (*PostgresReferenceRepo)(nil)
	_ repository.GenerationResultRepository    = (*PostgresResultRepo)(nil)
	_ repository.GenerationJobRepository       = (*PostgresJobRepo)(nil)
)

type PostgresReferenceRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresReferenceRepo(pool *pgxpool.Pool) *PostgresReferenceRepo {
	return &PostgresReferenceRepo{pool: pool}
}

func (r *PostgresReferenceRepo) Save(ctx context.Context, tx repository.Tx, ref *model.GenerationReference) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx,
		`INSERT INTO generation_references (id, request_id, url, file_id, created_at) VALUES ($1,$2,$3,$4,$5);`,
		ref.ID, ref.RequestID, ref.URL, ref.FileID, ref.CreatedAt)
	return err
}

func (r *PostgresReferenceRepo) ListByRequest(ctx context.Context, tx repository.Tx, requestID string) ([]*model.GenerationReference, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx,
		`SELECT id, request_id, url, file_id, created_at FROM generation_references WHERE request_id=$1 ORDER BY created_at;`,
		requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.GenerationReference
	for rows.Next() {
		var ref model.GenerationReference
		if err := rows.Scan(&ref.ID, &ref.RequestID, &ref.URL, &ref.FileID, &ref.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ref)
	}
	return out, rows.Err()
}

type PostgresResultRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresResultRepo(pool *pgxpool.Pool) *PostgresResultRepo {
	return &PostgresResultRepo{pool: pool}
}

// Save dedupes by (request_id, url); delivering the same output twice must
// not produce a second row.
func (r *PostgresResultRepo) Save(ctx context.Context, tx repository.Tx, res *model.GenerationResult) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, `
INSERT INTO generation_results (id, request_id, url, file_id, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (request_id, url) DO NOTHING;`,
		res.ID, res.RequestID, res.URL, res.FileID, res.CreatedAt)
	return err
}

func (r *PostgresResultRepo) ListByRequest(ctx context.Context, tx repository.Tx, requestID string) ([]*model.GenerationResult, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx,
		`SELECT id, request_id, url, file_id, created_at FROM generation_results WHERE request_id=$1 ORDER BY created_at;`,
		requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.GenerationResult
	for rows.Next() {
		var res model.GenerationResult
		if err := rows.Scan(&res.ID, &res.RequestID, &res.URL, &res.FileID, &res.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

type PostgresJobRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresJobRepo(pool *pgxpool.Pool) *PostgresJobRepo {
	return &PostgresJobRepo{pool: pool}
}

func (r *PostgresJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.GenerationJob) error {
	const q = `
INSERT INTO generation_jobs (id, request_id, provider, upstream_id, status, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  upstream_id=$4, status=$5, error_message=$6, updated_at=$8;
`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q, job.ID, job.RequestID, job.Provider, job.UpstreamID, string(job.Status), job.ErrorMessage, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *PostgresJobRepo) FindByRequest(ctx context.Context, tx repository.Tx, requestID string) (*model.GenerationJob, error) {
	row := pickRow(ctx, r.pool, tx,
		`SELECT id, request_id, provider, upstream_id, status, error_message, created_at, updated_at
FROM generation_jobs WHERE request_id=$1 ORDER BY created_at DESC LIMIT 1;`, requestID)
	var job model.GenerationJob
	var status string
	if err := row.Scan(&job.ID, &job.RequestID, &job.Provider, &job.UpstreamID, &status, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Status = model.JobStatus(status)
	return &job, nil
}
