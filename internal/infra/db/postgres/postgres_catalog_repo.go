package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

var _ repository.ModelCatalogRepository = (*PostgresCatalogRepo)(nil)

type PostgresCatalogRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCatalogRepo(pool *pgxpool.Pool) *PostgresCatalogRepo {
	return &PostgresCatalogRepo{pool: pool}
}

const modelColumns = `id, key, display_name, provider,
  cap_text_to_image, cap_image_to_image, cap_aspect_ratio, cap_size, cap_resolution, cap_quality, cap_reference,
  aspect_ratios, sizes, resolutions, qualities, is_active, created_at`

func (r *PostgresCatalogRepo) Save(ctx context.Context, tx repository.Tx, m *model.Model) error {
	const q = `
INSERT INTO models (
  id, key, display_name, provider,
  cap_text_to_image, cap_image_to_image, cap_aspect_ratio, cap_size, cap_resolution, cap_quality, cap_reference,
  aspect_ratios, sizes, resolutions, qualities, is_active, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
) ON CONFLICT (id) DO UPDATE SET
  display_name=$3, provider=$4,
  cap_text_to_image=$5, cap_image_to_image=$6, cap_aspect_ratio=$7, cap_size=$8, cap_resolution=$9, cap_quality=$10, cap_reference=$11,
  aspect_ratios=$12, sizes=$13, resolutions=$14, qualities=$15, is_active=$16;
`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, q,
		m.ID, m.Key, m.DisplayName, m.Provider,
		m.Caps.TextToImage, m.Caps.ImageToImage, m.Caps.AspectRatio, m.Caps.Size, m.Caps.Resolution, m.Caps.Quality, m.Caps.Reference,
		m.AspectRatios, m.Sizes, m.Resolutions, m.Qualities, m.IsActive, m.CreatedAt,
	)
	return err
}

func scanModel(row pgx.Row) (*model.Model, error) {
	var m model.Model
	if err := row.Scan(
		&m.ID, &m.Key, &m.DisplayName, &m.Provider,
		&m.Caps.TextToImage, &m.Caps.ImageToImage, &m.Caps.AspectRatio, &m.Caps.Size, &m.Caps.Resolution, &m.Caps.Quality, &m.Caps.Reference,
		&m.AspectRatios, &m.Sizes, &m.Resolutions, &m.Qualities, &m.IsActive, &m.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrModelNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PostgresCatalogRepo) FindActiveByID(ctx context.Context, tx repository.Tx, id string) (*model.Model, error) {
	return scanModel(pickRow(ctx, r.pool, tx, `SELECT `+modelColumns+` FROM models WHERE id=$1 AND is_active;`, id))
}

func (r *PostgresCatalogRepo) FindActiveByKey(ctx context.Context, tx repository.Tx, key string) (*model.Model, error) {
	return scanModel(pickRow(ctx, r.pool, tx, `SELECT `+modelColumns+` FROM models WHERE key=$1 AND is_active;`, key))
}

func (r *PostgresCatalogRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Model, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `SELECT `+modelColumns+` FROM models WHERE is_active ORDER BY key;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresCatalogRepo) LatestActivePrice(ctx context.Context, tx repository.Tx, modelID string) (*model.ModelPrice, error) {
	row := pickRow(ctx, r.pool, tx, `
SELECT id, model_id, credits, is_active, created_at
FROM model_prices WHERE model_id=$1 AND is_active
ORDER BY created_at DESC LIMIT 1;`, modelID)
	var p model.ModelPrice
	if err := row.Scan(&p.ID, &p.ModelID, &p.Credits, &p.IsActive, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPriceNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PostgresCatalogRepo) SavePrice(ctx context.Context, tx repository.Tx, p *model.ModelPrice) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = ex.Exec(ctx, `
INSERT INTO model_prices (id, model_id, credits, is_active, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET credits=$3, is_active=$4;`,
		p.ID, p.ModelID, p.Credits, p.IsActive, p.CreatedAt)
	return err
}
