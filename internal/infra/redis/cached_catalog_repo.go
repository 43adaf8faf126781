package redis

import (
	"context"

	"github.com/rs/zerolog"

	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

var _ repository.ModelCatalogRepository = (*CachedCatalogRepo)(nil)

// CachedCatalogRepo serves active-model reads through the Redis cache and
// falls back to the origin repository on miss. Writes go to the origin and
// invalidate the cache. Reads inside a transaction bypass the cache so the
// caller sees its own uncommitted writes.
type CachedCatalogRepo struct {
	origin repository.ModelCatalogRepository
	cache  *CatalogCache
	log    zerolog.Logger
}

func NewCachedCatalogRepo(origin repository.ModelCatalogRepository, cache *CatalogCache, log zerolog.Logger) *CachedCatalogRepo {
	return &CachedCatalogRepo{
		origin: origin,
		cache:  cache,
		log:    log.With().Str("component", "catalog-cache").Logger(),
	}
}

func (r *CachedCatalogRepo) listActiveCached(ctx context.Context, tx repository.Tx) ([]*model.Model, error) {
	if tx != repository.NoTX {
		return r.origin.ListActive(ctx, tx)
	}
	models, ok, err := r.cache.Get(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("catalog cache read failed")
	}
	if ok {
		return models, nil
	}
	models, err = r.origin.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, models); err != nil {
		r.log.Warn().Err(err).Msg("catalog cache write failed")
	}
	return models, nil
}

func (r *CachedCatalogRepo) Save(ctx context.Context, tx repository.Tx, m *model.Model) error {
	if err := r.origin.Save(ctx, tx, m); err != nil {
		return err
	}
	if err := r.cache.Invalidate(ctx); err != nil {
		r.log.Warn().Err(err).Msg("catalog cache invalidate failed")
	}
	return nil
}

func (r *CachedCatalogRepo) FindActiveByID(ctx context.Context, tx repository.Tx, id string) (*model.Model, error) {
	if tx == repository.NoTX {
		models, err := r.listActiveCached(ctx, tx)
		if err == nil {
			for _, m := range models {
				if m.ID == id {
					return m, nil
				}
			}
		}
	}
	return r.origin.FindActiveByID(ctx, tx, id)
}

func (r *CachedCatalogRepo) FindActiveByKey(ctx context.Context, tx repository.Tx, key string) (*model.Model, error) {
	if tx == repository.NoTX {
		models, err := r.listActiveCached(ctx, tx)
		if err == nil {
			for _, m := range models {
				if m.Key == key {
					return m, nil
				}
			}
		}
	}
	return r.origin.FindActiveByKey(ctx, tx, key)
}

func (r *CachedCatalogRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Model, error) {
	return r.listActiveCached(ctx, tx)
}

func (r *CachedCatalogRepo) LatestActivePrice(ctx context.Context, tx repository.Tx, modelID string) (*model.ModelPrice, error) {
	return r.origin.LatestActivePrice(ctx, tx, modelID)
}

func (r *CachedCatalogRepo) SavePrice(ctx context.Context, tx repository.Tx, p *model.ModelPrice) error {
	return r.origin.SavePrice(ctx, tx, p)
}
