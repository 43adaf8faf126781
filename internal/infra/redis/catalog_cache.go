package redis

import (
	"context"
	"encoding/json"
	"time"

	"telegram-image-generation/internal/domain/model"
)

const catalogKey = "models:active"

// CatalogCache keeps the active model list so every admission does not hit
// the models table. Soft state; loss degrades to origin queries.
type CatalogCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewCatalogCache(client RedisClient, ttl time.Duration) *CatalogCache {
	return &CatalogCache{client: client, ttl: ttl}
}

func (c *CatalogCache) Get(ctx context.Context) ([]*model.Model, bool, error) {
	s, err := c.client.Get(ctx, catalogKey)
	if err != nil {
		if IsNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var models []*model.Model
	if err := json.Unmarshal([]byte(s), &models); err != nil {
		return nil, false, nil
	}
	return models, true, nil
}

func (c *CatalogCache) Set(ctx context.Context, models []*model.Model) error {
	b, err := json.Marshal(models)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, catalogKey, b, c.ttl)
}

func (c *CatalogCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, catalogKey)
}
