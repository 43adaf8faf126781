package repository

import (
	"context"

	"telegram-image-generation/internal/domain/model"
)

type ModelCatalogRepository interface {
	Save(ctx context.Context, tx Tx, m *model.Model) error
	FindActiveByID(ctx context.Context, tx Tx, id string) (*model.Model, error)
	FindActiveByKey(ctx context.Context, tx Tx, key string) (*model.Model, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.Model, error)

	// LatestActivePrice returns the newest active stored price for the model.
	LatestActivePrice(ctx context.Context, tx Tx, modelID string) (*model.ModelPrice, error)
	SavePrice(ctx context.Context, tx Tx, p *model.ModelPrice) error
}
