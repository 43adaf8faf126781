package usecase

import (
	"context"
	"errors"
	"fmt"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
)

// DynamicPrice overrides the stored ModelPrice for a model key as a function
// of the request parameters. Empty fields match anything, so a row with only
// Resolution set prices all requests at that resolution.
type DynamicPrice struct {
	ModelKey   string
	Size       string
	Resolution string
	Quality    string
	Credits    int64
}

func (d DynamicPrice) matches(key string, p model.GenerationParams) bool {
	if d.ModelKey != key {
		return false
	}
	if d.Size != "" && d.Size != p.Size {
		return false
	}
	if d.Resolution != "" && d.Resolution != p.Resolution {
		return false
	}
	if d.Quality != "" && d.Quality != p.Quality {
		return false
	}
	return true
}

// DefaultDynamicPrices ships the known parameter-dependent tariffs. Rows are
// matched in order; first hit wins.
var DefaultDynamicPrices = []DynamicPrice{
	{ModelKey: "nano-banana-pro", Resolution: "1K", Credits: 100},
	{ModelKey: "nano-banana-pro", Resolution: "HD", Credits: 140},
	{ModelKey: "nano-banana-pro", Resolution: "2K", Credits: 180},
	{ModelKey: "nano-banana-pro", Resolution: "4K", Credits: 280},
	{ModelKey: "gpt-image-1.5", Quality: "low", Credits: 60},
	{ModelKey: "gpt-image-1.5", Quality: "medium", Credits: 120},
	{ModelKey: "gpt-image-1.5", Quality: "high", Credits: 250},
}

// Pricer resolves the integer credit cost of an admission: dynamic table
// first, stored price otherwise, plus a configured markup.
type Pricer interface {
	Price(ctx context.Context, tx repository.Tx, m *model.Model, p model.GenerationParams) (int64, error)
}

type pricer struct {
	catalog       repository.ModelCatalogRepository
	dynamic       []DynamicPrice
	markupPercent int
}

func NewPricer(catalog repository.ModelCatalogRepository, dynamic []DynamicPrice, markupPercent int) Pricer {
	if dynamic == nil {
		dynamic = DefaultDynamicPrices
	}
	return &pricer{catalog: catalog, dynamic: dynamic, markupPercent: markupPercent}
}

func (pr *pricer) Price(ctx context.Context, tx repository.Tx, m *model.Model, p model.GenerationParams) (int64, error) {
	base, ok := pr.dynamicPrice(m.Key, p)
	if !ok {
		stored, err := pr.catalog.LatestActivePrice(ctx, tx, m.ID)
		if err != nil {
			if errors.Is(err, domain.ErrPriceNotFound) || errors.Is(err, domain.ErrNotFound) {
				return 0, fmt.Errorf("%w: %s", domain.ErrPriceNotFound, m.Key)
			}
			return 0, err
		}
		base = stored.Credits
	}
	if pr.markupPercent > 0 {
		base += base * int64(pr.markupPercent) / 100
	}
	if base <= 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrPriceNotFound, m.Key)
	}
	return base, nil
}

func (pr *pricer) dynamicPrice(key string, p model.GenerationParams) (int64, bool) {
	for _, d := range pr.dynamic {
		if d.matches(key, p) {
			return d.Credits, true
		}
	}
	return 0, false
}
