package cache

import (
	"context"
	"time"

	"nirmaan/backend/internal/domain"
)

// CatalogCache fronts product listings for the browse endpoints. The
// order and stock paths never read through it; they always hit the
// repository directly.
type CatalogCache interface {
	Get(ctx context.Context, key string) ([]domain.Product, bool, error)
	Set(ctx context.Context, key string, value []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
