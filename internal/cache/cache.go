package cache

import (
	"context"
	"time"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
)

// SaleCache fronts idempotency-key lookups so repeated submissions of the
// same sale do not hit the repository.
type SaleCache interface {
	Get(ctx context.Context, idempotencyKey string) (*domain.Sale, bool, error)
	Set(ctx context.Context, idempotencyKey string, sale *domain.Sale, ttl time.Duration) error
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ string) (*domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Set(_ context.Context, _ string, _ *domain.Sale, _ time.Duration) error {
	return nil
}
