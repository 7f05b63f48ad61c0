package cache

import (
	"context"
	"errors"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
)

// Disabled is the cache used when Redis is unavailable. Every read
// misses and every write is dropped.
type Disabled struct{}

// NewDisabled returns a cache that stores nothing.
func NewDisabled() *Disabled { return &Disabled{} }

func (Disabled) Get(ctx context.Context, tenantID, connectorID string, maxStalenessMS int64, filters map[string]interface{}) ([]models.Row, int64, bool, error) {
	return nil, 0, false, nil
}

func (Disabled) Put(ctx context.Context, tenantID, connectorID string, data []models.Row, ttlMS int64, filters map[string]interface{}, etag string) error {
	return nil
}

func (Disabled) Invalidate(ctx context.Context, tenantID, connectorID string, filters map[string]interface{}) error {
	return nil
}

func (Disabled) Stats(ctx context.Context, tenantID string) (models.CacheStats, error) {
	return models.CacheStats{TenantID: tenantID}, nil
}

func (Disabled) Ping(ctx context.Context) error {
	return errors.New("cache disabled")
}
