package governance

import (
	"context"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
)

// AllowAll is the limiter used when Redis is unavailable (local dev
// without Docker). Every consume succeeds.
type AllowAll struct{}

// NewAllowAll returns a limiter that never denies.
func NewAllowAll() *AllowAll { return &AllowAll{} }

func (AllowAll) Consume(ctx context.Context, tenantID, connectorID string, capacity int, refillRate float64, amount int) (bool, int, error) {
	return true, capacity, nil
}

func (AllowAll) Status(ctx context.Context, tenantID, connectorID string, capacity int) (models.RateLimitStatus, error) {
	return models.RateLimitStatus{ConnectorID: connectorID, Remaining: capacity, Capacity: capacity}, nil
}
