// Package connector fetches row-sets from upstream SaaS APIs. The
// orchestrator owns the cache / rate-limit / retry pipeline; concrete
// connectors only implement the actual fetch.
package connector

import (
	"context"
	"fmt"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
)

// QueryContext carries the per-node fetch parameters: the canonical
// fetch key and any server-side pushdown filters.
type QueryContext struct {
	FetchKey string
	Filters  map[string]interface{}
}

// Connector is a single upstream source. FetchData performs one
// complete fetch (including pagination) and returns normalized rows.
// HTTP failures must surface as *HTTPError so the orchestrator can
// classify them for retry.
type Connector interface {
	ID() string
	Config() *models.ConnectorConfig
	FetchData(ctx context.Context, qc QueryContext) ([]models.Row, error)
}

// RateLimiter is the distributed token bucket consulted before every
// live fetch.
type RateLimiter interface {
	Consume(ctx context.Context, tenantID, connectorID string, capacity int, refillRate float64, amount int) (bool, int, error)
	Status(ctx context.Context, tenantID, connectorID string, capacity int) (models.RateLimitStatus, error)
}

// RowCache is the distributed row-set cache consulted before the rate
// limiter and written back after successful fetches.
type RowCache interface {
	Get(ctx context.Context, tenantID, connectorID string, maxStalenessMS int64, filters map[string]interface{}) ([]models.Row, int64, bool, error)
	Put(ctx context.Context, tenantID, connectorID string, data []models.Row, ttlMS int64, filters map[string]interface{}, etag string) error
}

// HTTPError is an upstream HTTP failure carrying the status code the
// retry policy classifies on.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.StatusCode, e.URL)
}

// retryableStatuses are transient upstream failures worth retrying.
// Everything else is immediately fatal.
var retryableStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Retryable reports whether an upstream status code is transient.
func Retryable(status int) bool { return retryableStatuses[status] }
