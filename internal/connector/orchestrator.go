package connector

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

const (
	defaultMaxAttempts  = 3
	defaultBaseDelay    = 500 * time.Millisecond
	backoffMultiplier   = 2.0
	backoffJitterFactor = 0.1
)

// Orchestrator runs the fetch pipeline for a single node: cache lookup,
// rate-limit admission, stale fallback, retried live fetch, cache
// write-back.
type Orchestrator struct {
	limiter RateLimiter
	cache   RowCache
	logger  observability.Logger

	// Retry knobs, overridable in tests.
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
}

// NewOrchestrator wires the pipeline over a limiter and cache.
func NewOrchestrator(limiter RateLimiter, cache RowCache, logger observability.Logger) *Orchestrator {
	if logger == nil {
		logger = observability.NewLogger("connector.orchestrator")
	}
	return &Orchestrator{
		limiter:     limiter,
		cache:       cache,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		now:         time.Now,
	}
}

// GetData fetches rows for one connector, preferring cached data within
// the caller's staleness budget, falling back to stale cache when the
// rate limiter denies, and otherwise performing a retried live fetch.
//
// The returned FetchResult always carries the connector's current
// rate-limit status so callers can report remaining budget even on
// cache hits.
func (o *Orchestrator) GetData(ctx context.Context, conn Connector, tenantID string, qc QueryContext, maxStalenessMS int64) (*models.FetchResult, error) {
	cfg := conn.Config()

	if rows, ageMS, hit, err := o.cache.Get(ctx, tenantID, conn.ID(), maxStalenessMS, qc.Filters); err == nil && hit {
		status, _ := o.limiter.Status(ctx, tenantID, conn.ID(), cfg.RateLimitCapacity)
		observability.RecordFetch(conn.ID(), "hit")
		return &models.FetchResult{
			Data:        rows,
			FreshnessMS: ageMS,
			FromCache:   true,
			RateLimit:   status,
		}, nil
	} else if err != nil {
		o.logger.Warn("cache read failed, proceeding to live fetch", map[string]interface{}{
			"connector_id": conn.ID(),
			"error":        err.Error(),
		})
	}

	allowed, remaining, err := o.limiter.Consume(ctx, tenantID, conn.ID(), cfg.RateLimitCapacity, cfg.RateLimitRefillRate, 1)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInternal, err, "rate limiter unavailable").WithConnector(conn.ID())
	}
	if !allowed {
		return o.staleFallback(ctx, conn, tenantID, qc, remaining)
	}

	start := o.now()
	rows, err := o.fetchWithRetry(ctx, conn, qc)
	if err != nil {
		observability.RecordFetch(conn.ID(), "error")
		return nil, err
	}
	fetchMS := o.now().Sub(start).Milliseconds()
	observability.RecordFetch(conn.ID(), "fetched")

	// Write-back is best-effort: a cache outage never fails the query.
	if err := o.cache.Put(ctx, tenantID, conn.ID(), rows, cfg.FreshnessTTLMS, qc.Filters, ""); err != nil {
		o.logger.Warn("cache write-back failed", map[string]interface{}{
			"connector_id": conn.ID(),
			"error":        err.Error(),
		})
	}

	return &models.FetchResult{
		Data:        rows,
		FreshnessMS: fetchMS,
		FromCache:   false,
		RateLimit: models.RateLimitStatus{
			ConnectorID: conn.ID(),
			Remaining:   remaining,
			Capacity:    cfg.RateLimitCapacity,
		},
	}, nil
}

// staleFallback serves any cached entry regardless of age when the rate
// limiter denies a live fetch. The read is budget-free: stale data beats
// no data. No entry means the query fails with the rate-limit error.
func (o *Orchestrator) staleFallback(ctx context.Context, conn Connector, tenantID string, qc QueryContext, remaining int) (*models.FetchResult, error) {
	const anyAge = int64(1<<62 - 1)

	rows, ageMS, hit, err := o.cache.Get(ctx, tenantID, conn.ID(), anyAge, qc.Filters)
	if err != nil || !hit {
		return nil, qerrors.Newf(qerrors.KindRateLimitExhausted,
			"rate limit exhausted for connector %s and no cached data available", conn.ID()).
			WithConnector(conn.ID())
	}

	o.logger.Warn("rate limit exhausted, serving stale cache", map[string]interface{}{
		"connector_id": conn.ID(),
		"age_ms":       ageMS,
	})
	observability.RecordFetch(conn.ID(), "stale")
	return &models.FetchResult{
		Data:        rows,
		FreshnessMS: ageMS,
		FromCache:   true,
		Stale:       true,
		RateLimit: models.RateLimitStatus{
			ConnectorID: conn.ID(),
			Remaining:   remaining,
			Capacity:    conn.Config().RateLimitCapacity,
		},
	}, nil
}

// fetchWithRetry runs the connector fetch under exponential backoff.
// Transient upstream statuses retry up to maxAttempts total tries; any
// other failure aborts immediately as SOURCE_FATAL. Exhausted retries
// surface as SOURCE_TIMEOUT.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, conn Connector, qc QueryContext) ([]models.Row, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.baseDelay
	bo.RandomizationFactor = backoffJitterFactor
	bo.Multiplier = backoffMultiplier
	bo.MaxElapsedTime = 0

	var rows []models.Row
	attempt := 0
	op := func() error {
		attempt++
		var err error
		rows, err = conn.FetchData(ctx, qc)
		if err == nil {
			return nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !Retryable(httpErr.StatusCode) {
			return backoff.Permanent(err)
		}
		o.logger.Warn("fetch attempt failed", map[string]interface{}{
			"connector_id": conn.ID(),
			"attempt":      attempt,
			"error":        err.Error(),
		})
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.maxAttempts-1)), ctx))
	if err == nil {
		return rows, nil
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && !Retryable(httpErr.StatusCode) {
		return nil, qerrors.Wrap(qerrors.KindSourceFatal, err, "upstream rejected request").WithConnector(conn.ID())
	}
	return nil, qerrors.Wrap(qerrors.KindSourceTimeout, err, "upstream unavailable after retries").WithConnector(conn.ID())
}
