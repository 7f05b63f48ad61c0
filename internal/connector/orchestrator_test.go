package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KrishnaKumarTiwari/omni-sql/internal/cache"
	"github.com/KrishnaKumarTiwari/omni-sql/internal/governance"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

// fakeConnector returns queued responses and counts fetch attempts.
type fakeConnector struct {
	cfg      *models.ConnectorConfig
	rows     []models.Row
	errs     []error
	attempts int
}

func (f *fakeConnector) ID() string                      { return f.cfg.ConnectorID }
func (f *fakeConnector) Config() *models.ConnectorConfig { return f.cfg }

func (f *fakeConnector) FetchData(ctx context.Context, qc QueryContext) ([]models.Row, error) {
	f.attempts++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.rows, nil
}

func testConnectorConfig(capacity int, refill float64) *models.ConnectorConfig {
	return &models.ConnectorConfig{
		ConnectorID:         "github",
		BaseURL:             "mock",
		RateLimitCapacity:   capacity,
		RateLimitRefillRate: refill,
		FreshnessTTLMS:      60_000,
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *governance.RateLimiter, *cache.RowCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := governance.NewRateLimiter(rdb, observability.NewNoopLogger())
	rowCache := cache.NewRowCache(rdb, observability.NewNoopLogger())
	o := NewOrchestrator(limiter, rowCache, observability.NewNoopLogger())
	o.baseDelay = time.Millisecond
	return o, limiter, rowCache
}

func TestGetDataLiveFetchAndWriteBack(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	conn := &fakeConnector{
		cfg:  testConnectorConfig(5, 1.0),
		rows: []models.Row{{"pr_id": "PR-001"}},
	}

	res, err := o.GetData(context.Background(), conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.False(t, res.Stale)
	assert.Len(t, res.Data, 1)
	assert.Equal(t, 4, res.RateLimit.Remaining)
	assert.Equal(t, 1, conn.attempts)

	// Second call within the staleness budget is served from cache and
	// consumes no token.
	res, err = o.GetData(context.Background(), conn, "acme", QueryContext{FetchKey: "all_prs"}, 60_000)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Len(t, res.Data, 1)
	assert.Equal(t, 1, conn.attempts)
	assert.Equal(t, 4, res.RateLimit.Remaining)
}

func TestGetDataLiveOnlyBypassesCache(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	conn := &fakeConnector{
		cfg:  testConnectorConfig(5, 1.0),
		rows: []models.Row{{"pr_id": "PR-001"}},
	}

	ctx := context.Background()
	_, err := o.GetData(ctx, conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.NoError(t, err)
	_, err = o.GetData(ctx, conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, conn.attempts)
}

func TestGetDataStaleFallbackOnDenial(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	// Capacity 1 with negligible refill: the second live fetch is denied.
	conn := &fakeConnector{
		cfg:  testConnectorConfig(1, 0.0001),
		rows: []models.Row{{"pr_id": "PR-001"}},
	}

	ctx := context.Background()
	res, err := o.GetData(ctx, conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.NoError(t, err)
	require.False(t, res.FromCache)

	// Live-only request, but the bucket is empty: any cached entry is
	// better than failing.
	res, err = o.GetData(ctx, conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.True(t, res.Stale)
	assert.Len(t, res.Data, 1)
	assert.Equal(t, 1, conn.attempts)
}

func TestGetDataRateLimitExhaustedWithoutCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := governance.NewRateLimiter(rdb, observability.NewNoopLogger())
	o := NewOrchestrator(limiter, cache.NewDisabled(), observability.NewNoopLogger())
	o.baseDelay = time.Millisecond

	conn := &fakeConnector{cfg: testConnectorConfig(1, 0.0001), rows: []models.Row{{"pr_id": "PR-001"}}}
	ctx := context.Background()
	_, err := o.GetData(ctx, conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.NoError(t, err)

	_, err = o.GetData(ctx, conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.Error(t, err)
	assert.Equal(t, qerrors.KindRateLimitExhausted, qerrors.KindOf(err))
	assert.Equal(t, "github", qerrors.ConnectorOf(err))
}

func TestGetDataNonRetryableStatusFailsFast(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	conn := &fakeConnector{
		cfg:  testConnectorConfig(5, 1.0),
		errs: []error{&HTTPError{StatusCode: 404, URL: "http://upstream"}},
	}

	_, err := o.GetData(context.Background(), conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.Error(t, err)
	assert.Equal(t, qerrors.KindSourceFatal, qerrors.KindOf(err))
	assert.Equal(t, 1, conn.attempts)
}

func TestGetDataRetryableStatusExhaustsRetries(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	conn := &fakeConnector{
		cfg: testConnectorConfig(5, 1.0),
		errs: []error{
			&HTTPError{StatusCode: 503, URL: "http://upstream"},
			&HTTPError{StatusCode: 503, URL: "http://upstream"},
			&HTTPError{StatusCode: 503, URL: "http://upstream"},
		},
	}

	_, err := o.GetData(context.Background(), conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.Error(t, err)
	assert.Equal(t, qerrors.KindSourceTimeout, qerrors.KindOf(err))
	assert.Equal(t, 3, conn.attempts)
}

func TestGetDataRecoversWithinRetryBudget(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	conn := &fakeConnector{
		cfg:  testConnectorConfig(5, 1.0),
		errs: []error{&HTTPError{StatusCode: 500, URL: "http://upstream"}, nil},
		rows: []models.Row{{"pr_id": "PR-001"}},
	}

	res, err := o.GetData(context.Background(), conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.NoError(t, err)
	assert.Len(t, res.Data, 1)
	assert.Equal(t, 2, conn.attempts)
}

func TestGetDataNonHTTPErrorIsRetriedThenTimesOut(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	netErr := errors.New("connection reset")
	conn := &fakeConnector{
		cfg:  testConnectorConfig(5, 1.0),
		errs: []error{netErr, netErr, netErr},
	}

	_, err := o.GetData(context.Background(), conn, "acme", QueryContext{FetchKey: "all_prs"}, 0)
	require.Error(t, err)
	assert.Equal(t, qerrors.KindSourceTimeout, qerrors.KindOf(err))
	assert.Equal(t, 3, conn.attempts)
}

func TestGetDataFiltersScopeCacheEntries(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	conn := &fakeConnector{
		cfg:  testConnectorConfig(5, 1.0),
		rows: []models.Row{{"pr_id": "PR-001", "status": "open"}},
	}

	ctx := context.Background()
	_, err := o.GetData(ctx, conn, "acme", QueryContext{
		FetchKey: "all_prs",
		Filters:  map[string]interface{}{"status": "open"},
	}, 0)
	require.NoError(t, err)

	// A different filter set is a different cache entry.
	_, err = o.GetData(ctx, conn, "acme", QueryContext{
		FetchKey: "all_prs",
		Filters:  map[string]interface{}{"status": "merged"},
	}, 60_000)
	require.NoError(t, err)
	assert.Equal(t, 2, conn.attempts)
}
