package governance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRateLimiter(rdb, observability.NewNoopLogger()), mr
}

func TestConsumeDrainsBucket(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		allowed, remaining, err := limiter.Consume(ctx, "acme", "github", 5, 1.0, 1)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 4-i, remaining)
	}

	allowed, remaining, err := limiter.Consume(ctx, "acme", "github", 5, 1.0, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestConsumeRefillsOverTime(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }

	// Drain the bucket.
	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Consume(ctx, "acme", "jira", 3, 2.0, 1)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, _, err := limiter.Consume(ctx, "acme", "jira", 3, 2.0, 1)
	require.NoError(t, err)
	require.False(t, allowed)

	// One second at 2 tokens/s refills two tokens.
	limiter.now = func() time.Time { return base.Add(time.Second) }
	allowed, remaining, err := limiter.Consume(ctx, "acme", "jira", 3, 2.0, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
}

func TestConsumeNeverExceedsCapacity(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }
	_, _, err := limiter.Consume(ctx, "acme", "linear", 10, 5.0, 1)
	require.NoError(t, err)

	// A long idle period refills to capacity, not beyond.
	limiter.now = func() time.Time { return base.Add(time.Hour) }
	allowed, remaining, err := limiter.Consume(ctx, "acme", "linear", 10, 5.0, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 9, remaining)
}

func TestBucketsAreScopedByTenantAndConnector(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }

	allowed, _, err := limiter.Consume(ctx, "acme", "github", 1, 0.1, 1)
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _, err = limiter.Consume(ctx, "acme", "github", 1, 0.1, 1)
	require.NoError(t, err)
	require.False(t, allowed)

	// Other tenant and other connector buckets are untouched.
	allowed, _, err = limiter.Consume(ctx, "globex", "github", 1, 0.1, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, err = limiter.Consume(ctx, "acme", "jira", 1, 0.1, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestBucketKeyAndTTL(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }
	_, _, err := limiter.Consume(ctx, "acme", "github", 50, 10.0, 1)
	require.NoError(t, err)

	key := "ratelimit:acme:github"
	require.True(t, mr.Exists(key))
	// TTL = ceil(2 * capacity / refill) = 10s.
	assert.Equal(t, 10*time.Second, mr.TTL(key))
}

func TestStatusDoesNotConsume(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	limiter.now = func() time.Time { return base }

	// Unknown bucket reports a full budget.
	status, err := limiter.Status(ctx, "acme", "github", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, status.Remaining)
	assert.Equal(t, 50, status.Capacity)

	_, _, err = limiter.Consume(ctx, "acme", "github", 50, 10.0, 1)
	require.NoError(t, err)

	status, err = limiter.Status(ctx, "acme", "github", 50)
	require.NoError(t, err)
	assert.Equal(t, 49, status.Remaining)

	// Reading again does not change the bucket.
	status, err = limiter.Status(ctx, "acme", "github", 50)
	require.NoError(t, err)
	assert.Equal(t, 49, status.Remaining)
}

func TestAllowAllNeverDenies(t *testing.T) {
	limiter := NewAllowAll()
	allowed, remaining, err := limiter.Consume(context.Background(), "acme", "github", 5, 1.0, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 5, remaining)
}
