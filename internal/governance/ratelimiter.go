// Package governance enforces fleet-wide API budgets with a
// Redis-backed token bucket per (tenant, connector).
package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

const keyPrefix = "ratelimit"

// Refill and consume execute as one Redis command so concurrent callers
// across the fleet cannot race between the read and the write.
//
// KEYS[1] = ratelimit:{tenant}:{connector}
// ARGV[1] = capacity (int)
// ARGV[2] = refill rate (tokens/second)
// ARGV[3] = tokens requested
// ARGV[4] = now (unix seconds, fractional)
//
// Returns {allowed (0|1), remaining (int)}.
var consumeScript = redis.NewScript(`
local key          = KEYS[1]
local capacity     = tonumber(ARGV[1])
local refill_rate  = tonumber(ARGV[2])
local requested    = tonumber(ARGV[3])
local now          = tonumber(ARGV[4])

local data        = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens      = tonumber(data[1]) or capacity
local last_refill = tonumber(data[2]) or now

local delta   = math.max(0, now - last_refill)
local new_tok = math.min(capacity, tokens + delta * refill_rate)

local allowed = 0
if new_tok >= requested then
    new_tok = new_tok - requested
    allowed = 1
end

local ttl = math.ceil((capacity / refill_rate) * 2)
redis.call('HSET', key, 'tokens', tostring(new_tok), 'last_refill', tostring(now))
redis.call('EXPIRE', key, ttl)

return {allowed, math.floor(new_tok)}
`)

// RateLimiter is the distributed token bucket. All gateway instances
// share the same Redis keys, so the budget holds across the fleet. The
// bucket TTL of 2*capacity/refill seconds lets idle buckets evict while
// active ones never expire mid-flight.
type RateLimiter struct {
	rdb    redis.UniversalClient
	logger observability.Logger
	now    func() time.Time
}

// NewRateLimiter creates a limiter over the given Redis client.
func NewRateLimiter(rdb redis.UniversalClient, logger observability.Logger) *RateLimiter {
	if logger == nil {
		logger = observability.NewLogger("governance.ratelimit")
	}
	return &RateLimiter{rdb: rdb, logger: logger, now: time.Now}
}

func bucketKey(tenantID, connectorID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, tenantID, connectorID)
}

// Consume attempts to take amount tokens from the bucket, refilling it
// for elapsed time first. Atomic at the store. Returns whether the
// tokens were granted and the remaining whole tokens.
func (l *RateLimiter) Consume(ctx context.Context, tenantID, connectorID string, capacity int, refillRate float64, amount int) (bool, int, error) {
	now := float64(l.now().UnixNano()) / float64(time.Second)
	res, err := consumeScript.Run(ctx, l.rdb,
		[]string{bucketKey(tenantID, connectorID)},
		capacity, refillRate, amount, now,
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limiter consume: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, 0, fmt.Errorf("rate limiter consume: unexpected reply %v", res)
	}
	allowed := toInt64(reply[0]) == 1
	remaining := int(toInt64(reply[1]))

	if !allowed {
		observability.RecordRateLimitDenial(tenantID, connectorID)
		l.logger.Warn("rate limit hit", map[string]interface{}{
			"tenant_id":    tenantID,
			"connector_id": connectorID,
			"remaining":    remaining,
		})
	}
	return allowed, remaining, nil
}

// Status reads the bucket without consuming. The value may be slightly
// stale; it is only used for response metadata.
func (l *RateLimiter) Status(ctx context.Context, tenantID, connectorID string, capacity int) (models.RateLimitStatus, error) {
	status := models.RateLimitStatus{ConnectorID: connectorID, Capacity: capacity, Remaining: capacity}

	raw, err := l.rdb.HGet(ctx, bucketKey(tenantID, connectorID), "tokens").Result()
	if err == redis.Nil {
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("rate limiter status: %w", err)
	}

	var tokens float64
	if _, err := fmt.Sscanf(raw, "%g", &tokens); err == nil {
		status.Remaining = int(tokens)
	}
	return status, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		var out int64
		_, _ = fmt.Sscanf(n, "%d", &out)
		return out
	default:
		return 0
	}
}
