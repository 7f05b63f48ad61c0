// Package cache is the distributed TTL cache for fetched row-sets.
// Entries are scoped by tenant at the key level so cross-tenant reads
// are impossible by construction.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

const keyPrefix = "cache"

// entry is the stored value. FetchedAt is fractional unix seconds so
// the schema stays readable from other runtimes.
type entry struct {
	Data      []models.Row `json:"data"`
	FetchedAt float64      `json:"fetched_at"`
	Etag      string       `json:"etag,omitempty"`
}

// RowCache caches connector row-sets in Redis. The store TTL is the
// connector's hard freshness bound; Get additionally enforces the
// caller's soft bound against the stored fetch timestamp.
type RowCache struct {
	rdb    redis.UniversalClient
	logger observability.Logger
	now    func() time.Time
}

// NewRowCache creates a cache over the given Redis client.
func NewRowCache(rdb redis.UniversalClient, logger observability.Logger) *RowCache {
	if logger == nil {
		logger = observability.NewLogger("cache")
	}
	return &RowCache{rdb: rdb, logger: logger, now: time.Now}
}

// Fingerprint hashes the canonical form of a filter map: key-sorted
// pairs, JSON-encoded, md5, first 12 hex chars. Maps with the same
// pairs in any insertion order produce identical fingerprints.
func Fingerprint(filters map[string]interface{}) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]interface{}, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]interface{}{k, filters[k]})
	}
	canonical, _ := json.Marshal(pairs)
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])[:12]
}

func cacheKey(tenantID, connectorID string, filters map[string]interface{}) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, tenantID, connectorID, Fingerprint(filters))
}

// Get returns cached rows and their age when an entry exists and is
// within maxStalenessMS. maxStalenessMS == 0 is live-only mode and
// always misses. Undecodable entries are treated as misses.
func (c *RowCache) Get(ctx context.Context, tenantID, connectorID string, maxStalenessMS int64, filters map[string]interface{}) ([]models.Row, int64, bool, error) {
	if maxStalenessMS == 0 {
		return nil, 0, false, nil
	}

	key := cacheKey(tenantID, connectorID, filters)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("cache get: %w", err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("cache entry undecodable, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return nil, 0, false, nil
	}

	ageMS := int64(float64(c.now().UnixNano())/float64(time.Millisecond) - e.FetchedAt*1000)
	if ageMS < 0 {
		ageMS = 0
	}
	if ageMS > maxStalenessMS {
		return nil, 0, false, nil
	}

	c.logger.Debug("cache hit", map[string]interface{}{"key": key, "age_ms": ageMS})
	return e.Data, ageMS, true, nil
}

// Put stores rows with the connector's hard TTL. The store expiry is at
// least one second so very small TTLs still land.
func (c *RowCache) Put(ctx context.Context, tenantID, connectorID string, data []models.Row, ttlMS int64, filters map[string]interface{}, etag string) error {
	key := cacheKey(tenantID, connectorID, filters)
	e := entry{
		Data:      data,
		FetchedAt: float64(c.now().UnixNano()) / float64(time.Second),
		Etag:      etag,
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	ttl := time.Duration(ttlMS) * time.Millisecond
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	c.logger.Debug("cache put", map[string]interface{}{
		"key": key, "ttl": ttl.String(), "rows": len(data),
	})
	return nil
}

// Invalidate deletes one entry.
func (c *RowCache) Invalidate(ctx context.Context, tenantID, connectorID string, filters map[string]interface{}) error {
	return c.rdb.Del(ctx, cacheKey(tenantID, connectorID, filters)).Err()
}

// Stats counts a tenant's cached entries with cursor-based SCAN. It
// runs on foreground request paths, so it must never issue a blocking
// full-keyspace command.
func (c *RowCache) Stats(ctx context.Context, tenantID string) (models.CacheStats, error) {
	stats := models.CacheStats{TenantID: tenantID}
	pattern := fmt.Sprintf("%s:%s:*", keyPrefix, tenantID)

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return stats, fmt.Errorf("cache stats: %w", err)
		}
		stats.CachedEntries += len(keys)
		if next == 0 {
			return stats, nil
		}
		cursor = next
	}
}

// Ping reports whether the backing store is reachable.
func (c *RowCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
