package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quorumsec/warden/pkg/observability"
)

// redisKeyPrefix namespaces engine keys in a shared Redis database
const redisKeyPrefix = "warden:validation:"

const redisCacheLabel = "redis"

// RedisCache is a Redis-backed Cache for deployments where several
// engine instances should share memoized uniqueness probes. Values are
// JSON-encoded, so only serializable values round-trip; callers that
// cache live objects (the rule registry) fall back to recomputation when
// the decoded value does not assert to the expected type.
type RedisCache struct {
	client  *redis.Client
	metrics *observability.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// WithMetrics attaches cache metrics and returns the cache
func (c *RedisCache) WithMetrics(m *observability.Metrics) *RedisCache {
	c.metrics = m
	return c
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get retrieves and decodes a cached value
func (c *RedisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return nil, c.miss()
	}

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, c.miss()
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(redisCacheLabel).Inc()
	}
	return value, true
}

func (c *RedisCache) miss() bool {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(redisCacheLabel).Inc()
	}
	return false
}

// Set stores a JSON-encoded value with a per-key TTL. Unserializable
// values are dropped silently; the engine treats the cache as advisory.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.client.Set(ctx, redisKeyPrefix+key, raw, ttl)
}

// Remove evicts a single key
func (c *RedisCache) Remove(ctx context.Context, key string) {
	c.client.Del(ctx, redisKeyPrefix+key)
}

// Clear evicts every engine-owned key, leaving the rest of the database
// alone
func (c *RedisCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
}

// Stats returns hit/miss counters and entry counts by check family
func (c *RedisCache) Stats(ctx context.Context) *CacheStats {
	stats := &CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		EntriesByType: make(map[string]int64),
	}

	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		stats.Entries++
		stats.EntriesByType[keyType(iter.Val()[len(redisKeyPrefix):])]++
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if c.metrics != nil {
		c.metrics.CacheEntries.WithLabelValues(redisCacheLabel).Set(float64(stats.Entries))
	}
	return stats
}
