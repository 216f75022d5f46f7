package validation

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/quorumsec/warden/pkg/entity"
	"github.com/quorumsec/warden/pkg/observability"
)

// Cache key TTLs for the two memoized check families
const (
	// NameExistsTTL bounds how long a name-uniqueness probe is reused
	NameExistsTTL = 5 * time.Minute
	// RuleListTTL bounds memoized per-type rule lists. The rule set for
	// a type is static for the process lifetime, so this is generous.
	RuleListTTL = time.Hour
)

// CacheStats reports cache effectiveness
type CacheStats struct {
	Entries       int64            `json:"entries"`
	Hits          int64            `json:"hits"`
	Misses        int64            `json:"misses"`
	HitRate       float64          `json:"hit_rate"`
	EntriesByType map[string]int64 `json:"entries_by_type"`
}

// Cache is the in-process memoization contract the engine requires.
// Implementations must be safe for concurrent use; bulk validation hits
// the cache from many goroutines at once.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Remove(ctx context.Context, key string)
	Clear(ctx context.Context)
	Stats(ctx context.Context) *CacheStats
}

// nameExistsKey builds the cache key for a scoped name-uniqueness probe.
// The excluded identifier is part of the key: the gateway answer depends
// on which entity is exempt from the collision check, so probes for
// different entities must never share an entry.
func nameExistsKey(typ entity.Type, name, scope string, excludeID int64) string {
	return fmt.Sprintf("nameexists:%s:%s:%s:%d", typ, name, scope, excludeID)
}

// ruleListKey builds the cache key for a per-type rule list
func ruleListKey(typ entity.Type) string {
	return fmt.Sprintf("rules:%s", typ)
}

// keyType extracts the check family from a cache key for per-type stats
func keyType(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return "other"
}

// MemoryCache is an in-process TTL cache over an expirable LRU. Hit and
// miss counters are atomic since access is concurrent during bulk
// validation.
type MemoryCache struct {
	cache   *lru.LRU[string, memoryCacheEntry]
	metrics *observability.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

// memoryCacheEntry carries the per-key deadline alongside the value. The
// expirable LRU only supports a cache-wide TTL, so shorter per-key TTLs
// are enforced on read. A zero deadline means the cache-wide TTL governs.
type memoryCacheEntry struct {
	value   interface{}
	expires time.Time
}

const memoryCacheLabel = "memory"

// maxCacheEntries bounds the LRU; uniqueness probes dominate and are
// small, so a generous bound is cheap.
const maxCacheEntries = 8192

// NewMemoryCache creates a memory cache whose entries expire after at
// most defaultTTL. Set calls with a shorter TTL expire sooner; a Set TTL
// cannot extend past the cache-wide expiry.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = RuleListTTL
	}
	return &MemoryCache{
		cache: lru.NewLRU[string, memoryCacheEntry](maxCacheEntries, nil, defaultTTL),
	}
}

// WithMetrics attaches cache metrics and returns the cache
func (c *MemoryCache) WithMetrics(m *observability.Metrics) *MemoryCache {
	c.metrics = m
	return c
}

// Get retrieves a cached value. Entries past their per-key deadline are
// evicted and reported as misses.
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, bool) {
	entry, ok := c.cache.Get(key)
	if ok && !entry.expires.IsZero() && time.Now().After(entry.expires) {
		c.cache.Remove(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.WithLabelValues(memoryCacheLabel).Inc()
		}
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(memoryCacheLabel).Inc()
	}
	return entry.value, true
}

// Set stores a value with a per-key TTL. A non-positive ttl leaves the
// entry under the cache-wide expiry alone.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	entry := memoryCacheEntry{value: value}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	c.cache.Add(key, entry)
	c.reportEntries()
}

// Remove evicts a single key
func (c *MemoryCache) Remove(ctx context.Context, key string) {
	c.cache.Remove(key)
	c.reportEntries()
}

// Clear evicts everything
func (c *MemoryCache) Clear(ctx context.Context) {
	c.cache.Purge()
	c.reportEntries()
}

func (c *MemoryCache) reportEntries() {
	if c.metrics != nil {
		c.metrics.CacheEntries.WithLabelValues(memoryCacheLabel).Set(float64(c.cache.Len()))
	}
}

// Stats returns hit/miss counters and entry counts by check family
func (c *MemoryCache) Stats(ctx context.Context) *CacheStats {
	stats := &CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		EntriesByType: make(map[string]int64),
	}
	for _, key := range c.cache.Keys() {
		stats.Entries++
		stats.EntriesByType[keyType(key)]++
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	c.reportEntries()
	return stats
}
