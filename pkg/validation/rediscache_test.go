package validation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumsec/warden/pkg/entity"
)

func newRedisCacheForTest(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestNewRedisCache_ConnectFailure(t *testing.T) {
	_, err := NewRedisCache("127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestRedisCache_GetSet(t *testing.T) {
	ctx := context.Background()
	cache, _ := newRedisCacheForTest(t)

	_, ok := cache.Get(ctx, "missing")
	assert.False(t, ok)

	cache.Set(ctx, nameExistsKey(entity.TypeRole, "ops", "", 7), true, NameExistsTTL)
	v, ok := cache.Get(ctx, nameExistsKey(entity.TypeRole, "ops", "", 7))
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestRedisCache_ValuesAreNamespaced(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCacheForTest(t)

	cache.Set(ctx, "k", "v", NameExistsTTL)
	assert.True(t, mr.Exists(redisKeyPrefix+"k"))
	assert.False(t, mr.Exists("k"))
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCacheForTest(t)

	cache.Set(ctx, "k", 1, time.Minute)
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache_Remove(t *testing.T) {
	ctx := context.Background()
	cache, _ := newRedisCacheForTest(t)

	cache.Set(ctx, "k", 1, NameExistsTTL)
	cache.Remove(ctx, "k")
	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
}

// TestRedisCache_ClearLeavesForeignKeys: Clear removes engine-owned keys
// only; the database may be shared with other applications.
func TestRedisCache_ClearLeavesForeignKeys(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCacheForTest(t)

	cache.Set(ctx, "a", 1, NameExistsTTL)
	cache.Set(ctx, "b", 2, NameExistsTTL)
	require.NoError(t, mr.Set("someone-elses-key", "data"))

	cache.Clear(ctx)

	assert.False(t, mr.Exists(redisKeyPrefix+"a"))
	assert.False(t, mr.Exists(redisKeyPrefix+"b"))
	assert.True(t, mr.Exists("someone-elses-key"))
}

func TestRedisCache_Stats(t *testing.T) {
	ctx := context.Background()
	cache, _ := newRedisCacheForTest(t)

	cache.Set(ctx, nameExistsKey(entity.TypeRole, "ops", "", 7), true, NameExistsTTL)
	cache.Set(ctx, ruleListKey(entity.TypeUser), []string{}, RuleListTTL)

	cache.Get(ctx, nameExistsKey(entity.TypeRole, "ops", "", 7))
	cache.Get(ctx, "absent")

	stats := cache.Stats(ctx)
	assert.Equal(t, int64(2), stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.EntriesByType["nameexists"])
	assert.Equal(t, int64(1), stats.EntriesByType["rules"])
}
