package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	reqpipe "github.com/AnandSundar/go-reqpipe"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a mock Redis server for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func TestRedisCache_SetAndGet(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewRedisCache(client)
	ctx := context.Background()

	err := cache.Set(ctx, "test-key", map[string]any{"userCount": 10}, time.Hour)
	require.NoError(t, err)

	cached, found, err := cache.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]any{"userCount": float64(10)}, cached)
}

func TestRedisCache_GetNotFound(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewRedisCache(client)

	_, found, err := cache.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_Expiration(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client)
	ctx := context.Background()

	err := cache.Set(ctx, "test-key", "v", 100*time.Millisecond)
	require.NoError(t, err)

	// Fast-forward time in miniredis
	mr.FastForward(150 * time.Millisecond)

	_, found, err := cache.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.False(t, found)

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Size)
}

func TestRedisCache_StatsAndClear(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "b", 2, time.Hour))
	require.NoError(t, cache.Set(ctx, "a", 1, time.Hour))
	// Keys outside the prefix are not ours
	require.NoError(t, mr.Set("unrelated", "x"))

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, reqpipe.CacheStats{Size: 2, Keys: []string{"a", "b"}}, stats)

	require.NoError(t, cache.Clear(ctx))
	stats, err = cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Size)
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisInFlight_Acquire(t *testing.T) {
	client, _ := setupTestRedis(t)
	inflight := NewRedisInFlight(client, 0)

	assert.True(t, inflight.TryAcquire("test-key"))

	// Second acquire should fail
	assert.False(t, inflight.TryAcquire("test-key"))
	assert.Equal(t, 1, inflight.Len())

	inflight.Release("test-key")

	// After release, should succeed
	assert.True(t, inflight.TryAcquire("test-key"))
	inflight.Release("test-key")
	assert.Equal(t, 0, inflight.Len())
}

func TestRedisInFlight_AutoExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	inflight := NewRedisInFlight(client, 0)

	require.True(t, inflight.TryAcquire("test-key"))

	// Lock should auto-expire after DefaultLockTTL
	mr.FastForward(DefaultLockTTL + time.Second)

	assert.True(t, inflight.TryAcquire("test-key"))
}

func TestRedisInFlight_RefreshedWhileHeld(t *testing.T) {
	client, mr := setupTestRedis(t)
	holder := NewRedisInFlight(client, 300*time.Millisecond)
	other := NewRedisInFlight(client, 300*time.Millisecond)
	key := DefaultKeyPrefix + "inflight:k"

	require.True(t, holder.TryAcquire("k"))
	t.Cleanup(func() { holder.Release("k") })

	// Across several lock lifetimes the holder keeps refreshing the key
	for i := 0; i < 4; i++ {
		mr.FastForward(200 * time.Millisecond)
		require.True(t, mr.Exists(key))
		require.Eventually(t, func() bool {
			return mr.TTL(key) > 200*time.Millisecond
		}, 2*time.Second, 5*time.Millisecond)
	}
	assert.False(t, other.TryAcquire("k"))

	holder.Release("k")
	assert.False(t, mr.Exists(key))
	assert.True(t, other.TryAcquire("k"))
	other.Release("k")
}

func TestRedisInFlight_ReleaseKeepsNextHoldersLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	stale := NewRedisInFlight(client, time.Minute)
	next := NewRedisInFlight(client, time.Minute)
	key := DefaultKeyPrefix + "inflight:k"

	require.True(t, stale.TryAcquire("k"))
	// The holder's process stalls past the TTL without refreshing
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(key))

	require.True(t, next.TryAcquire("k"))
	stale.Release("k")

	assert.True(t, mr.Exists(key))
	assert.False(t, NewRedisInFlight(client, time.Minute).TryAcquire("k"))

	next.Release("k")
	assert.False(t, mr.Exists(key))
}

func TestRedisInFlight_SharedAcrossClients(t *testing.T) {
	client, mr := setupTestRedis(t)
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { other.Close() })

	first := NewRedisInFlight(client, time.Minute)
	second := NewRedisInFlight(other, time.Minute)

	require.True(t, first.TryAcquire("k"))
	assert.False(t, second.TryAcquire("k"))

	second.Clear()
	assert.True(t, first.TryAcquire("k"))
}

func TestRedisInFlight_ConcurrentAcquire(t *testing.T) {
	client, _ := setupTestRedis(t)
	inflight := NewRedisInFlight(client, time.Minute)

	const numGoroutines = 10
	var successCount atomic.Int32
	var wg sync.WaitGroup

	// Try to acquire from multiple goroutines
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if inflight.TryAcquire("concurrent-test") {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	// Nobody released, so exactly one got through
	assert.Equal(t, int32(1), successCount.Load())
}

func TestRedisInFlight_UnreachableAdmits(t *testing.T) {
	client, mr := setupTestRedis(t)
	inflight := NewRedisInFlight(client, time.Minute)
	mr.Close()

	assert.True(t, inflight.TryAcquire("k"))
	assert.Equal(t, 0, inflight.Len())
}

func TestRedisSessions_RoundTrip(t *testing.T) {
	client, mr := setupTestRedis(t)
	backend := NewRedisSessions(client, "default")
	ctx := context.Background()

	_, found, err := backend.Read(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	sess := &reqpipe.Session{
		Token:       "abc",
		IssuedAt:    time.Now().UTC().Truncate(time.Second),
		ExpiresAt:   time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Identity:    map[string]any{"name": "ada"},
		Permissions: []string{"read"},
	}
	require.NoError(t, backend.Write(ctx, sess))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"session:default"))

	got, found, err := backend.Read(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sess.Token, got.Token)
	assert.True(t, sess.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, sess.Identity, got.Identity)
	assert.Equal(t, sess.Permissions, got.Permissions)

	// The key expires with the session
	mr.FastForward(2 * time.Hour)
	_, found, err = backend.Read(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisSessions_Clear(t *testing.T) {
	client, _ := setupTestRedis(t)
	backend := NewRedisSessions(client, "default")
	ctx := context.Background()

	require.NoError(t, backend.Write(ctx, &reqpipe.Session{Token: "abc"}))
	require.NoError(t, backend.Clear(ctx))
	require.NoError(t, backend.Clear(ctx))

	_, found, err := backend.Read(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisSessions_BackSessionStore(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	first := reqpipe.NewSessionStore(NewRedisSessions(client, "default"))
	_, err := first.Login(ctx, reqpipe.Credentials{Token: "tok"})
	require.NoError(t, err)

	// A second process picks the session up from Redis
	second := reqpipe.NewSessionStore(NewRedisSessions(client, "default"))
	assert.Equal(t, "tok", second.Token(ctx))

	require.NoError(t, second.Destroy(ctx))
	third := reqpipe.NewSessionStore(NewRedisSessions(client, "default"))
	assert.Equal(t, "", third.Token(ctx))
}

// TestRedisCache_RealRedis tests against a real Redis instance
// Skip this test if Redis is not available
func TestRedisCache_RealRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	cache := NewRedisCache(client)
	require.NoError(t, cache.Set(ctx, "real-test-key", "value", time.Minute))
	defer cache.Clear(ctx)

	value, found, err := cache.Get(ctx, "real-test-key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", value)
}
