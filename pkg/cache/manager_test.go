package cache

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis connects to a local Redis on DB 15 and skips the test when
// none is running. tests/integration covers the same paths with testcontainers.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err(), "flush test DB")

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func studiesKey(ids string) Key {
	return Key{
		Endpoint: "/api/query/full_studies",
		Query: url.Values{
			"expr":    []string{"AREA[NCTIdSearch](" + ids + ")"},
			"min_rnk": []string{"1"},
			"max_rnk": []string{"100"},
			"fmt":     []string{"json"},
		},
	}
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client)
	require.NotNil(t, manager)
	assert.Same(t, client, manager.redis)
}

func TestNewManager_Panic(t *testing.T) {
	assert.Panics(t, func() { NewManager(nil) })
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := studiesKey("NCT00000001")

	entry := &Entry{
		Data:       []byte(`{"FullStudiesResponse": {"NStudiesReturned": 1}}`),
		ETag:       `"abc123"`,
		Expires:    time.Now().Add(5 * time.Minute),
		StatusCode: 200,
		CachedAt:   time.Now(),
	}

	written := testutil.ToFloat64(CacheWrittenBytes)
	require.NoError(t, manager.Set(ctx, key, entry))
	assert.Greater(t, testutil.ToFloat64(CacheWrittenBytes), written+float64(len(entry.Data)))

	got, err := manager.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, entry.Data, got.Data)
	assert.Equal(t, entry.ETag, got.ETag)
	assert.Equal(t, entry.StatusCode, got.StatusCode)

	// Queries for other identifiers are separate entries.
	_, err = manager.Get(ctx, studiesKey("NCT00000002"))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	_, err := manager.Get(context.Background(), studiesKey("NCT99999999"))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_Set_SkipsExpiredEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()
	key := studiesKey("NCT00000001")

	written := testutil.ToFloat64(CacheWrittenBytes)
	require.NoError(t, manager.Set(ctx, key, &Entry{
		Data:    []byte(`{}`),
		Expires: time.Now().Add(-1 * time.Hour),
	}))
	assert.Equal(t, written, testutil.ToFloat64(CacheWrittenBytes))

	n, err := client.Exists(ctx, key.String()).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_Get_EvictsStaleEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()
	key := studiesKey("NCT00000001")

	// Redis still holds the value but the entry's own Expires has passed.
	stale := `{"data":"e30=","status_code":200,"expires":"2000-01-01T00:00:00Z","cached_at":"2000-01-01T00:00:00Z"}`
	require.NoError(t, client.Set(ctx, key.String(), stale, time.Minute).Err())

	evicted := testutil.ToFloat64(CacheEvictions.WithLabelValues(EvictExpired))
	_, err := manager.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, evicted+1, testutil.ToFloat64(CacheEvictions.WithLabelValues(EvictExpired)))

	n, err := client.Exists(ctx, key.String()).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_Get_EvictsInvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()
	key := studiesKey("NCT00000001")

	require.NoError(t, client.Set(ctx, key.String(), "not json", time.Minute).Err())

	_, err := manager.Get(ctx, key)
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = manager.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss, "invalid entry should have been evicted")
}

func TestManager_EvictAndDelete(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := studiesKey("NCT00000001")

	entry := &Entry{
		Data:    []byte(`{}`),
		Expires: time.Now().Add(5 * time.Minute),
	}

	require.NoError(t, manager.Set(ctx, key, entry))
	evicted := testutil.ToFloat64(CacheEvictions.WithLabelValues(EvictUndecodable))
	require.NoError(t, manager.Evict(ctx, key, EvictUndecodable))
	assert.Equal(t, evicted+1, testutil.ToFloat64(CacheEvictions.WithLabelValues(EvictUndecodable)))

	_, err := manager.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, manager.Set(ctx, key, entry))
	require.NoError(t, manager.Delete(ctx, key))
	_, err = manager.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, manager.Delete(ctx, key), "deleting a missing key is not an error")
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	assert.Error(t, manager.Set(context.Background(), studiesKey("NCT00000001"), nil))
}
