package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no usable entry is stored for the query
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored value is not a cache entry
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Eviction reasons recorded in ctgov_cache_evictions_total.
const (
	EvictExpired     = "expired"
	EvictInvalid     = "invalid"
	EvictUndecodable = "undecodable"
)

// Manager stores registry query responses in Redis.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Get returns the entry stored for key. A missing or stale entry yields
// ErrCacheMiss. A value that does not decode as an Entry is evicted and
// reported as ErrInvalidEntry, so the next Get misses.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		_ = m.Evict(ctx, key, EvictInvalid)
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Evict(ctx, key, EvictExpired)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores entry until its Expires time. Entries that are already expired
// are not stored.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheWrittenBytes.Add(float64(len(data)))
	return nil
}

// Evict deletes the entry for key and records why.
func (m *Manager) Evict(ctx context.Context, key Key, reason string) error {
	if err := m.Delete(ctx, key); err != nil {
		return err
	}
	CacheEvictions.WithLabelValues(reason).Inc()
	return nil
}

// Delete removes the entry for key. Deleting a missing key is not an error.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
