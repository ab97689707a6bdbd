// Package cache provides a Redis-backed cache for registry query responses.
//
// Registry studies change slowly, while export runs are often repeated over the
// same identifier list. Caching the raw response body per query avoids
// re-requesting unchanged chunks:
//
// - Deterministic keys built from the endpoint and sorted query parameters
// - TTL taken from the response Expires header, or a configured fallback
// - Expired entries are treated as misses and removed
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Endpoint: "/api/query/full_studies",
//		Query:    url.Values{"expr": []string{"AREA[NCTIdSearch](NCT01)"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// query the registry, then:
//		entry, _ = cache.ResponseToEntry(resp, 24*time.Hour)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - ctgov_cache_hits_total - Cache hits
//   - ctgov_cache_misses_total - Cache misses
//   - ctgov_cache_written_bytes_total - Serialized entry bytes written by this process
//   - ctgov_cache_evictions_total{reason} - Entries evicted as expired, invalid or undecodable
//   - ctgov_cache_errors_total{operation} - Cache operation errors
package cache
