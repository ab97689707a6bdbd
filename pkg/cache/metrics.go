package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctgov_cache_hits_total",
			Help: "Total number of registry response cache hits",
		},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctgov_cache_misses_total",
			Help: "Total number of registry response cache misses",
		},
	)

	// CacheWrittenBytes counts serialized entry bytes sent to Redis
	CacheWrittenBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctgov_cache_written_bytes_total",
			Help: "Bytes of serialized registry responses written to the cache",
		},
	)

	// CacheEvictions counts entries removed before Redis expired them
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctgov_cache_evictions_total",
			Help: "Cache entries evicted by reason",
		},
		[]string{"reason"}, // "expired", "invalid", "undecodable"
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctgov_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
