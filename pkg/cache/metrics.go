package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks entries served from the store
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orch_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses tracks lookups that found no live entry
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orch_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheEvictions tracks removed entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orch_cache_evictions_total",
			Help: "Total number of cache entries evicted",
		},
		[]string{"reason"}, // "expired", "capacity"
	)

	// CacheSize tracks the approximate store size in bytes
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orch_cache_size_bytes",
			Help: "Current approximate size of the cache in bytes",
		},
	)

	// CacheInvalidations tracks entries removed via pattern invalidation
	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orch_cache_invalidations_total",
			Help: "Total number of cache entries removed by pattern invalidation",
		},
	)
)
