// Package cache provides the in-process response cache used by the
// request orchestrator.
//
// The store keeps TTL-tagged entries in memory with the following features:
//
// - Lazy expiry on read (expired entries are purged the moment they are seen)
// - LRU eviction by approximate byte size when the store exceeds capacity
// - Regex pattern invalidation over key strings for write coherency
// - Deterministic cache key generation from endpoint + sorted parameters
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewStore(cache.DefaultConfig())
//
//	key := cache.Key{
//		Endpoint: "/v1/repos/123/items",
//		Params:   url.Values{"state": []string{"open"}},
//	}
//
//	if err := store.Set(key, payload, 5*time.Minute); err != nil {
//		return err
//	}
//
//	entry, err := store.Get(key)
//	if err == cache.ErrCacheMiss {
//		// Miss - fetch from upstream
//	}
//
// # Pattern Invalidation
//
// After a successful write the caller invalidates every key logically
// affected by the mutation:
//
//	removed, err := store.Invalidate("^repos($|:)")
//
// There is no automatic dependency tracking between keys; the caller must
// know the patterns covering collection and detail keys for a resource.
//
// # Ownership
//
// The store owns its buffers exclusively. Set copies the payload in and
// Get copies it out, so a caller can never mutate a cached value observed
// by another caller.
//
// # Metrics
//
// The store exports Prometheus metrics:
//
//   - orch_cache_hits_total - Cache hits
//   - orch_cache_misses_total - Cache misses
//   - orch_cache_evictions_total{reason} - Evictions by reason
//   - orch_cache_size_bytes - Current approximate store size
//   - orch_cache_invalidations_total - Entries removed via patterns
package cache
