// Package metrics provides the centralized Prometheus metrics registry for
// the orchestrator. All metrics are defined in their respective packages
// (client, cache, breaker, ratelimit) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the orchestrator.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - orch_requests_total{endpoint, outcome} (Counter): Requests by endpoint and outcome (success, error, cache_hit, budget_blocked)
//   - orch_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - orch_errors_total{class} (Counter): Errors by class (network, server, client, auth, rate_limit, circuit_open, cancelled)
//   - orch_deduped_requests_total (Counter): Requests served by joining an in-flight call
//
// Retry Metrics (pkg/client):
//   - orch_retries_total{error_class} (Counter): Retry attempts by error class
//   - orch_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - orch_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - orch_cache_hits_total (Counter): Cache hits
//   - orch_cache_misses_total (Counter): Cache misses
//   - orch_cache_evictions_total{reason} (Counter): Evictions by reason (expired, capacity)
//   - orch_cache_size_bytes (Gauge): Current cache size in bytes
//   - orch_cache_invalidations_total (Counter): Entries removed by pattern invalidation
//
// Circuit Breaker Metrics (pkg/breaker):
//   - orch_breaker_state{circuit} (Gauge): Current state (0=closed, 1=open, 2=half_open)
//   - orch_breaker_transitions_total{circuit, to} (Counter): State transitions by target state
//   - orch_breaker_rejections_total{circuit} (Counter): Calls rejected without reaching transport
//   - orch_breaker_failures_total{circuit} (Counter): Failures counted against the circuit
//
// Error Budget Metrics (pkg/ratelimit):
//   - orch_error_budget_remaining (Gauge): Errors remaining in the shared budget window
//   - orch_budget_blocks_total (Counter): Requests blocked at critical budget
//   - orch_budget_throttles_total (Counter): Requests throttled at warning budget
//   - orch_budget_errors_total{error_class} (Counter): Errors recorded against the budget
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(orch_cache_hits_total[5m])) /
//   (sum(rate(orch_cache_hits_total[5m])) + sum(rate(orch_cache_misses_total[5m])))
//
//   # Open Circuits
//   orch_breaker_state == 1
//
//   # Request Error Rate
//   rate(orch_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(orch_request_duration_seconds_bucket[5m]))
//
//   # Deduplication Rate
//   rate(orch_deduped_requests_total[5m]) / rate(orch_requests_total[5m])
