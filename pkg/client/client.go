// Package client provides the resilient request orchestrator: response
// caching, in-flight deduplication, circuit breaking, and retry with
// backoff composed beneath a single request surface.
//
// The transport is injected, never owned: the orchestrator wraps a "send
// request" capability and adds the resilience layers around it. For reads
// the request path is cache → in-flight registry → circuit breaker(retry(
// transport)); on success the cache is populated and the in-flight entry
// released. Writes skip the cache read path and apply caller-declared
// invalidation patterns after the mutation succeeds.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/api-orchestrator/pkg/breaker"
	"github.com/Sternrassler/api-orchestrator/pkg/cache"
	"github.com/Sternrassler/api-orchestrator/pkg/inflight"
	"github.com/Sternrassler/api-orchestrator/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for orchestrated requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_requests_total",
		Help: "Total orchestrated requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orch_request_duration_seconds",
		Help:    "Orchestrated request duration in seconds by endpoint",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})

	dedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_deduped_requests_total",
		Help: "Total requests served by joining an in-flight call",
	})
)

// Method distinguishes the read path (cacheable, deduplicated) from the
// write path (invalidating).
type Method int

const (
	MethodRead Method = iota
	MethodWrite
)

// Transport is the injected "send request" capability. It performs the
// actual remote call and returns the raw payload. Implementations signal
// HTTP-equivalent failures via NewStatusError so the orchestrator can
// classify them.
type Transport func(ctx context.Context, endpoint string, params url.Values) ([]byte, error)

// Config holds the client configuration.
type Config struct {
	// Transport performs the actual remote call (REQUIRED).
	Transport Transport

	// Redis enables the shared error budget when set. Optional: without it
	// requests are never budget-gated.
	Redis *redis.Client

	// Cache configures the response store.
	Cache cache.Config

	// Breaker configures every circuit created by the client.
	Breaker breaker.Config

	// Retry configures the default retry policy.
	Retry RetryConfig

	// ExcludeClientErrors keeps 4xx-equivalent failures out of circuit
	// accounting. By default they count: a misbehaving client is still a
	// signal of endpoint distress in aggregate.
	ExcludeClientErrors bool

	// CancelAbandoned aborts an in-flight transport call once the last
	// interested caller has cancelled.
	CancelAbandoned bool
}

// DefaultConfig returns a safe default configuration around transport.
func DefaultConfig(transport Transport) Config {
	return Config{
		Transport: transport,
		Cache:     cache.DefaultConfig(),
		Breaker:   breaker.DefaultConfig(),
		Retry:     DefaultRetryConfig(),
	}
}

// RequestOptions control a single request.
type RequestOptions struct {
	// Method selects the read or write path. Default: MethodRead.
	Method Method

	// TTL overrides the cache TTL for this response. 0 applies the store
	// default; cache.NoExpiry stores without expiry.
	TTL time.Duration

	// UseCache overrides the cache read/write behavior. Default: true for
	// reads. Writes never consult the cache.
	UseCache *bool

	// Invalidate lists regex patterns applied to the cache after a
	// successful write. The caller must supply patterns covering every key
	// logically affected by the mutation.
	Invalidate []string

	// Circuit names the breaker guarding this call. Default: the endpoint.
	Circuit string

	// MaxRetries overrides the retry budget: n > 0 allows n retries beyond
	// the first attempt, n < 0 disables retries, 0 applies the default.
	MaxRetries int

	// Fallback, when set, produces a substitute result for calls rejected
	// by an open circuit or failed after retries.
	Fallback breaker.Fallback
}

// Client is the request orchestrator.
type Client struct {
	transport Transport
	cache     *cache.Store
	inflight  *inflight.Registry
	breakers  *breaker.Registry
	limiter   *ratelimit.Tracker
	config    Config
	logger    zerolog.Logger
}

// New creates a new orchestrator client.
func New(config Config) (*Client, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	logger := log.With().Str("component", "orchestrator").Logger()

	// Circuit accounting follows the error taxonomy: cancellation and
	// breaker rejections never count, 4xx counting is configurable.
	if config.Breaker.IsFailure == nil {
		exclude4xx := config.ExcludeClientErrors
		config.Breaker.IsFailure = func(err error) bool {
			switch Classify(err) {
			case ErrorClassCancelled, ErrorClassCircuitOpen:
				return false
			case ErrorClassClient, ErrorClassAuth:
				return !exclude4xx
			default:
				return err != nil
			}
		}
	}

	var limiter *ratelimit.Tracker
	if config.Redis != nil {
		limiter = ratelimit.NewTracker(config.Redis, ratelimit.DefaultConfig(), logger)
	}

	return &Client{
		transport: config.Transport,
		cache:     cache.NewStore(config.Cache),
		inflight:  inflight.NewRegistry(inflight.Config{CancelAbandoned: config.CancelAbandoned}),
		breakers:  breaker.NewRegistry(config.Breaker),
		limiter:   limiter,
		config:    config,
		logger:    logger,
	}, nil
}

// Do performs an orchestrated request. This is the core method composing
// the error budget gate, cache, in-flight registry, circuit breaker, and
// retry policy around the injected transport.
func (c *Client) Do(ctx context.Context, endpoint string, params url.Values, opts RequestOptions) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	circuit := opts.Circuit
	if circuit == "" {
		circuit = endpoint
	}

	// Step 1: Error budget gate (only when Redis is configured)
	if c.limiter != nil {
		allowed, err := c.limiter.ShouldAllowRequest(ctx)
		if err != nil {
			// Budget state unavailable: degrade open rather than block
			c.logger.Warn().Err(err).Msg("Error budget check failed - allowing request")
		} else if !allowed {
			requestsTotal.WithLabelValues(endpoint, "budget_blocked").Inc()
			errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &APIError{
				Class:   ErrorClassRateLimit,
				Message: "request blocked by error budget",
				Err:     ErrBudgetExhausted,
			}
		}
	}

	if opts.Method == MethodWrite {
		return c.doWrite(ctx, endpoint, params, circuit, opts)
	}
	return c.doRead(ctx, endpoint, params, circuit, opts)
}

// doRead serves the read path: cache → in-flight registry → circuit
// breaker(retry(transport)) → cache population.
func (c *Client) doRead(ctx context.Context, endpoint string, params url.Values, circuit string, opts RequestOptions) ([]byte, error) {
	key := cache.Key{Endpoint: endpoint, Params: params}
	useCache := opts.UseCache == nil || *opts.UseCache

	// Step 2: Cache lookup
	if useCache {
		if entry, err := c.cache.Get(key); err == nil {
			requestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
			c.logger.Debug().
				Str("endpoint", endpoint).
				Bool("cache_hit", true).
				Msg("Serving cached response")
			return entry.Data, nil
		}
	}

	// Step 3: Join or start the in-flight call. The producer populates the
	// cache so it runs exactly once regardless of how many callers share
	// the result.
	data, shared, err := c.inflight.Do(ctx, key.String(), func(pctx context.Context) ([]byte, error) {
		result, execErr := c.execute(pctx, circuit, endpoint, params, opts)
		if execErr != nil {
			return nil, execErr
		}
		if useCache {
			if setErr := c.cache.Set(key, result, opts.TTL); setErr != nil {
				c.logger.Warn().Err(setErr).Str("endpoint", endpoint).Msg("Failed to cache response")
			}
		}
		return result, nil
	})

	if err != nil {
		return nil, c.finishError(endpoint, err)
	}

	if shared {
		dedupedTotal.Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Msg("Request joined in-flight call")
	}

	requestsTotal.WithLabelValues(endpoint, "success").Inc()
	return data, nil
}

// doWrite serves the write path: circuit breaker(retry(transport)) →
// pattern invalidation. Cache coherency happens only here; there is no
// automatic dependency tracking between keys.
func (c *Client) doWrite(ctx context.Context, endpoint string, params url.Values, circuit string, opts RequestOptions) ([]byte, error) {
	data, err := c.execute(ctx, circuit, endpoint, params, opts)
	if err != nil {
		return nil, c.finishError(endpoint, err)
	}

	for _, pattern := range opts.Invalidate {
		removed, invErr := c.cache.Invalidate(pattern)
		if invErr != nil {
			c.logger.Warn().
				Err(invErr).
				Str("pattern", pattern).
				Msg("Cache invalidation failed")
			continue
		}
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("pattern", pattern).
			Int("removed", removed).
			Msg("Invalidated cache after write")
	}

	requestsTotal.WithLabelValues(endpoint, "success").Inc()
	return data, nil
}

// execute runs one logical call: retry wrapped inside the circuit breaker,
// so exhausted retries count once toward the circuit's failure tally.
func (c *Client) execute(ctx context.Context, circuit, endpoint string, params url.Values, opts RequestOptions) ([]byte, error) {
	retryConfig := c.config.Retry
	switch {
	case opts.MaxRetries > 0:
		retryConfig.MaxAttempts = opts.MaxRetries + 1
	case opts.MaxRetries < 0:
		retryConfig.MaxAttempts = 1
	}

	data, err := c.breakers.Execute(ctx, circuit, func(cctx context.Context) ([]byte, error) {
		var result []byte
		retryErr := retryWithBackoff(cctx, retryConfig, func() error {
			payload, transportErr := c.transport(cctx, endpoint, params)
			if transportErr != nil {
				return transportErr
			}
			result = payload
			return nil
		})
		if retryErr != nil {
			return nil, retryErr
		}
		return result, nil
	}, opts.Fallback)

	// Feed server-side trouble into the shared error budget
	if err != nil && c.limiter != nil {
		class := Classify(err)
		if class == ErrorClassServer || class == ErrorClassNetwork {
			if recErr := c.limiter.RecordError(ctx, string(class)); recErr != nil {
				c.logger.Warn().Err(recErr).Msg("Failed to record error against budget")
			}
		}
	}

	return data, err
}

// finishError records metrics for a failed request and guarantees the
// caller receives a classified error, never a raw transport error.
func (c *Client) finishError(endpoint string, err error) error {
	class := Classify(err)
	errorsTotal.WithLabelValues(string(class)).Inc()
	requestsTotal.WithLabelValues(endpoint, "error").Inc()

	c.logger.Warn().
		Err(err).
		Str("endpoint", endpoint).
		Str("error_class", string(class)).
		Msg("Request failed")

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &APIError{Class: class, Message: "request failed", Err: err}
}

// Read performs a cached, deduplicated read request.
func (c *Client) Read(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	return c.Do(ctx, endpoint, params, RequestOptions{Method: MethodRead})
}

// Write performs a mutation and invalidates the given cache patterns on
// success.
func (c *Client) Write(ctx context.Context, endpoint string, params url.Values, invalidate ...string) ([]byte, error) {
	return c.Do(ctx, endpoint, params, RequestOptions{
		Method:     MethodWrite,
		Invalidate: invalidate,
	})
}

// Cache returns the response store (for stats and tests).
func (c *Client) Cache() *cache.Store {
	return c.cache
}

// Breakers returns the circuit breaker registry (for inspection and tests).
func (c *Client) Breakers() *breaker.Registry {
	return c.breakers
}
