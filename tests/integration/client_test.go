package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/api-orchestrator/internal/testutil"
	"github.com/Sternrassler/api-orchestrator/pkg/breaker"
	"github.com/Sternrassler/api-orchestrator/pkg/client"
	"github.com/Sternrassler/api-orchestrator/pkg/pagination"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// httpTransport forwards orchestrated calls to the mock upstream over HTTP.
func httpTransport(mock *testutil.MockAPI) client.Transport {
	return func(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
		target := mock.URL() + "/" + strings.TrimLeft(endpoint, "/")
		if len(params) > 0 {
			target += "?" + params.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, client.NewStatusError(resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return body, nil
	}
}

// fastConfig keeps retry and breaker timings suitable for tests.
func fastConfig(mock *testutil.MockAPI) client.Config {
	cfg := client.DefaultConfig(httpTransport(mock))
	cfg.Retry = client.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
	cfg.Breaker = breaker.Config{
		FailureThreshold: 2,
		MinimumRequests:  2,
		Window:           time.Minute,
		ResetTimeout:     time.Minute,
		HalfOpenProbes:   1,
	}
	return cfg
}

// TestFullRequestFlow tests the complete read path: cache miss → upstream →
// cache store → cache hit.
func TestFullRequestFlow(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/markets/orders", testutil.NewHealthyResponse(`[
		{"order_id": 1, "type_id": 34, "price": 100.50},
		{"order_id": 2, "type_id": 35, "price": 200.75}
	]`))

	c, err := client.New(fastConfig(mock))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()

	t.Log("Request 1: Full flow - cache miss")
	body1, err := c.Read(ctx, "markets/orders", nil)
	if err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}
	if !strings.Contains(string(body1), `"order_id": 1`) {
		t.Errorf("Unexpected response: %s", body1)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("After request 1: upstream requests = %d, want 1", mock.GetRequestCount())
	}

	t.Log("Request 2: Served from cache")
	body2, err := c.Read(ctx, "markets/orders", nil)
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}
	if string(body2) != string(body1) {
		t.Error("Cached response differs from original")
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("After request 2: upstream requests = %d, want 1 (cache hit)", mock.GetRequestCount())
	}
}

// TestRetryRecovery tests that transient 5xx failures are retried until the
// upstream recovers.
func TestRetryRecovery(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	// Fails twice, then succeeds
	mock.SetFailureSequence("/flaky", http.StatusServiceUnavailable, 2,
		testutil.NewHealthyResponse(`{"status": "recovered"}`))

	c, err := client.New(fastConfig(mock))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	body, err := c.Read(context.Background(), "flaky", nil)
	if err != nil {
		t.Fatalf("Read() error = %v, want recovery after retries", err)
	}
	if !strings.Contains(string(body), "recovered") {
		t.Errorf("Unexpected response: %s", body)
	}
	if mock.GetPathCount("/flaky") != 3 {
		t.Errorf("Upstream requests = %d, want 3 (2 failures + success)", mock.GetPathCount("/flaky"))
	}
}

// TestClientErrorNotRetried tests that 4xx responses propagate immediately.
func TestClientErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/missing", testutil.NewNotFoundResponse())

	c, err := client.New(fastConfig(mock))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = c.Read(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("Read() should fail")
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error should be an APIError, got %T", err)
	}
	if apiErr.Class != client.ErrorClassClient {
		t.Errorf("Class = %v, want %v", apiErr.Class, client.ErrorClassClient)
	}
	if mock.GetPathCount("/missing") != 1 {
		t.Errorf("Upstream requests = %d, want 1 (no retries)", mock.GetPathCount("/missing"))
	}
}

// TestCircuitBreakerOpens tests that persistent failures open the circuit
// and subsequent calls never reach the upstream.
func TestCircuitBreakerOpens(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/down", testutil.NewServerErrorResponse())

	cfg := fastConfig(mock)
	cfg.Retry.MaxAttempts = 1 // isolate breaker behavior
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()
	noCache := false
	opts := client.RequestOptions{UseCache: &noCache}

	// Trip the circuit (threshold 2)
	for i := 0; i < 2; i++ {
		if _, err := c.Do(ctx, "down", nil, opts); err == nil {
			t.Fatalf("Request %d should fail", i+1)
		}
	}

	before := mock.GetPathCount("/down")
	_, err = c.Do(ctx, "down", nil, opts)
	if err == nil {
		t.Fatal("Request against open circuit should fail")
	}
	if client.Classify(err) != client.ErrorClassCircuitOpen {
		t.Errorf("Classify() = %v, want %v", client.Classify(err), client.ErrorClassCircuitOpen)
	}
	if mock.GetPathCount("/down") != before {
		t.Error("Open circuit must not reach the upstream")
	}
}

// TestWriteInvalidation tests end-to-end cache coherency: a write removes
// matching cached reads so the next read refetches.
func TestWriteInvalidation(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/repos", testutil.NewHealthyResponse(`["a","b"]`))
	mock.SetResponse("/repos/update", testutil.NewHealthyResponse(`{"ok":true}`))
	mock.SetResponse("/users/1", testutil.NewHealthyResponse(`{"name":"alice"}`))

	c, err := client.New(fastConfig(mock))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()

	// Populate the cache
	if _, err := c.Read(ctx, "repos", nil); err != nil {
		t.Fatalf("Read(repos) failed: %v", err)
	}
	if _, err := c.Read(ctx, "users/1", nil); err != nil {
		t.Fatalf("Read(users/1) failed: %v", err)
	}

	// Mutation invalidates the repos prefix
	if _, err := c.Write(ctx, "repos/update", nil, "^repos"); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if _, err := c.Read(ctx, "repos", nil); err != nil {
		t.Fatalf("Read(repos) after write failed: %v", err)
	}
	if _, err := c.Read(ctx, "users/1", nil); err != nil {
		t.Fatalf("Read(users/1) after write failed: %v", err)
	}

	if mock.GetPathCount("/repos") != 2 {
		t.Errorf("repos upstream requests = %d, want 2 (refetched after invalidation)", mock.GetPathCount("/repos"))
	}
	if mock.GetPathCount("/users/1") != 1 {
		t.Errorf("users/1 upstream requests = %d, want 1 (still cached)", mock.GetPathCount("/users/1"))
	}
}

// TestConcurrentDeduplication tests that concurrent identical reads share a
// single upstream call.
func TestConcurrentDeduplication(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/slow", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"shared": true}`,
		Delay:      200 * time.Millisecond,
	})

	c, err := client.New(fastConfig(mock))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = c.Read(context.Background(), "slow", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Fatalf("caller %d error = %v", i, err)
		}
	}
	if mock.GetPathCount("/slow") != 1 {
		t.Errorf("Upstream requests = %d, want 1 (concurrent reads coalesced)", mock.GetPathCount("/slow"))
	}
}

// TestPaginatedFetchThroughClient tests fetching a multi-page endpoint with
// the batch fetcher driving reads through the full orchestration path, so
// every page benefits from caching, dedup, retry and the circuit breaker.
func TestPaginatedFetchThroughClient(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	const totalPages = 3
	mock.SetHandler("/items", func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 || page > totalPages {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"page": %d, "total_pages": %d, "items": ["item-%d"]}`, page, totalPages, page)
	})

	c, err := client.New(fastConfig(mock))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	fetcher := pagination.FetcherFunc(func(ctx context.Context, endpoint string, pageNum int) ([]byte, int, error) {
		body, err := c.Read(ctx, endpoint, url.Values{"page": {strconv.Itoa(pageNum)}})
		if err != nil {
			return nil, 0, err
		}
		var envelope struct {
			TotalPages int `json:"total_pages"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, 0, err
		}
		return body, envelope.TotalPages, nil
	})

	bf := pagination.NewBatchFetcher(fetcher, pagination.Config{MaxConcurrency: 2})

	pages, err := bf.FetchAllPages(context.Background(), "items")
	if err != nil {
		t.Fatalf("FetchAllPages() error = %v", err)
	}
	if len(pages) != totalPages {
		t.Fatalf("FetchAllPages() returned %d pages, want %d", len(pages), totalPages)
	}
	for page := 1; page <= totalPages; page++ {
		if !strings.Contains(string(pages[page]), fmt.Sprintf("item-%d", page)) {
			t.Errorf("page %d = %s, want item-%d", page, pages[page], page)
		}
	}
	if got := mock.GetPathCount("/items"); got != totalPages {
		t.Errorf("Upstream requests = %d, want %d (one per page)", got, totalPages)
	}

	// A second run is served entirely from cache
	if _, err := bf.FetchAllPages(context.Background(), "items"); err != nil {
		t.Fatalf("FetchAllPages() second run error = %v", err)
	}
	if got := mock.GetPathCount("/items"); got != totalPages {
		t.Errorf("Upstream requests after cached run = %d, want %d", got, totalPages)
	}
}

// TestErrorBudgetBlock tests that a critically depleted shared error budget
// blocks requests before they reach the upstream.
func TestErrorBudgetBlock(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse("/status", testutil.NewHealthyResponse(`{"status": "ok"}`))

	cfg := fastConfig(mock)
	cfg.Redis = redisClient
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx := context.Background()

	// Healthy budget: requests flow
	if _, err := c.Read(ctx, "status", nil); err != nil {
		t.Fatalf("Read() with healthy budget failed: %v", err)
	}

	// Deplete the shared budget below the critical threshold
	if err := redisClient.Set(ctx, "orch:error_budget:remaining", 2, time.Minute).Err(); err != nil {
		t.Fatalf("Failed to seed budget: %v", err)
	}

	before := mock.GetRequestCount()
	_, err = c.Do(ctx, "status", nil, client.RequestOptions{
		UseCache: func() *bool { b := false; return &b }(),
	})
	if err == nil {
		t.Fatal("Read() should be blocked by the error budget")
	}
	if client.Classify(err) != client.ErrorClassRateLimit {
		t.Errorf("Classify() = %v, want %v", client.Classify(err), client.ErrorClassRateLimit)
	}
	if mock.GetRequestCount() != before {
		t.Error("Blocked request must not reach the upstream")
	}

	// Budget reset restores service
	if err := redisClient.Del(ctx, "orch:error_budget:remaining").Err(); err != nil {
		t.Fatalf("Failed to reset budget: %v", err)
	}
	if _, err := c.Read(ctx, "status", nil); err != nil {
		t.Fatalf("Read() after budget reset failed: %v", err)
	}
}
