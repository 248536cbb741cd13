// Command api-proxy exposes the request orchestrator as a local HTTP proxy.
// Requests under /api/ are forwarded to the configured upstream through the
// full resilience stack: cache, deduplication, circuit breakers, retries,
// and the shared error budget when Redis is configured.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/api-orchestrator/pkg/client"
	"github.com/Sternrassler/api-orchestrator/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configuration from environment
	upstreamURL := getEnv("UPSTREAM_URL", "")
	redisURL := getEnv("REDIS_URL", "")
	port := getEnv("PORT", "8080")
	logLevel := getEnv("LOG_LEVEL", "info")

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(logLevel),
		Output: os.Stderr,
	})

	if upstreamURL == "" {
		log.Fatal().Msg("UPSTREAM_URL is required")
	}

	// Redis is optional: without it the shared error budget is disabled
	var redisClient *redis.Client
	if redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Str("redis_url", redisURL).Msg("Failed to connect to Redis")
		}
		log.Info().Str("redis_url", redisURL).Msg("Connected to Redis")
	}

	transport := newHTTPTransport(upstreamURL, &http.Client{Timeout: 30 * time.Second})

	config := client.DefaultConfig(transport)
	config.Redis = redisClient
	orchestrator, err := client.New(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create orchestrator")
	}

	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/ready", readyHandler(redisClient))
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/api/", proxyHandler(orchestrator))

	addr := ":" + port
	log.Info().
		Str("addr", addr).
		Str("upstream", upstreamURL).
		Msg("Starting proxy server")

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// newHTTPTransport builds a transport that forwards requests to the
// upstream base URL over HTTP. Non-2xx responses become classifiable
// status errors.
func newHTTPTransport(baseURL string, httpClient *http.Client) client.Transport {
	base := strings.TrimRight(baseURL, "/")

	return func(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
		target := base + "/" + strings.TrimLeft(endpoint, "/")
		if len(params) > 0 {
			target += "?" + params.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("upstream request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, client.NewStatusError(resp.StatusCode, strings.TrimSpace(string(body)))
		}

		return body, nil
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports readiness. With Redis configured, readiness includes
// Redis connectivity.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// proxyHandler forwards /api/<endpoint> through the orchestrator.
func proxyHandler(orchestrator *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, "/api/")
		if endpoint == "" {
			http.Error(w, "missing endpoint", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		data, err := orchestrator.Read(ctx, endpoint, r.URL.Query())
		if err != nil {
			status, message := statusForError(err)
			http.Error(w, message, status)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to write response")
		}
	}
}

// statusForError maps a classified orchestrator error onto a proxy status.
func statusForError(err error) (int, string) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return apiErr.StatusCode, apiErr.Message
	}

	switch client.Classify(err) {
	case client.ErrorClassAuth:
		return http.StatusUnauthorized, "upstream rejected credentials"
	case client.ErrorClassClient:
		return http.StatusBadRequest, "upstream rejected request"
	case client.ErrorClassRateLimit:
		return http.StatusTooManyRequests, "error budget exhausted"
	case client.ErrorClassCircuitOpen:
		return http.StatusServiceUnavailable, "circuit open"
	case client.ErrorClassCancelled:
		return http.StatusGatewayTimeout, "request cancelled"
	default:
		return http.StatusBadGateway, "upstream request failed"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
