package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for error budget tracking.
var (
	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orch_error_budget_remaining",
		Help: "Number of errors remaining in the current budget window",
	})

	budgetBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_budget_blocks_total",
		Help: "Total number of requests blocked due to critical error budget",
	})

	budgetThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_budget_throttles_total",
		Help: "Total number of requests throttled due to low error budget",
	})

	budgetErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_budget_errors_total",
		Help: "Total number of errors recorded against the budget by class",
	}, []string{"error_class"})
)

// Config holds the tracker configuration.
type Config struct {
	// BudgetLimit is the number of errors tolerated per window.
	BudgetLimit int

	// Window is how long a budget lasts before it refills.
	Window time.Duration

	// ThrottleDelay is the pause applied per request while the budget is
	// in the warning band.
	ThrottleDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BudgetLimit:   100,
		Window:        60 * time.Second,
		ThrottleDelay: 1 * time.Second,
	}
}

// Tracker monitors the shared error budget and gates requests.
type Tracker struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger
}

// NewTracker creates a new error budget tracker.
func NewTracker(redisClient *redis.Client, config Config, logger zerolog.Logger) *Tracker {
	defaults := DefaultConfig()
	if config.BudgetLimit <= 0 {
		config.BudgetLimit = defaults.BudgetLimit
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.ThrottleDelay <= 0 {
		config.ThrottleDelay = defaults.ThrottleDelay
	}

	return &Tracker{
		redis:  redisClient,
		config: config,
		logger: logger,
	}
}

// GetState retrieves the current budget state from Redis.
// Returns a full healthy budget if no window is active.
func (t *Tracker) GetState(ctx context.Context) (*BudgetState, error) {
	remaining, err := t.redis.Get(ctx, RedisKeyBudgetRemaining).Int()
	if err == redis.Nil {
		// No active window: full budget
		state := &BudgetState{
			ErrorsRemaining: t.config.BudgetLimit,
			ResetAt:         time.Now().Add(t.config.Window),
		}
		state.UpdateHealth()
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget remaining: %w", err)
	}

	state := &BudgetState{
		ErrorsRemaining: remaining,
		ResetAt:         time.Now().Add(t.config.Window),
	}
	if ttl, ttlErr := t.redis.PTTL(ctx, RedisKeyBudgetRemaining).Result(); ttlErr == nil && ttl > 0 {
		state.ResetAt = time.Now().Add(ttl)
	}
	state.UpdateHealth()

	return state, nil
}

// RecordError charges one error of the given class against the budget.
// The window starts with the first recorded error and refills when its
// TTL expires.
func (t *Tracker) RecordError(ctx context.Context, errorClass string) error {
	pipe := t.redis.Pipeline()
	pipe.SetNX(ctx, RedisKeyBudgetRemaining, t.config.BudgetLimit, t.config.Window)
	dec := pipe.Decr(ctx, RedisKeyBudgetRemaining)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record error against budget: %w", err)
	}

	remaining := int(dec.Val())
	budgetRemaining.Set(float64(remaining))
	budgetErrorsTotal.WithLabelValues(errorClass).Inc()

	state := &BudgetState{ErrorsRemaining: remaining}
	state.UpdateHealth()

	logEvent := t.logger.Info()
	if state.NeedsCriticalBlock() {
		logEvent = t.logger.Error()
	} else if state.NeedsThrottling() {
		logEvent = t.logger.Warn()
	}
	logEvent.
		Int("errors_remaining", remaining).
		Str("error_class", errorClass).
		Bool("is_healthy", state.IsHealthy).
		Msg("Error recorded against budget")

	return nil
}

// ShouldAllowRequest checks if a request should be allowed given the
// current budget. Returns false when the budget is critical; in the
// warning band the request is allowed after a throttle delay.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get budget state: %w", err)
	}

	// Critical: block all requests until the window resets
	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("errors_remaining", state.ErrorsRemaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Error budget critical - blocking request")

		budgetBlocksTotal.Inc()
		return false, nil
	}

	// Warning: slow down to stop error accumulation
	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("errors_remaining", state.ErrorsRemaining).
			Msg("Error budget low - throttling request")

		budgetThrottlesTotal.Inc()

		timer := time.NewTimer(t.config.ThrottleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
