// Package ratelimit implements a shared upstream error budget. Every
// client process records server-side failures into Redis; once the budget
// for the current window runs low, requests are throttled and finally
// blocked before they reach transport, giving the upstream room to recover.
package ratelimit

import (
	"time"
)

// RedisKeyBudgetRemaining holds the number of errors left in the current
// window. The key carries the window TTL, so an expired key means a fresh
// budget.
const RedisKeyBudgetRemaining = "orch:error_budget:remaining"

// Thresholds for budget decisions.
const (
	// BudgetThresholdCritical blocks all requests when the remaining budget
	// falls below this value.
	BudgetThresholdCritical = 5

	// BudgetThresholdWarning applies throttling when the remaining budget
	// falls below this value.
	BudgetThresholdWarning = 20

	// BudgetThresholdHealthy indicates normal operation. At or above this
	// value no restrictions apply.
	BudgetThresholdHealthy = 50
)

// BudgetState represents the current shared error budget. The state is
// shared across all client instances via Redis.
type BudgetState struct {
	// ErrorsRemaining is the number of errors left before requests are
	// blocked.
	ErrorsRemaining int `json:"errors_remaining"`

	// ResetAt is when the current budget window expires and the budget
	// refills.
	ResetAt time.Time `json:"reset_at"`

	// IsHealthy indicates whether the budget is in a healthy state.
	// True when ErrorsRemaining >= BudgetThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *BudgetState) NeedsCriticalBlock() bool {
	return s.ErrorsRemaining < BudgetThresholdCritical
}

// NeedsThrottling returns true if requests should be throttled.
func (s *BudgetState) NeedsThrottling() bool {
	return s.ErrorsRemaining < BudgetThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the budget refills.
// Returns 0 if the reset time has already passed.
func (s *BudgetState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field from ErrorsRemaining.
func (s *BudgetState) UpdateHealth() {
	s.IsHealthy = s.ErrorsRemaining >= BudgetThresholdHealthy
}
