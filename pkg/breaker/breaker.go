// Package breaker provides per-endpoint failure isolation via the circuit
// breaker pattern.
//
// States:
//   - Closed: requests flow normally; failures within a rolling window are
//     counted against the trip thresholds.
//   - Open: requests are rejected without touching the transport; after
//     ResetTimeout the breaker transitions to HalfOpen.
//   - HalfOpen: a limited number of probe requests are allowed through; a
//     probe success closes the breaker and clears failure history, a probe
//     failure reopens it and re-arms the timer.
//
// Each breaker is independent and keyed by name; one endpoint's failures
// never affect another's circuit. Breakers are created lazily by the
// Registry on first use and persist for the process lifetime.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected without reaching the
// transport because the circuit is open (or half-open with no probe slots
// remaining).
var ErrCircuitOpen = errors.New("circuit open")

// State represents the current circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the circuit breaker parameters.
type Config struct {
	// FailureThreshold is the number of failures within Window that trips
	// the breaker to Open.
	FailureThreshold int

	// MinimumRequests is the floor of observed requests within Window
	// before the breaker may trip. Prevents opening on the very first
	// failures of a barely used endpoint.
	MinimumRequests int

	// Window is the rolling monitor window. Failures older than Window are
	// pruned before threshold evaluation.
	Window time.Duration

	// ResetTimeout is how long the breaker stays Open before transitioning
	// to HalfOpen.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of trial requests allowed through while
	// HalfOpen. Further requests are rejected like Open. A small probe
	// budget keeps a recovering endpoint from being flooded the instant
	// the timeout elapses.
	HalfOpenProbes int

	// IsFailure determines whether an error counts against the breaker.
	// Default: all non-nil errors count.
	IsFailure func(err error) bool
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		MinimumRequests:  5,
		Window:           60 * time.Second,
		ResetTimeout:     30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Breaker is the state machine for one named circuit. All methods are safe
// for concurrent use.
type Breaker struct {
	mu sync.Mutex

	name   string
	config Config

	state      State
	failures   []time.Time // failure timestamps within the window
	requests   []time.Time // request timestamps within the window
	probesUsed int
	openedAt   time.Time
	resetAt    time.Time

	nowFunc func() time.Time // for testing; defaults to time.Now
}

// New creates a Breaker with the given name and configuration.
func New(name string, config Config) *Breaker {
	defaults := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.MinimumRequests <= 0 {
		config.MinimumRequests = defaults.MinimumRequests
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = defaults.ResetTimeout
	}
	if config.HalfOpenProbes <= 0 {
		config.HalfOpenProbes = defaults.HalfOpenProbes
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &Breaker{
		name:    name,
		config:  config,
		state:   StateClosed,
		nowFunc: time.Now,
	}
}

// Allow reports whether a call may proceed. It returns nil when the circuit
// is Closed, or HalfOpen with a probe slot remaining (the slot is consumed).
// It returns ErrCircuitOpen when the circuit is Open or HalfOpen with the
// probe budget spent.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkResetLocked()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probesUsed >= b.config.HalfOpenProbes {
			breakerRejections.WithLabelValues(b.name).Inc()
			return ErrCircuitOpen
		}
		b.probesUsed++
		return nil
	default: // StateOpen
		breakerRejections.WithLabelValues(b.name).Inc()
		return ErrCircuitOpen
	}
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.requests = append(b.requests, b.now())
		b.pruneLocked()
	case StateHalfOpen:
		// Probe success: close and clear failure history
		b.toClosedLocked()
	}
}

// OnFailure records a failed call. In Closed state the breaker trips to
// Open once the window holds at least MinimumRequests requests and
// FailureThreshold failures. In HalfOpen a failed probe reopens immediately.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		now := b.now()
		b.requests = append(b.requests, now)
		b.failures = append(b.failures, now)
		b.pruneLocked()
		breakerFailures.WithLabelValues(b.name).Inc()

		if len(b.requests) >= b.config.MinimumRequests &&
			len(b.failures) >= b.config.FailureThreshold {
			b.toOpenLocked()
		}
	case StateHalfOpen:
		breakerFailures.WithLabelValues(b.name).Inc()
		b.toOpenLocked()
	}
}

// OnIgnored records a call whose outcome counts neither as success nor
// failure, such as caller cancellation. In HalfOpen the consumed probe
// slot is returned so the endpoint can still be probed; without this a
// cancelled probe would leave the circuit half-open with no slots and no
// reset timer, rejecting every later call.
func (b *Breaker) OnIgnored() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probesUsed > 0 {
		b.probesUsed--
	}
}

// State returns the current state of the breaker. In Open state it may
// auto-transition to HalfOpen if the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkResetLocked()
	return b.state
}

// FailureCount returns the number of failures currently inside the window.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return len(b.failures)
}

// Reset forces the breaker back to Closed and clears all history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toClosedLocked()
}

// checkResetLocked transitions Open to HalfOpen once resetAt has elapsed.
// Must be called with b.mu held.
func (b *Breaker) checkResetLocked() {
	if b.state == StateOpen && !b.now().Before(b.resetAt) {
		b.state = StateHalfOpen
		b.probesUsed = 0
		b.recordStateLocked()
	}
}

// pruneLocked drops request and failure timestamps older than the window.
// Must be called with b.mu held.
func (b *Breaker) pruneLocked() {
	cutoff := b.now().Add(-b.config.Window)
	b.failures = pruneBefore(b.failures, cutoff)
	b.requests = pruneBefore(b.requests, cutoff)
}

func (b *Breaker) toOpenLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.resetAt = b.openedAt.Add(b.config.ResetTimeout)
	b.probesUsed = 0
	b.recordStateLocked()
}

func (b *Breaker) toClosedLocked() {
	b.state = StateClosed
	b.failures = nil
	b.requests = nil
	b.probesUsed = 0
	b.recordStateLocked()
}

func (b *Breaker) recordStateLocked() {
	breakerState.WithLabelValues(b.name).Set(float64(b.state))
	breakerTransitions.WithLabelValues(b.name, b.state.String()).Inc()
}

func (b *Breaker) now() time.Time {
	if b.nowFunc != nil {
		return b.nowFunc()
	}
	return time.Now()
}

// pruneBefore returns ts without timestamps strictly before cutoff.
// Timestamps are appended in order, so the first surviving index is enough.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
