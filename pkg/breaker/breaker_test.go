package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock drives a breaker's notion of time in tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(config Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := New("test", config)
	b.nowFunc = clock.Now
	return b, clock
}

func TestBreaker_InitialState(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() = %v, want nil", err)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 3,
		MinimumRequests:  3,
	})

	for i := 0; i < 2; i++ {
		b.OnFailure()
		if b.State() != StateClosed {
			t.Fatalf("State() after %d failures = %v, want closed", i+1, b.State())
		}
	}

	b.OnFailure()
	if b.State() != StateOpen {
		t.Errorf("State() after 3 failures = %v, want open", b.State())
	}

	if err := b.Allow(); err != ErrCircuitOpen {
		t.Errorf("Allow() while open = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_MinimumRequestsFloor(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 2,
		MinimumRequests:  5,
	})

	// 2 failures satisfy the threshold but not the request floor
	b.OnFailure()
	b.OnFailure()
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed (request floor not met)", b.State())
	}

	// Mixed traffic up to the floor trips the breaker
	b.OnSuccess()
	b.OnSuccess()
	b.OnFailure()
	if b.State() != StateOpen {
		t.Errorf("State() = %v, want open (floor and threshold met)", b.State())
	}
}

func TestBreaker_WindowPruning(t *testing.T) {
	b, clock := newTestBreaker(Config{
		FailureThreshold: 3,
		MinimumRequests:  3,
		Window:           10 * time.Second,
	})

	b.OnFailure()
	b.OnFailure()

	// Old failures age out of the window
	clock.Advance(11 * time.Second)
	if got := b.FailureCount(); got != 0 {
		t.Fatalf("FailureCount() after window = %d, want 0", got)
	}

	// A fresh failure alone must not trip the breaker
	b.OnFailure()
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed (old failures pruned)", b.State())
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b, clock := newTestBreaker(Config{
		FailureThreshold: 3,
		MinimumRequests:  3,
		ResetTimeout:     30 * time.Second,
		HalfOpenProbes:   1,
	})

	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}

	// Before the timeout calls stay rejected
	clock.Advance(29 * time.Second)
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Fatalf("Allow() before reset = %v, want ErrCircuitOpen", err)
	}

	// After the timeout exactly HalfOpenProbes calls pass
	clock.Advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() probe = %v, want nil", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half_open", b.State())
	}
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Errorf("Allow() beyond probe budget = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(Config{
		FailureThreshold: 3,
		MinimumRequests:  3,
		ResetTimeout:     30 * time.Second,
	})

	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	clock.Advance(31 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() probe = %v", err)
	}
	b.OnSuccess()

	if b.State() != StateClosed {
		t.Errorf("State() after probe success = %v, want closed", b.State())
	}
	if got := b.FailureCount(); got != 0 {
		t.Errorf("FailureCount() after close = %d, want 0 (history cleared)", got)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{
		FailureThreshold: 3,
		MinimumRequests:  3,
		ResetTimeout:     30 * time.Second,
	})

	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	clock.Advance(31 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() probe = %v", err)
	}
	b.OnFailure()

	if b.State() != StateOpen {
		t.Fatalf("State() after probe failure = %v, want open", b.State())
	}

	// Timer re-armed: still rejected until another full timeout
	clock.Advance(29 * time.Second)
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Errorf("Allow() = %v, want ErrCircuitOpen (timer re-armed)", err)
	}
	clock.Advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after re-armed timeout = %v, want nil", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 3,
		MinimumRequests:  3,
	})

	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("State() after Reset = %v, want closed", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after Reset = %v, want nil", err)
	}
}

func TestBreaker_IsFailurePredicate(t *testing.T) {
	ignored := errors.New("ignored")
	b, _ := newTestBreaker(Config{
		FailureThreshold: 2,
		MinimumRequests:  2,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, ignored)
		},
	})

	registry := NewRegistry(b.config)
	registry.breakers["test"] = b

	call := func(err error) func(context.Context) ([]byte, error) {
		return func(context.Context) ([]byte, error) { return nil, err }
	}

	// Ignored errors never trip the breaker
	for i := 0; i < 5; i++ {
		registry.Execute(context.Background(), "test", call(ignored), nil)
	}
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed (errors ignored)", b.State())
	}

	// Real errors do
	registry.Execute(context.Background(), "test", call(errors.New("boom")), nil)
	registry.Execute(context.Background(), "test", call(errors.New("boom")), nil)
	if b.State() != StateOpen {
		t.Errorf("State() = %v, want open", b.State())
	}
}

func TestBreaker_IgnoredProbeReturnsSlot(t *testing.T) {
	ignored := errors.New("ignored")
	b, clock := newTestBreaker(Config{
		FailureThreshold: 3,
		MinimumRequests:  3,
		ResetTimeout:     30 * time.Second,
		HalfOpenProbes:   1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, ignored)
		},
	})

	registry := NewRegistry(b.config)
	registry.breakers["test"] = b

	for i := 0; i < 3; i++ {
		b.OnFailure()
	}
	clock.Advance(31 * time.Second)

	// A probe that settles with an ignored error (caller cancellation)
	// must hand its slot back instead of leaving the circuit half-open
	// with no probes and no reset timer.
	_, err := registry.Execute(context.Background(), "test", func(context.Context) ([]byte, error) {
		return nil, ignored
	}, nil)
	if !errors.Is(err, ignored) {
		t.Fatalf("Execute() error = %v, want %v", err, ignored)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half_open", b.State())
	}

	// The next probe goes through and can still close the circuit
	data, err := registry.Execute(context.Background(), "test", func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	}, nil)
	if err != nil {
		t.Fatalf("Execute() after ignored probe = %v, want nil", err)
	}
	if string(data) != "ok" {
		t.Fatalf("Execute() = %q, want %q", data, "ok")
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
