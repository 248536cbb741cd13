package breaker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fallback produces a substitute result when a call is rejected by an open
// circuit or fails after running.
type Fallback func(ctx context.Context, err error) ([]byte, error)

// Registry manages named breakers sharing one configuration. Breakers are
// created lazily on first use and live for the registry's lifetime.
type Registry struct {
	mu       sync.Mutex
	config   Config
	breakers map[string]*Breaker
	logger   zerolog.Logger
}

// NewRegistry creates a breaker registry. Every breaker it creates uses the
// given configuration.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
		logger:   log.With().Str("component", "breaker").Logger(),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.config)
		r.breakers[name] = b
		r.logger.Debug().Str("circuit", name).Msg("Created circuit breaker")
	}
	return b
}

// Execute runs call through the named circuit. Rejected or failed calls are
// routed to fallback when one is provided; otherwise the error is returned
// as-is. Success and failure are recorded against the circuit according to
// the configured IsFailure predicate.
func (r *Registry) Execute(ctx context.Context, name string, call func(context.Context) ([]byte, error), fallback Fallback) ([]byte, error) {
	b := r.Get(name)

	if err := b.Allow(); err != nil {
		r.logger.Warn().
			Str("circuit", name).
			Msg("Call rejected by open circuit")
		if fallback != nil {
			return fallback(ctx, err)
		}
		return nil, err
	}

	data, err := call(ctx)
	if err == nil {
		b.OnSuccess()
		return data, nil
	}

	if b.config.IsFailure(err) {
		b.OnFailure()
		if b.State() == StateOpen {
			r.logger.Warn().
				Str("circuit", name).
				Int("failures", b.FailureCount()).
				Msg("Circuit opened")
		}
	} else {
		b.OnIgnored()
	}

	if fallback != nil {
		return fallback(ctx, err)
	}
	return nil, err
}

// Reset resets every breaker in the registry to Closed.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
