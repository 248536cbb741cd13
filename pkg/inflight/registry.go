// Package inflight suppresses duplicate concurrent requests for the same
// logical key. All callers issued before the first call settles share one
// producer invocation and observe the same result.
//
// The registry is built on golang.org/x/sync/singleflight and adds two
// behaviors the orchestrator needs: a caller can abandon its own wait via
// context without disturbing other waiters, and the producer itself can be
// aborted once the last interested caller has gone (reference-counted
// cancellation, opt-in via Config.CancelAbandoned).
package inflight

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Config holds the registry configuration.
type Config struct {
	// CancelAbandoned aborts the underlying producer once every waiter has
	// cancelled its own wait. When false the producer always runs to
	// completion even with no one listening.
	CancelAbandoned bool
}

// Registry deduplicates concurrent calls per key. Safe for concurrent use.
type Registry struct {
	config Config
	group  singleflight.Group

	mu        sync.Mutex
	producers map[string]*producer

	logger zerolog.Logger
}

// producer tracks the shared call for one key: its detached context and
// the number of callers still waiting on it.
type producer struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
	settled bool
}

// NewRegistry creates a new in-flight registry.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:    config,
		producers: make(map[string]*producer),
		logger:    log.With().Str("component", "inflight").Logger(),
	}
}

// Do executes fn under key, deduplicating concurrent callers: while a call
// for key is in flight, additional callers wait for its result instead of
// invoking fn again. The returned bool reports whether the result was
// shared with at least one other caller.
//
// fn receives a context detached from any single caller: it carries the
// first caller's values but not its cancellation, so one caller abandoning
// its wait cannot fail the call for everyone else. When CancelAbandoned is
// set, the context is cancelled once the last waiter has gone.
//
// The registration is removed the instant fn settles, success or failure;
// a failed call never blocks subsequent callers.
func (r *Registry) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	p := r.acquire(ctx, key)

	ch := r.group.DoChan(key, func() (interface{}, error) {
		defer r.settle(key, p)
		return fn(p.ctx)
	})

	select {
	case res := <-ch:
		r.release(key, p)
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.([]byte), res.Shared, nil

	case <-ctx.Done():
		r.release(key, p)
		r.logger.Debug().
			Str("key", key).
			Msg("Caller abandoned in-flight wait")
		return nil, false, ctx.Err()
	}
}

// Forget removes the registration for key so the next Do starts a fresh
// call instead of joining an in-flight one.
func (r *Registry) Forget(key string) {
	r.group.Forget(key)

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.producers[key]; ok {
		p.settled = true
		delete(r.producers, key)
	}
}

// InFlight returns the number of keys with an outstanding call.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers)
}

// acquire registers a waiter for key, creating the shared producer record
// on first use. The producer context is derived from the first caller's
// context with cancellation detached.
func (r *Registry) acquire(ctx context.Context, key string) *producer {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.producers[key]
	if !ok {
		pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p = &producer{ctx: pctx, cancel: cancel}
		r.producers[key] = p
	}
	p.waiters++
	return p
}

// release drops one waiter. When the last waiter has gone before the call
// settled and CancelAbandoned is set, the producer is aborted and the key
// forgotten so later callers start fresh.
func (r *Registry) release(key string, p *producer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.waiters--
	if p.waiters > 0 || p.settled {
		return
	}

	if r.config.CancelAbandoned {
		p.settled = true
		p.cancel()
		r.group.Forget(key)
		if r.producers[key] == p {
			delete(r.producers, key)
		}
		r.logger.Debug().
			Str("key", key).
			Msg("Aborted in-flight call with no remaining waiters")
	}
}

// settle marks the producer finished and removes its registration.
func (r *Registry) settle(key string, p *producer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !p.settled {
		p.settled = true
		p.cancel()
	}
	if r.producers[key] == p {
		delete(r.producers, key)
	}
}
