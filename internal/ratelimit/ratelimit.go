// Package ratelimit provides per-identity fixed-window rate limiting for the
// login and generation actions. Decisions are immediate: there is no queuing
// and no waiting for capacity.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Kind names a limiter pool.
type Kind string

const (
	// KindLogin limits login attempts per username.
	KindLogin Kind = "login"
	// KindGeneration limits reply generation per identity.
	KindGeneration Kind = "generation"
)

// Policy is a fixed-window limit: at most Limit acquisitions per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Validate reports whether the policy can be enforced.
func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", p.Limit)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	return nil
}

// DefaultLoginPolicy allows 10 login attempts per 24 hours.
var DefaultLoginPolicy = Policy{Limit: 10, Window: 24 * time.Hour}

// DefaultGenerationPolicy allows 4 generations per minute.
var DefaultGenerationPolicy = Policy{Limit: 4, Window: time.Minute}

// Decision is the outcome of one acquisition.
type Decision struct {
	// Allowed is true when the acquisition was counted against the window.
	Allowed bool
	// Remaining is the number of acquisitions left in the current window.
	Remaining int
	// RetryAfter is the time until the current window ends. Set only when denied.
	RetryAfter time.Duration
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Pool is a keyed set of fixed-window limiters sharing one policy.
// Implementations must be safe for concurrent use.
type Pool interface {
	// Acquire counts one acquisition for identity, or denies it when the
	// window is full. It never blocks waiting for capacity.
	Acquire(ctx context.Context, identity string) Decision

	// Policy returns the limit this pool enforces.
	Policy() Policy

	// Close stops background work and releases resources.
	Close() error
}

// Hooks observes limiter decisions.
type Hooks interface {
	Decided(kind Kind, identity string, d Decision)
}

// Registry owns one Pool per Kind.
type Registry struct {
	pools map[Kind]Pool
	hooks Hooks
}

// NewRegistry creates a Registry from a login pool and a generation pool.
func NewRegistry(login, generation Pool) *Registry {
	return &Registry{
		pools: map[Kind]Pool{
			KindLogin:      login,
			KindGeneration: generation,
		},
	}
}

// NewMemoryRegistry creates a Registry backed by two in-memory pools.
func NewMemoryRegistry(login, generation Policy, opts ...MemoryOption) *Registry {
	return NewRegistry(NewMemoryPool(login, opts...), NewMemoryPool(generation, opts...))
}

// SetHooks installs decision hooks. Call before the registry is shared.
func (r *Registry) SetHooks(h Hooks) {
	r.hooks = h
}

// Acquire asks the pool for kind to admit one request from identity.
// Identities are compared exactly, without normalization.
func (r *Registry) Acquire(ctx context.Context, kind Kind, identity string) Decision {
	pool, ok := r.pools[kind]
	if !ok || pool == nil {
		slog.Error("unknown rate limiter pool", "pool", kind)
		return Decision{Allowed: false}
	}

	d := pool.Acquire(ctx, identity)
	if r.hooks != nil {
		r.hooks.Decided(kind, identity, d)
	}
	return d
}

// Policy returns the policy of the pool for kind.
func (r *Registry) Policy(kind Kind) (Policy, bool) {
	pool, ok := r.pools[kind]
	if !ok || pool == nil {
		return Policy{}, false
	}
	return pool.Policy(), true
}

// Len returns the number of live limiter entries in the pool for kind.
// Pools that keep no local state report 0.
func (r *Registry) Len(kind Kind) int {
	if sized, ok := r.pools[kind].(interface{ Len() int }); ok {
		return sized.Len()
	}
	return 0
}

// Close closes every pool.
func (r *Registry) Close() error {
	var errs []error
	for kind, pool := range r.pools {
		if pool == nil {
			continue
		}
		if err := pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s pool: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}
