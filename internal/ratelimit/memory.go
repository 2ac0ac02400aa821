package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCleanupInterval is how often expired entries are evicted.
const DefaultCleanupInterval = 5 * time.Minute

// window is the fixed-window state for one identity.
type window struct {
	mu      sync.Mutex
	start   time.Time
	count   int
	evicted bool
}

// MemoryPool is an in-memory Pool. Entries are created lazily on first use;
// creation goes through sync.Map.LoadOrStore so concurrent first requests
// for an identity share one entry. Each entry has its own mutex, so
// different identities never contend.
type MemoryPool struct {
	policy          Policy
	now             func() time.Time
	cleanupInterval time.Duration

	entries sync.Map // map[string]*window
	size    atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a MemoryPool.
type MemoryOption func(*MemoryPool)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(p *MemoryPool) {
		p.now = now
	}
}

// WithCleanupInterval sets how often expired entries are evicted.
// A non-positive interval disables the background janitor.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(p *MemoryPool) {
		p.cleanupInterval = d
	}
}

// NewMemoryPool creates an in-memory pool enforcing policy.
func NewMemoryPool(policy Policy, opts ...MemoryOption) *MemoryPool {
	p := &MemoryPool{
		policy:          policy,
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.cleanupInterval > 0 {
		go p.cleanupLoop()
	}
	return p
}

// Acquire implements Pool.
func (p *MemoryPool) Acquire(_ context.Context, identity string) Decision {
	for {
		w := p.load(identity)

		w.mu.Lock()
		if w.evicted {
			// Lost a race with the janitor; the next load creates a fresh entry.
			w.mu.Unlock()
			continue
		}
		d := p.acquireLocked(w)
		w.mu.Unlock()
		return d
	}
}

func (p *MemoryPool) acquireLocked(w *window) Decision {
	now := p.now()
	resetAt := w.start.Add(p.policy.Window)
	if !now.Before(resetAt) {
		w.start = now
		w.count = 0
		resetAt = now.Add(p.policy.Window)
	}

	if w.count < p.policy.Limit {
		w.count++
		return Decision{
			Allowed:   true,
			Remaining: p.policy.Limit - w.count,
			ResetAt:   resetAt,
		}
	}

	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: resetAt.Sub(now),
		ResetAt:    resetAt,
	}
}

// load returns the entry for identity, creating it if needed.
func (p *MemoryPool) load(identity string) *window {
	if v, ok := p.entries.Load(identity); ok {
		return v.(*window)
	}

	fresh := &window{start: p.now()}
	v, loaded := p.entries.LoadOrStore(identity, fresh)
	if !loaded {
		p.size.Add(1)
	}
	return v.(*window)
}

// Policy implements Pool.
func (p *MemoryPool) Policy() Policy {
	return p.policy
}

// Len returns the number of live entries.
func (p *MemoryPool) Len() int {
	return int(p.size.Load())
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (p *MemoryPool) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}

func (p *MemoryPool) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictExpired()
		case <-p.done:
			return
		}
	}
}

// evictExpired drops entries whose window has ended. The next request for
// such an identity would reset the window anyway, so eviction is invisible
// to callers.
func (p *MemoryPool) evictExpired() {
	now := p.now()
	p.entries.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		if !now.Before(w.start.Add(p.policy.Window)) {
			w.evicted = true
			if p.entries.CompareAndDelete(key, w) {
				p.size.Add(-1)
			}
		}
		w.mu.Unlock()
		return true
	})
}
