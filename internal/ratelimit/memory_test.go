package ratelimit

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(clock *fakeClock) *Registry {
	return NewMemoryRegistry(DefaultLoginPolicy, DefaultGenerationPolicy,
		WithClock(clock.Now),
		WithCleanupInterval(0),
	)
}

func TestRegistry_GenerationWindow(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d := r.Acquire(ctx, KindGeneration, "alice")
		require.True(t, d.Allowed, "acquisition %d should be allowed", i+1)
		assert.Equal(t, 3-i, d.Remaining)
		clock.Advance(5 * time.Second)
	}

	d := r.Acquire(ctx, KindGeneration, "alice")
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)
	assert.Zero(t, d.Remaining)

	clock.Advance(40 * time.Second)
	d = r.Acquire(ctx, KindGeneration, "alice")
	assert.True(t, d.Allowed, "window should reset after one minute")
	assert.Equal(t, 3, d.Remaining)
}

func TestRegistry_LoginWindow(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.True(t, r.Acquire(ctx, KindLogin, "bob").Allowed)
	}

	d := r.Acquire(ctx, KindLogin, "bob")
	assert.False(t, d.Allowed)
	assert.Equal(t, 24*time.Hour, d.RetryAfter)

	clock.Advance(23 * time.Hour)
	assert.False(t, r.Acquire(ctx, KindLogin, "bob").Allowed)

	clock.Advance(time.Hour)
	assert.True(t, r.Acquire(ctx, KindLogin, "bob").Allowed)
}

func TestRegistry_PoolsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		r.Acquire(ctx, KindGeneration, "alice")
	}
	assert.False(t, r.Acquire(ctx, KindGeneration, "alice").Allowed)

	assert.True(t, r.Acquire(ctx, KindLogin, "alice").Allowed, "login pool has its own budget")
	assert.True(t, r.Acquire(ctx, KindGeneration, "carol").Allowed, "identities have their own budget")
	assert.True(t, r.Acquire(ctx, KindGeneration, "Alice").Allowed, "identities are case sensitive")
}

func TestRegistry_EmptyIdentityIsAKey(t *testing.T) {
	r := newTestRegistry(newFakeClock())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.True(t, r.Acquire(ctx, KindGeneration, "").Allowed)
	}
	assert.False(t, r.Acquire(ctx, KindGeneration, "").Allowed)
	assert.Equal(t, 1, r.Len(KindGeneration))
}

func TestRegistry_ConcurrentFirstUse(t *testing.T) {
	r := newTestRegistry(newFakeClock())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if r.Acquire(ctx, KindGeneration, "new-user").Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, r.Len(KindGeneration))
	assert.Equal(t, int32(4), allowed.Load())
}

func TestRegistry_UnknownKindIsDenied(t *testing.T) {
	r := newTestRegistry(newFakeClock())
	d := r.Acquire(context.Background(), Kind("export"), "alice")
	assert.False(t, d.Allowed)
	assert.Zero(t, r.Len(Kind("export")))
}

type recordingHooks struct {
	mu        sync.Mutex
	decisions []bool
}

func (h *recordingHooks) Decided(_ Kind, _ string, d Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decisions = append(h.decisions, d.Allowed)
}

func TestRegistry_Hooks(t *testing.T) {
	r := newTestRegistry(newFakeClock())
	hooks := &recordingHooks{}
	r.SetHooks(hooks)

	for i := 0; i < 5; i++ {
		r.Acquire(context.Background(), KindGeneration, "alice")
	}
	assert.Equal(t, []bool{true, true, true, true, false}, hooks.decisions)
}

func TestRegistry_Policy(t *testing.T) {
	r := newTestRegistry(newFakeClock())

	p, ok := r.Policy(KindGeneration)
	require.True(t, ok)
	assert.Equal(t, DefaultGenerationPolicy, p)

	_, ok = r.Policy(Kind("nope"))
	assert.False(t, ok)
}

func TestMemoryPool_EvictExpired(t *testing.T) {
	clock := newFakeClock()
	p := NewMemoryPool(DefaultGenerationPolicy, WithClock(clock.Now), WithCleanupInterval(0))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		p.Acquire(ctx, "alice")
	}
	p.Acquire(ctx, "bob")
	require.Equal(t, 2, p.Len())

	clock.Advance(30 * time.Second)
	p.evictExpired()
	assert.Equal(t, 2, p.Len(), "live windows are kept")

	clock.Advance(30 * time.Second)
	p.evictExpired()
	assert.Equal(t, 0, p.Len())

	assert.True(t, p.Acquire(ctx, "alice").Allowed)
	assert.Equal(t, 1, p.Len())
}

func TestMemoryPool_EvictedEntryIsNotReused(t *testing.T) {
	clock := newFakeClock()
	p := NewMemoryPool(DefaultGenerationPolicy, WithClock(clock.Now), WithCleanupInterval(0))
	ctx := context.Background()

	stale := p.load("alice")
	clock.Advance(time.Minute)
	p.evictExpired()
	require.True(t, stale.evicted)

	for i := 0; i < 4; i++ {
		require.True(t, p.Acquire(ctx, "alice").Allowed)
	}
	assert.False(t, p.Acquire(ctx, "alice").Allowed)
	assert.Zero(t, stale.count)
}

func TestMemoryPool_CloseIsIdempotent(t *testing.T) {
	p := NewMemoryPool(DefaultGenerationPolicy, WithCleanupInterval(time.Millisecond))
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultLoginPolicy.Validate())
	assert.Error(t, Policy{Limit: 0, Window: time.Minute}.Validate())
	assert.Error(t, Policy{Limit: 1}.Validate())
}

func TestRedisPool_FailsOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	p := NewRedisPool(client, KindGeneration, DefaultGenerationPolicy, "")
	d := p.Acquire(context.Background(), "alice")
	assert.True(t, d.Allowed)
	assert.Equal(t, DefaultGenerationPolicy, p.Policy())
}
