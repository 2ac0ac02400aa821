package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowScript string

// DefaultRedisKeyPrefix namespaces limiter keys.
const DefaultRedisKeyPrefix = "replyguard:ratelimit:"

// RedisPool is a Pool whose counters live in Redis, so several replicas
// share one budget per identity. The check and increment run in a single
// Lua script.
//
// Redis failures fail open: the request is admitted and a warning logged.
type RedisPool struct {
	client redis.UniversalClient
	script *redis.Script
	policy Policy
	prefix string
	now    func() time.Time
}

// NewRedisPool creates a pool for kind. The key prefix defaults to
// DefaultRedisKeyPrefix when empty.
func NewRedisPool(client redis.UniversalClient, kind Kind, policy Policy, prefix string) *RedisPool {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisPool{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		policy: policy,
		prefix: prefix + string(kind) + ":",
		now:    time.Now,
	}
}

// Acquire implements Pool.
func (p *RedisPool) Acquire(ctx context.Context, identity string) Decision {
	res, err := p.script.Run(ctx, p.client, []string{p.prefix + identity},
		p.policy.Limit,
		p.policy.Window.Milliseconds(),
	).Int64Slice()
	if err == nil && len(res) != 3 {
		err = fmt.Errorf("unexpected script result length %d", len(res))
	}
	if err != nil {
		slog.Warn("redis rate limiter unavailable, admitting request",
			"key", p.prefix+identity,
			"error", err,
		)
		return Decision{Allowed: true, Remaining: p.policy.Limit}
	}

	allowed, count, ttl := res[0] == 1, int(res[1]), time.Duration(res[2])*time.Millisecond
	d := Decision{
		Allowed: allowed,
		ResetAt: p.now().Add(ttl),
	}
	if allowed {
		d.Remaining = max(p.policy.Limit-count, 0)
	} else {
		d.RetryAfter = ttl
	}
	return d
}

// Policy implements Pool.
func (p *RedisPool) Policy() Policy {
	return p.policy
}

// Close implements Pool. The Redis client is owned by the caller.
func (p *RedisPool) Close() error {
	return nil
}

// NewRedisRegistry creates a Registry whose pools share one Redis client.
func NewRedisRegistry(client redis.UniversalClient, login, generation Policy, prefix string) *Registry {
	return NewRegistry(
		NewRedisPool(client, KindLogin, login, prefix),
		NewRedisPool(client, KindGeneration, generation, prefix),
	)
}

// NewRedisClient parses url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
