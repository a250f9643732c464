package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces limiter keys in a shared Redis.
const DefaultKeyPrefix = "deckvault:ratelimit:"

// allowScript increments the counter and starts the window on first use.
// Returns {count, pttl}.
var allowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter is a fixed-window limiter backed by Redis, shared by every
// instance pointing at the same server and prefix.
type RedisLimiter struct {
	client redis.Scripter
	cfg    Config
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisLimiter(client redis.Scripter, cfg Config, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisLimiter{client: client, cfg: cfg.withDefaults(), prefix: prefix}
}

// Allow records a request for key and reports whether it fits the window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := allowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.cfg.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	return decide(int(res[0]), l.cfg.Limit, time.Duration(res[1])*time.Millisecond), nil
}
