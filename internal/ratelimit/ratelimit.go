// Package ratelimit provides fixed-window request limiting keyed by user.
//
// Each key gets at most Limit requests per Window. The window starts on a
// key's first request and resets lazily on the first request after it ends.
// Two backends are available:
//   - MemoryLimiter keeps windows in process memory (single instance)
//   - RedisLimiter keeps them in Redis so several instances share one budget
//
// Callers decide what happens when the limiter itself fails; the access
// gate lets the request through and logs the error.
package ratelimit

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 100

	// DefaultWindow is the window length.
	DefaultWindow = 60 * time.Second
)

// Limiter decides whether the request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool

	// Count is the number of requests seen in the current window,
	// including this one.
	Count int

	Limit     int
	Remaining int

	// RetryAfter is how long until the window resets. Only set when the
	// request is rejected.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the value for a Retry-After header: whole
// seconds rounded up, never less than one.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Config holds the window parameters shared by all backends.
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

func decide(count, limit int, untilReset time.Duration) Decision {
	d := Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: max(limit-count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = untilReset
	}
	return d
}
