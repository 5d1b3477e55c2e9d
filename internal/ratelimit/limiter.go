// Package ratelimit implements a fixed-window counter on the cache substrate.
// Windows are non-overlapping, so up to 2x the limit can pass across a window
// edge; that artifact is accepted in exchange for O(1) state per principal.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"linkly-be/internal/cache"
)

const keyPrefix = "ratelimit:"

// Result describes a rate-limit decision
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the time until the current window expires; callers can use it
	// for a Retry-After hint.
	Reset time.Duration
}

// Limiter counts events per identifier in fixed windows backed by an
// expiring cache. A nil cache disables limiting (every check is allowed).
type Limiter struct {
	cache cache.Cache
}

// New creates a fixed-window limiter on top of c
func New(c cache.Cache) *Limiter {
	return &Limiter{cache: c}
}

// Check increments the counter for identifier and reports whether the event
// is within limit for the current window. The first event in a window sets
// the window's expiry.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) (*Result, error) {
	if l.cache == nil {
		return &Result{Allowed: true, Limit: limit, Remaining: limit, Reset: 0}, nil
	}

	key := keyPrefix + identifier

	count, err := l.cache.Increment(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.cache.Expire(ctx, key, window); err != nil {
			return nil, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	reset, err := l.cache.TTL(ctx, key)
	if err != nil {
		reset = 0
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}
