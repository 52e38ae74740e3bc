// Package ratelimit implements a sliding-window request limiter over a
// pluggable counter store.
//
// Every admitted request records a timestamp under its key. A request is
// admitted while fewer than Limit timestamps fall inside the trailing
// Window. Check and charge happen atomically per key inside the store.
//
// MemoryStore keeps counters in process, so with N replicas the effective
// quota is N times Limit. RedisStore shares counters across replicas.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Defaults applied by the gateway when nothing is configured
const (
	DefaultLimit  = 20
	DefaultWindow = 60 * time.Second
)

// ErrInvalidConfig is returned for a non-positive limit or window
var ErrInvalidConfig = errors.New("invalid rate limit configuration")

// CounterStore records hits per key. Hit must atomically discard entries at
// or before now-window, then record now only if fewer than limit remain.
type CounterStore interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Usage, error)
}

// Usage is what a store reports after a hit
type Usage struct {
	Allowed bool
	Count   int       // Entries in the window after the hit
	Oldest  time.Time // Earliest entry still in the window, zero if none
}

// Result describes the outcome of one Allow call
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time     // When the oldest counted request leaves the window
	RetryAfter time.Duration // Zero when allowed
}

// Limiter admits requests per key
type Limiter struct {
	store  CounterStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter admitting limit requests per window
func New(store CounterStore, limit int, window time.Duration, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("%w: limit=%d window=%s", ErrInvalidConfig, limit, window)
	}
	l := &Limiter{store: store, limit: limit, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Limit returns the configured request count
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window length
func (l *Limiter) Window() time.Duration { return l.window }

// Allow checks and charges one request against key
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	usage, err := l.store.Hit(ctx, key, now, l.window, l.limit)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store: %w", err)
	}

	res := Result{
		Allowed:   usage.Allowed,
		Limit:     l.limit,
		Remaining: l.limit - usage.Count,
		ResetAt:   now.Add(l.window),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !usage.Oldest.IsZero() {
		res.ResetAt = usage.Oldest.Add(l.window)
	}
	if !res.Allowed {
		res.RetryAfter = res.ResetAt.Sub(now)
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Millisecond
		}
		if res.RetryAfter > l.window {
			res.RetryAfter = l.window
		}
	}
	return res, nil
}

// HashKey derives an opaque counter key so raw session ids and client IPs
// never reach the store
func HashKey(salt, kind, raw string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(raw))
	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}
