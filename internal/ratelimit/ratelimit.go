// Package ratelimit implements a fixed-window request counter on top of the
// persistent key-value tier.
//
// Windows are aligned to wall-clock multiples of the window length and do not
// slide, so a client can spend its full budget at the end of one window and
// again at the start of the next: up to twice the limit across a boundary.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/A1anMc/GrantSGE/internal/kvstore"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/metrics"
)

// ErrLimited is returned by callers that turn a limited Decision into an error.
var ErrLimited = errors.New("rate limit exceeded")

// Config describes one limiter.
type Config struct {
	// Prefix namespaces this limiter's counters, e.g. "rl:api".
	Prefix string
	// Limit is the number of requests allowed per window.
	Limit int
	Window time.Duration
	// FailOpen treats store errors as allowed. When false the error is returned.
	FailOpen bool
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the store failed and the limiter failed open.
	Degraded bool
}

// RetryAfter is the time until the current window closes.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter is a fixed-window limiter. It holds no per-client state of its own.
type Limiter struct {
	store kvstore.Store
	cfg   Config
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock used to pick windows.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New builds a limiter. Limit and Window must be positive.
func New(store kvstore.Store, cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", cfg.Limit)
	}
	if cfg.Window < time.Second {
		return nil, fmt.Errorf("ratelimit: window must be at least 1s, got %s", cfg.Window)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rate_limit"
	}
	l := &Limiter{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logger.WithComponent("ratelimit").With("limiter", cfg.Prefix)
	return l, nil
}

// Config returns the limiter's settings.
func (l *Limiter) Config() Config { return l.cfg }

// Now reports the limiter's clock.
func (l *Limiter) Now() time.Time { return l.now() }

func (l *Limiter) window(now time.Time) (index int64, resetAt time.Time) {
	secs := int64(l.cfg.Window / time.Second)
	index = now.Unix() / secs
	return index, time.Unix((index+1)*secs, 0)
}

// Key returns the counter key for identifier in the window containing now.
func (l *Limiter) Key(identifier string, now time.Time) string {
	idx, _ := l.window(now)
	return l.cfg.Prefix + ":" + identifier + ":" + strconv.FormatInt(idx, 10)
}

// IsRateLimited reports whether identifier has exhausted the current window.
// Allowed calls are counted.
func (l *Limiter) IsRateLimited(ctx context.Context, identifier string) (bool, error) {
	d, err := l.Allow(ctx, identifier)
	return !d.Allowed, err
}

// Allow checks and counts one request for identifier.
//
// The first request in a window creates the counter at 1 with a TTL of one
// window. Later requests increment it while it is below the limit. Once the
// limit is reached the counter is left untouched.
func (l *Limiter) Allow(ctx context.Context, identifier string) (Decision, error) {
	now := l.now()
	_, resetAt := l.window(now)
	key := l.Key(identifier, now)
	d := Decision{Limit: l.cfg.Limit, ResetAt: resetAt}

	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		if err := l.store.SetEX(ctx, key, []byte("1"), l.cfg.Window); err != nil {
			return l.storeFailure(ctx, d, key, err)
		}
		d.Allowed = true
		d.Remaining = l.cfg.Limit - 1
		metrics.RateLimitDecisions.WithLabelValues(l.cfg.Prefix, "allowed").Inc()
		return d, nil
	}
	if err != nil {
		return l.storeFailure(ctx, d, key, err)
	}

	count, convErr := strconv.Atoi(string(raw))
	if convErr != nil {
		return l.storeFailure(ctx, d, key, fmt.Errorf("corrupt counter %q: %w", raw, convErr))
	}
	if count >= l.cfg.Limit {
		metrics.RateLimitDecisions.WithLabelValues(l.cfg.Prefix, "limited").Inc()
		return d, nil
	}

	n, err := l.store.Incr(ctx, key)
	if err != nil {
		return l.storeFailure(ctx, d, key, err)
	}
	d.Allowed = true
	d.Remaining = max(l.cfg.Limit-int(n), 0)
	metrics.RateLimitDecisions.WithLabelValues(l.cfg.Prefix, "allowed").Inc()
	return d, nil
}

func (l *Limiter) storeFailure(ctx context.Context, d Decision, key string, err error) (Decision, error) {
	if !l.cfg.FailOpen {
		return d, fmt.Errorf("ratelimit %s: %w", key, err)
	}
	l.log.WarnContext(ctx, "rate limit store unavailable, allowing request", "key", key, "error", err)
	metrics.RateLimitDecisions.WithLabelValues(l.cfg.Prefix, "fail_open").Inc()
	d.Allowed = true
	d.Degraded = true
	d.Remaining = l.cfg.Limit
	return d, nil
}
