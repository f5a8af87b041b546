// Package memo wraps expensive operations so their results are served from the
// tiered cache when the same arguments are seen again.
//
// There is no single-flight: concurrent callers racing on a cold key may each
// invoke the wrapped function.
package memo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/A1anMc/GrantSGE/internal/logger"
)

// Cache is the subset of *cache.Tiered the memoizer needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, memoryTTL time.Duration) error
}

// Args carries positional and named arguments of a memoized call.
type Args struct {
	Positional []any
	Named      map[string]any
}

// Key derives a cache key as prefix:p1:p2:k1:v1:k2:v2 with named arguments
// sorted by name.
func Key(prefix string, positional []any, named map[string]any) string {
	parts := make([]string, 0, 1+len(positional)+2*len(named))
	parts = append(parts, prefix)
	for _, a := range positional {
		parts = append(parts, fmt.Sprint(a))
	}
	names := make([]string, 0, len(named))
	for k := range named {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		parts = append(parts, k, fmt.Sprint(named[k]))
	}
	return strings.Join(parts, ":")
}

type options struct {
	memoryTTL time.Duration
	onHit     func()
	onMiss    func()
}

// Option configures a memoized function.
type Option func(*options)

// WithMemoryTTL bounds how long results stay in the in-process tier.
func WithMemoryTTL(ttl time.Duration) Option {
	return func(o *options) { o.memoryTTL = ttl }
}

// WithHooks registers callbacks fired on cache hits and misses.
func WithHooks(onHit, onMiss func()) Option {
	return func(o *options) {
		o.onHit = onHit
		o.onMiss = onMiss
	}
}

func buildOptions(opts []Option) options {
	o := options{onHit: func() {}, onMiss: func() {}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.onHit == nil {
		o.onHit = func() {}
	}
	if o.onMiss == nil {
		o.onMiss = func() {}
	}
	return o
}

// GetOrCompute returns the cached value under key or computes, stores and
// returns it. Errors from compute propagate and are not cached. Cache read
// failures count as a miss and write failures are logged.
func GetOrCompute[R any](ctx context.Context, c Cache, key string, compute func(context.Context) (R, error), opts ...Option) (R, error) {
	o := buildOptions(opts)
	return getOrCompute(ctx, c, key, compute, o)
}

func getOrCompute[R any](ctx context.Context, c Cache, key string, compute func(context.Context) (R, error), o options) (R, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "memo cache read failed, computing", "key", key, "error", err)
	}
	if ok {
		var cached R
		if err := json.Unmarshal(raw, &cached); err == nil {
			o.onHit()
			return cached, nil
		}
		logger.WarnContext(ctx, "memo cache entry undecodable, recomputing", "key", key)
	}
	o.onMiss()

	result, err := compute(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		logger.WarnContext(ctx, "memo result not serializable, skipping cache", "key", key, "error", err)
		return result, nil
	}
	if err := c.Set(ctx, key, encoded, o.memoryTTL); err != nil {
		logger.WarnContext(ctx, "memo cache write failed", "key", key, "error", err)
	}
	return result, nil
}

// Wrap memoizes a single-argument function under prefix.
func Wrap[A, R any](c Cache, prefix string, fn func(context.Context, A) (R, error), opts ...Option) func(context.Context, A) (R, error) {
	o := buildOptions(opts)
	return func(ctx context.Context, arg A) (R, error) {
		key := Key(prefix, []any{arg}, nil)
		return getOrCompute(ctx, c, key, func(ctx context.Context) (R, error) {
			return fn(ctx, arg)
		}, o)
	}
}

// WrapArgs memoizes a function taking positional and named arguments.
func WrapArgs[R any](c Cache, prefix string, fn func(context.Context, Args) (R, error), opts ...Option) func(context.Context, Args) (R, error) {
	o := buildOptions(opts)
	return func(ctx context.Context, args Args) (R, error) {
		key := Key(prefix, args.Positional, args.Named)
		return getOrCompute(ctx, c, key, func(ctx context.Context) (R, error) {
			return fn(ctx, args)
		}, o)
	}
}
