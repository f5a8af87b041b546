package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/A1anMc/GrantSGE/internal/kvstore"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/metrics"
)

// DefaultVersion is the namespace applied to keys until UpdateVersion is called.
const DefaultVersion = "1.0"

// ErrInfra wraps persistent tier failures surfaced when degradation is disabled.
var ErrInfra = errors.New("cache: persistent tier error")

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no memory-tier expiry
}

// Tiered is a two-level cache: an in-process map owned by the instance in
// front of a shared persistent key-value store. Every key is namespaced by
// the current version before either tier is touched.
//
// The persistent tier is written without expiry. Concurrent writers to the
// persistent tier race with last-write-wins semantics.
type Tiered struct {
	store   kvstore.Store
	degrade bool
	now     func() time.Time
	log     *slog.Logger

	mu      sync.RWMutex
	version string
	mem     map[string]memEntry

	hits        atomic.Uint64
	misses      atomic.Uint64
	infraErrors atomic.Uint64
}

// TieredOption configures a Tiered cache.
type TieredOption func(*Tiered)

// WithVersion sets the initial key namespace.
func WithVersion(v string) TieredOption {
	return func(t *Tiered) { t.version = v }
}

// WithDegradeOnInfraError controls whether persistent tier errors are logged
// and swallowed (true, the default) or returned to the caller.
func WithDegradeOnInfraError(degrade bool) TieredOption {
	return func(t *Tiered) { t.degrade = degrade }
}

// WithClock overrides the clock used for memory-tier expiry.
func WithClock(now func() time.Time) TieredOption {
	return func(t *Tiered) { t.now = now }
}

// WithLogger sets the logger used for swallowed infra errors.
func WithLogger(l *slog.Logger) TieredOption {
	return func(t *Tiered) { t.log = l }
}

// NewTiered builds a cache over store. A nil store makes the cache memory-only.
func NewTiered(store kvstore.Store, opts ...TieredOption) *Tiered {
	t := &Tiered{
		store:   store,
		degrade: true,
		now:     time.Now,
		version: DefaultVersion,
		mem:     make(map[string]memEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.WithComponent("tiered_cache")
	}
	return t
}

// versioned must be called with mu held.
func (t *Tiered) versioned(key string) string {
	return t.version + ":" + key
}

// infra decides what happens to a persistent tier error.
func (t *Tiered) infra(ctx context.Context, op, key string, err error) error {
	t.infraErrors.Add(1)
	metrics.TieredCacheInfraErrors.WithLabelValues(op).Inc()
	if t.degrade {
		t.log.WarnContext(ctx, "persistent tier error, degrading", "op", op, "key", key, "error", err)
		return nil
	}
	return fmt.Errorf("%w: %s %q: %v", ErrInfra, op, key, err)
}

// Get returns the value for key. The bool is false when both tiers miss.
// A persistent hit is promoted into the memory tier without expiry.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	t.mu.Lock()
	vk := t.versioned(key)
	if e, ok := t.mem[vk]; ok {
		if e.expiresAt.IsZero() || t.now().Before(e.expiresAt) {
			t.mu.Unlock()
			t.recordHit("memory")
			return e.value, true, nil
		}
		delete(t.mem, vk)
	}
	t.mu.Unlock()

	if t.store == nil {
		t.recordMiss()
		return nil, false, nil
	}

	raw, err := t.store.Get(ctx, vk)
	switch {
	case err == nil:
		t.mu.Lock()
		// Skip promotion if the version moved while the store was queried.
		if t.versioned(key) == vk {
			t.mem[vk] = memEntry{value: raw}
		}
		t.mu.Unlock()
		t.recordHit("persistent")
		return raw, true, nil
	case errors.Is(err, kvstore.ErrNotFound):
		t.recordMiss()
		return nil, false, nil
	default:
		t.recordMiss()
		return nil, false, t.infra(ctx, "get", vk, err)
	}
}

// Set writes value to the memory tier unconditionally and to the persistent
// tier without expiry. memoryTTL <= 0 means the memory copy never expires.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, memoryTTL time.Duration) error {
	t.mu.Lock()
	vk := t.versioned(key)
	e := memEntry{value: value}
	if memoryTTL > 0 {
		e.expiresAt = t.now().Add(memoryTTL)
	}
	t.mem[vk] = e
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	if err := t.store.Set(ctx, vk, value); err != nil {
		return t.infra(ctx, "set", vk, err)
	}
	return nil
}

// Invalidate removes key from both tiers.
func (t *Tiered) Invalidate(ctx context.Context, key string) error {
	t.mu.Lock()
	vk := t.versioned(key)
	delete(t.mem, vk)
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	if err := t.store.Delete(ctx, vk); err != nil {
		return t.infra(ctx, "delete", vk, err)
	}
	return nil
}

// InvalidatePattern removes every key beginning with prefix from both tiers.
// The scan and delete are not atomic; a concurrent writer may repopulate a
// matching key during the sweep.
func (t *Tiered) InvalidatePattern(ctx context.Context, prefix string) (int, error) {
	t.mu.Lock()
	vp := t.versioned(prefix)
	removed := 0
	for k := range t.mem {
		if strings.HasPrefix(k, vp) {
			delete(t.mem, k)
			removed++
		}
	}
	t.mu.Unlock()

	if t.store == nil {
		return removed, nil
	}
	keys, err := t.store.Scan(ctx, vp)
	if err != nil {
		return removed, t.infra(ctx, "scan", vp, err)
	}
	if len(keys) == 0 {
		return removed, nil
	}
	if err := t.store.Delete(ctx, keys...); err != nil {
		return removed, t.infra(ctx, "delete", vp, err)
	}
	if len(keys) > removed {
		removed = len(keys)
	}
	return removed, nil
}

// UpdateVersion switches the key namespace and clears the memory tier.
// Persistent entries under the old version are left in place.
func (t *Tiered) UpdateVersion(v string) {
	t.mu.Lock()
	t.version = v
	t.mem = make(map[string]memEntry)
	t.mu.Unlock()
}

// Version returns the current key namespace.
func (t *Tiered) Version() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// ClearAll empties the memory tier and flushes the persistent tier.
func (t *Tiered) ClearAll(ctx context.Context) error {
	t.mu.Lock()
	t.mem = make(map[string]memEntry)
	t.mu.Unlock()

	if t.store == nil {
		return nil
	}
	if err := t.store.Flush(ctx); err != nil {
		return t.infra(ctx, "flush", "*", err)
	}
	return nil
}

func (t *Tiered) recordHit(tier string) {
	t.hits.Add(1)
	metrics.TieredCacheHits.WithLabelValues(tier).Inc()
}

func (t *Tiered) recordMiss() {
	t.misses.Add(1)
	metrics.TieredCacheMisses.Inc()
}

// TieredStats is a point-in-time snapshot of cache counters.
type TieredStats struct {
	Version     string `json:"version"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	InfraErrors uint64 `json:"infra_errors"`
	MemoryItems int    `json:"memory_items"`
}

// Stats returns the hit, miss and infra-error counters.
func (t *Tiered) Stats() TieredStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TieredStats{
		Version:     t.version,
		Hits:        t.hits.Load(),
		Misses:      t.misses.Load(),
		InfraErrors: t.infraErrors.Load(),
		MemoryItems: len(t.mem),
	}
}

// Ping checks the persistent tier.
func (t *Tiered) Ping(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	return t.store.Ping(ctx)
}
