package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/A1anMc/GrantSGE/internal/metrics"
)

// LRUCache is a size-bounded response cache backed by ristretto.
type LRUCache struct {
	name       string
	cache      *ristretto.Cache
	defaultTTL time.Duration
}

type lruItem struct {
	data      []byte
	expiresAt time.Time
}

// NewLRU creates a response cache bounded by maxSizeMB megabytes and roughly
// maxEntries items. name labels the cache's Prometheus series.
func NewLRU(name string, maxSizeMB, maxEntries int64, defaultTTL time.Duration) (*LRUCache, error) {
	// ristretto wants ~10 counters per expected entry.
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}
	maxCost := maxSizeMB * 1024 * 1024
	if maxCost <= 0 {
		maxCost = 1 << 20
	}

	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &LRUCache{name: name, cache: rc, defaultTTL: defaultTTL}, nil
}

func (c *LRUCache) Get(key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	if !found {
		metrics.APICacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	item, ok := val.(*lruItem)
	if !ok || time.Now().After(item.expiresAt) {
		c.cache.Del(key)
		metrics.APICacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	metrics.APICacheHits.WithLabelValues(c.name).Inc()
	return item.data, true
}

func (c *LRUCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	item := &lruItem{data: value, expiresAt: time.Now().Add(ttl)}
	// Admission may reject the item; ristretto handles eviction internally.
	_ = c.cache.Set(key, item, int64(len(value)))
	c.cache.Wait()
	c.publish()
}

func (c *LRUCache) Delete(key string) {
	c.cache.Del(key)
}

func (c *LRUCache) Clear() {
	c.cache.Clear()
	c.publish()
}

func (c *LRUCache) Stats() Stats {
	m := c.cache.Metrics
	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeysAdded: m.KeysAdded(),
		Evictions: m.KeysEvicted(),
		Size:      int64(m.CostAdded() - m.CostEvicted()),
		Items:     int64(m.KeysAdded() - m.KeysEvicted()),
	}
}

func (c *LRUCache) publish() {
	st := c.Stats()
	metrics.APICacheSize.WithLabelValues(c.name).Set(float64(st.Size))
	metrics.APICacheItems.WithLabelValues(c.name).Set(float64(st.Items))
}

// Close releases ristretto's background goroutines.
func (c *LRUCache) Close() {
	c.cache.Close()
}
