package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/A1anMc/GrantSGE/internal/logger"
)

// StatusCounter reports how many grants exist per status.
type StatusCounter interface {
	CountGrantsByStatus(ctx context.Context) (map[string]int64, error)
}

// Collector periodically samples process and catalogue gauges.
type Collector struct {
	counter  StatusCounter
	interval time.Duration
	stop     chan struct{}
	seen     map[string]struct{}
}

// NewCollector creates a new metrics collector. counter may be nil when no
// database is configured.
func NewCollector(counter StatusCounter, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Collector{
		counter:  counter,
		interval: interval,
		stop:     make(chan struct{}),
		seen:     make(map[string]struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)

	for {
		select {
		case <-ticker.C:
			c.collect(ctx)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) collect(ctx context.Context) {
	c.collectRuntime()
	c.collectGrantCounts(ctx)
}

func (c *Collector) collectRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	SystemMemoryBytes.Set(float64(ms.HeapInuse))
	Goroutines.Set(float64(runtime.NumGoroutine()))
}

func (c *Collector) collectGrantCounts(ctx context.Context) {
	if c.counter == nil {
		return
	}
	counts, err := c.counter.CountGrantsByStatus(ctx)
	if err != nil {
		logger.Warn("error counting grants by status", "error", err)
		MetricsCollectionErrors.WithLabelValues("grants").Inc()
		for status := range c.seen {
			GrantsByStatus.WithLabelValues(status).Set(-1) // stale
		}
		return
	}
	for status := range c.seen {
		if _, ok := counts[status]; !ok {
			GrantsByStatus.WithLabelValues(status).Set(0)
		}
	}
	for status, n := range counts {
		c.seen[status] = struct{}{}
		GrantsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
