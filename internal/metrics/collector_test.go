package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) CountGrantsByStatus(context.Context) (map[string]int64, error) {
	return f.counts, f.err
}

func TestCollectorGrantCounts(t *testing.T) {
	fc := &fakeCounter{counts: map[string]int64{"potential": 4, "submitted": 1}}
	c := NewCollector(fc, time.Minute)

	c.collect(context.Background())
	if got := testutil.ToFloat64(GrantsByStatus.WithLabelValues("potential")); got != 4 {
		t.Fatalf("potential = %v, want 4", got)
	}

	fc.counts = map[string]int64{"potential": 2}
	c.collect(context.Background())
	if got := testutil.ToFloat64(GrantsByStatus.WithLabelValues("submitted")); got != 0 {
		t.Fatalf("submitted should reset to 0, got %v", got)
	}

	fc.err = errors.New("db down")
	c.collect(context.Background())
	if got := testutil.ToFloat64(GrantsByStatus.WithLabelValues("potential")); got != -1 {
		t.Fatalf("expected stale marker -1, got %v", got)
	}
}

func TestCollectorRuntimeGauges(t *testing.T) {
	c := NewCollector(nil, 0)
	c.collect(context.Background())
	if testutil.ToFloat64(SystemMemoryBytes) <= 0 {
		t.Error("expected heap bytes to be sampled")
	}
	if testutil.ToFloat64(Goroutines) < 1 {
		t.Error("expected at least one goroutine")
	}
}

func TestCollectorStopsOnContextCancel(t *testing.T) {
	c := NewCollector(nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop after cancel")
	}
}

func TestCollectorStop(t *testing.T) {
	c := NewCollector(nil, 10*time.Millisecond)
	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	c.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestTimed(t *testing.T) {
	calls := 0
	fn := Timed(DraftDuration.WithLabelValues("test"), func(_ context.Context, q string) (string, error) {
		calls++
		return "draft:" + q, nil
	})
	out, err := fn(context.Background(), "why")
	if err != nil || out != "draft:why" || calls != 1 {
		t.Fatalf("unexpected result %q %v calls=%d", out, err, calls)
	}
}
