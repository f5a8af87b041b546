package cache

import (
	"net/url"
	"testing"
	"time"
)

func newTestLRU(t *testing.T, ttl time.Duration) *LRUCache {
	t.Helper()
	c, err := NewLRU("grants_list", 10, 100, ttl)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestLRUCache_SetAndGet(t *testing.T) {
	c := newTestLRU(t, time.Minute)

	c.Set("grants?status=potential", []byte(`[{"id":1}]`), 0)
	got, found := c.Get("grants?status=potential")
	if !found {
		t.Fatal("Expected to find cached value")
	}
	if string(got) != `[{"id":1}]` {
		t.Errorf("got %s", got)
	}
	if _, found := c.Get("nonexistent"); found {
		t.Error("Expected not to find nonexistent key")
	}
}

func TestLRUCache_Expiration(t *testing.T) {
	c := newTestLRU(t, time.Minute)

	c.Set("expiring", []byte("v"), 50*time.Millisecond)
	if _, found := c.Get("expiring"); !found {
		t.Fatal("Expected to find value immediately after set")
	}
	time.Sleep(80 * time.Millisecond)
	if _, found := c.Get("expiring"); found {
		t.Error("Expected value to be expired")
	}
}

func TestLRUCache_DeleteAndClear(t *testing.T) {
	c := newTestLRU(t, time.Minute)

	c.Set("key1", []byte("value1"), 0)
	c.Set("key2", []byte("value2"), 0)
	c.Delete("key1")
	if _, found := c.Get("key1"); found {
		t.Error("Expected key1 to be deleted")
	}
	c.Clear()
	if _, found := c.Get("key2"); found {
		t.Error("Expected key2 to be cleared")
	}
}

func TestLRUCache_StatsDoesNotPanic(t *testing.T) {
	c := newTestLRU(t, time.Minute)
	c.Set("key1", []byte("value1"), 0)
	_, _ = c.Get("key1")
	_ = c.Stats()
}

func TestResponseKeyIsCanonical(t *testing.T) {
	a := ResponseKey("grants", url.Values{"status": {"potential"}, "funder": {"Arts Council"}})
	b := ResponseKey("grants", url.Values{"funder": {"Arts Council"}, "status": {"potential"}})
	if a != b {
		t.Fatalf("expected identical keys, got %q and %q", a, b)
	}
	if a != "grants?funder=Arts+Council&status=potential" {
		t.Fatalf("unexpected key %q", a)
	}
	if ResponseKey("grants", nil) != "grants" {
		t.Fatal("empty query should yield the bare route")
	}
}

func TestMockCache(t *testing.T) {
	var c Cache = NewMockCache()
	c.Set("k", []byte("v"), 0)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit")
	}
	_, _ = c.Get("missing")
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Items != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
