package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/A1anMc/GrantSGE/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store   Store
	advance func(time.Duration)
}

func backends(t *testing.T) map[string]func(t *testing.T) harness {
	return map[string]func(t *testing.T) harness{
		"memory": func(t *testing.T) harness {
			clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			return harness{store: NewMemoryWithClock(clk.Now), advance: clk.Advance}
		},
		"bolt": func(t *testing.T) harness {
			clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			s, err := OpenBolt(filepath.Join(t.TempDir(), "kv.db"), BoltOptions{Now: clk.Now})
			if err != nil {
				t.Fatalf("open bolt: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return harness{store: s, advance: clk.Advance}
		},
		"redis": func(t *testing.T) harness {
			mr := miniredis.RunT(t)
			s := NewRedis(RedisOptions{Addr: mr.Addr()})
			t.Cleanup(func() { _ = s.Close() })
			return harness{store: s, advance: mr.FastForward}
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("get missing", func(t *testing.T) {
				h := mk(t)
				if _, err := h.store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
			})

			t.Run("set get delete", func(t *testing.T) {
				h := mk(t)
				if err := h.store.Set(ctx, "1.0:grant:1", []byte(`{"id":1}`)); err != nil {
					t.Fatal(err)
				}
				got, err := h.store.Get(ctx, "1.0:grant:1")
				if err != nil || string(got) != `{"id":1}` {
					t.Fatalf("got %q, %v", got, err)
				}
				if err := h.store.Delete(ctx, "1.0:grant:1", "absent"); err != nil {
					t.Fatal(err)
				}
				if _, err := h.store.Get(ctx, "1.0:grant:1"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected deleted key to be gone, got %v", err)
				}
			})

			t.Run("setex expires", func(t *testing.T) {
				h := mk(t)
				if err := h.store.SetEX(ctx, "session", []byte("x"), 10*time.Second); err != nil {
					t.Fatal(err)
				}
				h.advance(5 * time.Second)
				if _, err := h.store.Get(ctx, "session"); err != nil {
					t.Fatalf("expected key alive, got %v", err)
				}
				h.advance(6 * time.Second)
				if _, err := h.store.Get(ctx, "session"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected expiry, got %v", err)
				}
			})

			t.Run("expire sets ttl", func(t *testing.T) {
				h := mk(t)
				_ = h.store.Set(ctx, "k", []byte("v"))
				if err := h.store.Expire(ctx, "k", 2*time.Second); err != nil {
					t.Fatal(err)
				}
				h.advance(3 * time.Second)
				if _, err := h.store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected expiry, got %v", err)
				}
			})

			t.Run("incr keeps ttl", func(t *testing.T) {
				h := mk(t)
				if err := h.store.SetEX(ctx, "rl:ip:1", []byte("1"), 60*time.Second); err != nil {
					t.Fatal(err)
				}
				n, err := h.store.Incr(ctx, "rl:ip:1")
				if err != nil || n != 2 {
					t.Fatalf("incr = %d, %v", n, err)
				}
				h.advance(61 * time.Second)
				if _, err := h.store.Get(ctx, "rl:ip:1"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected counter to expire, got %v", err)
				}
				n, err = h.store.Incr(ctx, "fresh")
				if err != nil || n != 1 {
					t.Fatalf("incr on absent key = %d, %v", n, err)
				}
			})

			t.Run("scan is literal", func(t *testing.T) {
				h := mk(t)
				for _, k := range []string{"1.0:test_1", "1.0:test_2", "1.0:other", "1.0:test*x", "1.0:testAx"} {
					_ = h.store.Set(ctx, k, []byte("v"))
				}
				keys, err := h.store.Scan(ctx, "1.0:test_")
				if err != nil {
					t.Fatal(err)
				}
				sort.Strings(keys)
				if len(keys) != 2 || keys[0] != "1.0:test_1" || keys[1] != "1.0:test_2" {
					t.Fatalf("unexpected scan result %v", keys)
				}
				keys, _ = h.store.Scan(ctx, "1.0:test*")
				if len(keys) != 1 || keys[0] != "1.0:test*x" {
					t.Fatalf("glob characters should match literally, got %v", keys)
				}
			})

			t.Run("flush", func(t *testing.T) {
				h := mk(t)
				_ = h.store.Set(ctx, "a", []byte("1"))
				_ = h.store.Set(ctx, "b", []byte("2"))
				if err := h.store.Flush(ctx); err != nil {
					t.Fatal(err)
				}
				keys, _ := h.store.Scan(ctx, "")
				if len(keys) != 0 {
					t.Fatalf("expected empty store after flush, got %v", keys)
				}
				if err := h.store.Ping(ctx); err != nil {
					t.Fatalf("ping after flush: %v", err)
				}
			})
		})
	}
}

func TestEscapeGlob(t *testing.T) {
	tests := map[string]string{
		"test_":      "test_",
		"a*b":        `a\*b`,
		"q?":         `q\?`,
		"[x]":        `\[x\]`,
		`back\slash`: `back\\slash`,
	}
	for in, want := range tests {
		if got := EscapeGlob(in); got != want {
			t.Errorf("EscapeGlob(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedis(RedisOptions{Addr: mr.Addr()})
	defer s.Close()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Ping(ctx); err == nil {
		t.Fatal("expected ping to fail once the server is gone")
	}
	if _, err := s.Get(ctx, "k"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a connection error, got %v", err)
	}
}

func deadRedisConfig(t *testing.T, degrade bool) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatal(err)
	}
	host := mr.Host()
	mr.Close()
	return &config.Config{
		KVBackend:                BackendRedis,
		RedisHost:                host,
		RedisPort:                port,
		CacheDegradeOnInfraError: degrade,
	}
}

func TestOpenUnreachableRedisDegrades(t *testing.T) {
	s, err := Open(context.Background(), deadRedisConfig(t, true))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*Redis); !ok {
		t.Fatalf("store = %T, want *Redis", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Ping(ctx); err == nil {
		t.Error("expected ping to keep failing")
	}
}

func TestOpenUnreachableRedisFailsWithoutDegradation(t *testing.T) {
	s, err := Open(context.Background(), deadRedisConfig(t, false))
	if err == nil {
		s.Close()
		t.Fatal("expected error when degradation is off")
	}
	if s != nil {
		t.Errorf("store = %v, want nil", s)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), &config.Config{KVBackend: "etcd", CacheDegradeOnInfraError: true}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestBoltExpiredDeleteKeepsNewerWrite(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s, err := OpenBolt(filepath.Join(t.TempDir(), "kv.db"), BoltOptions{Now: clk.Now})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.SetEX(ctx, "k", []byte("old"), time.Second); err != nil {
		t.Fatal(err)
	}
	staleExp := clk.Now().Add(time.Second).UnixNano()
	clk.Advance(2 * time.Second)

	// A writer replaces the entry between the expired read and its cleanup.
	if err := s.SetEX(ctx, "k", []byte("new"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.deleteIfExpiresAt("k", staleExp); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Get(ctx, "k"); err != nil || string(v) != "new" {
		t.Fatalf("Get = %q, %v; want new value", v, err)
	}

	clk.Advance(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after expiry = %v, want ErrNotFound", err)
	}
	var raw []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		raw = tx.Bucket(s.bucket).Get([]byte("k"))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if raw != nil {
		t.Error("expired entry not removed on read")
	}
}
