package memo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/A1anMc/GrantSGE/internal/cache"
	"github.com/A1anMc/GrantSGE/internal/kvstore"
)

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func TestKey(t *testing.T) {
	tests := []struct {
		name       string
		positional []any
		named      map[string]any
		want       string
	}{
		{"prefix only", nil, nil, "eligibility_scan"},
		{"positional", []any{42}, nil, "eligibility_scan:42"},
		{"named sorted", []any{"a"}, map[string]any{"z": 1, "b": true}, "eligibility_scan:a:b:true:z:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key("eligibility_scan", tt.positional, tt.named); got != tt.want {
				t.Fatalf("Key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapCallsUnderlyingOncePerArgument(t *testing.T) {
	c := cache.NewTiered(kvstore.NewMemory())
	calls := 0
	double := Wrap(c, "double", func(_ context.Context, n int) (int, error) {
		calls++
		return n * 2, nil
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := double(ctx, 21)
		if err != nil || got != 42 {
			t.Fatalf("double(21) = %d, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("underlying called %d times for identical arguments, want 1", calls)
	}
	if got, _ := double(ctx, 5); got != 10 {
		t.Fatalf("double(5) = %d", got)
	}
	if calls != 2 {
		t.Fatalf("different argument should call through, calls=%d", calls)
	}
}

func TestWrapDoesNotCacheErrors(t *testing.T) {
	c := cache.NewTiered(kvstore.NewMemory())
	calls := 0
	boom := errors.New("upstream 500")
	fn := Wrap(c, "flaky", func(_ context.Context, id int64) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	})

	if _, err := fn(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error to propagate, got %v", err)
	}
	got, err := fn(context.Background(), 1)
	if err != nil || got != "ok" || calls != 2 {
		t.Fatalf("got %q err=%v calls=%d", got, err, calls)
	}
}

func TestWrapArgsUsesNamedArguments(t *testing.T) {
	c := cache.NewTiered(nil)
	calls := 0
	search := WrapArgs(c, "search", func(_ context.Context, a Args) ([]string, error) {
		calls++
		return []string{a.Named["keyword"].(string)}, nil
	})
	ctx := context.Background()

	_, _ = search(ctx, Args{Named: map[string]any{"keyword": "arts", "page": 1}})
	_, _ = search(ctx, Args{Named: map[string]any{"page": 1, "keyword": "arts"}})
	if calls != 1 {
		t.Fatalf("named argument order must not matter, calls=%d", calls)
	}
	_, _ = search(ctx, Args{Named: map[string]any{"keyword": "health", "page": 1}})
	if calls != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
}

func TestGetOrComputeSurvivesCacheFailure(t *testing.T) {
	calls := 0
	compute := func(context.Context) (int, error) {
		calls++
		return 7, nil
	}
	for i := 0; i < 2; i++ {
		got, err := GetOrCompute(context.Background(), failingCache{}, "k", compute)
		if err != nil || got != 7 {
			t.Fatalf("got %d, %v", got, err)
		}
	}
	if calls != 2 {
		t.Fatalf("an unavailable cache should fall through every time, calls=%d", calls)
	}
}

func TestHooks(t *testing.T) {
	c := cache.NewTiered(nil)
	hits, misses := 0, 0
	opt := WithHooks(func() { hits++ }, func() { misses++ })
	compute := func(context.Context) (string, error) { return "v", nil }

	_, _ = GetOrCompute(context.Background(), c, "k", compute, opt, WithMemoryTTL(time.Minute))
	_, _ = GetOrCompute(context.Background(), c, "k", compute, opt)
	if hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
}
