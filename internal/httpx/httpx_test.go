package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/A1anMc/GrantSGE/internal/config"
)

func testPolicy(attempts int) Policy {
	return Policy{Name: "test", MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxRetryAfter: 5 * time.Second}
}

func getBuilder(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestDo_RespectsRetryAfterSeconds(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	start := time.Now()
	resp, err := Do(context.Background(), ts.Client(), testPolicy(2), getBuilder(ts.URL), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Fatalf("expected to wait for Retry-After; waited %v", time.Since(start))
	}
}

func TestDo_StopsOnSuccess(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	resp, err := Do(context.Background(), ts.Client(), testPolicy(3), getBuilder(ts.URL), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if attempts.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestDo_ObserverAndBackoffOn5xx(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var infos []AttemptInfo
	resp, err := Do(context.Background(), ts.Client(), testPolicy(3), getBuilder(ts.URL), nil, func(i AttemptInfo) {
		infos = append(infos, i)
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(infos) != 3 {
		t.Fatalf("expected 3 observed attempts, got %d", len(infos))
	}
	if infos[0].Status != 500 || infos[0].Wait == 0 {
		t.Fatalf("first attempt should record 500 and a backoff, got %+v", infos[0])
	}
	if infos[2].Status != 200 {
		t.Fatalf("last attempt status = %d", infos[2].Status)
	}
}

func TestDo_ReturnsLastResponseWhenRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	resp, err := Do(context.Background(), ts.Client(), testPolicy(2), getBuilder(ts.URL), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || attempts.Load() != 2 {
		t.Fatalf("status=%d attempts=%d", resp.StatusCode, attempts.Load())
	}
}

func TestDo_4xxIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	resp, err := Do(context.Background(), ts.Client(), testPolicy(3), getBuilder(ts.URL), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if attempts.Load() != 1 {
		t.Fatalf("expected a single attempt for 400, got %d", attempts.Load())
	}
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := Do(ctx, ts.Client(), testPolicy(3), getBuilder(ts.URL), nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("backoff should be interrupted by the context")
	}
}

func TestDo_BuilderAndPreAttemptErrors(t *testing.T) {
	buildErr := errors.New("bad request body")
	_, err := Do(context.Background(), http.DefaultClient, testPolicy(3), func(context.Context) (*http.Request, error) {
		return nil, buildErr
	}, nil, nil)
	if !errors.Is(err, buildErr) {
		t.Fatalf("expected builder error, got %v", err)
	}

	preErr := errors.New("circuit open")
	_, err = Do(context.Background(), http.DefaultClient, testPolicy(3), getBuilder("http://127.0.0.1:1"), func(context.Context, int) error {
		return preErr
	}, nil)
	if !errors.Is(err, preErr) {
		t.Fatalf("expected pre-attempt error, got %v", err)
	}
}

func TestRetryAfterParsing(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if d, ok := retryAfter("3", now); !ok || d != 3*time.Second {
		t.Fatalf("seconds form: %v %v", d, ok)
	}
	future := now.Add(10 * time.Second).Format(http.TimeFormat)
	if d, ok := retryAfter(future, now); !ok || d != 10*time.Second {
		t.Fatalf("date form: %v %v", d, ok)
	}
	if _, ok := retryAfter("soon", now); ok {
		t.Fatal("garbage should not parse")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	t.Setenv("HTTP_MAX_RETRIES", "4")
	t.Setenv("HTTP_RETRY_BASE_MS", "250")
	config.ResetForTest()
	t.Cleanup(config.ResetForTest)

	p := PolicyFromConfig("anthropic", config.Load())
	if p.MaxAttempts != 4 || p.BaseDelay != 250*time.Millisecond || p.Name != "anthropic" {
		t.Fatalf("unexpected policy %+v", p)
	}
}
