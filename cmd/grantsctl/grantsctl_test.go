package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/A1anMc/GrantSGE/internal/config"
	"github.com/A1anMc/GrantSGE/internal/kvstore"
	"github.com/A1anMc/GrantSGE/internal/scraper"
)

type fakeRunner struct {
	ranAll    bool
	ranSource string
	sum       scraper.Summary
	err       error
}

func (f *fakeRunner) Run(ctx context.Context) (scraper.Summary, error) {
	f.ranAll = true
	return f.sum, f.err
}

func (f *fakeRunner) RunSource(ctx context.Context, name string) (scraper.Summary, error) {
	f.ranSource = name
	return f.sum, f.err
}

func (f *fakeRunner) SourceNames() []string { return []string{"grantconnect", "grants_gov_au"} }

func newTestEnv(kv kvstore.Store, runner scrapeRunner) (*env, *bytes.Buffer) {
	var out bytes.Buffer
	cfg := &config.Config{
		KVBackend:                  "memory",
		CacheVersion:               "1.0",
		RateLimitRequests:          2,
		RateLimitWindow:            time.Minute,
		EligibilityRateLimit:       10,
		EligibilityRateLimitWindow: time.Hour,
	}
	return &env{
		cfg:    cfg,
		out:    &out,
		openKV: func(context.Context) (kvstore.Store, error) { return kv, nil },
		openRunner: func(context.Context) (scrapeRunner, func() error, error) {
			return runner, nil, nil
		},
	}, &out
}

func run(t *testing.T, e *env, args ...string) error {
	t.Helper()
	cmd := newRootCmd(e)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func seed(t *testing.T, kv kvstore.Store, keys ...string) {
	t.Helper()
	for _, k := range keys {
		if err := kv.Set(context.Background(), k, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCacheStats(t *testing.T) {
	kv := kvstore.NewMemory()
	seed(t, kv, "1.0:grants:1", "1.0:grants:2", "1.0:eligibility_scan:abc", "0.9:grants:1")
	e, out := newTestEnv(kv, nil)

	if err := run(t, e, "cache", "stats"); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"Persisted keys:  3", "grants", "eligibility_scan"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestCacheInvalidate(t *testing.T) {
	kv := kvstore.NewMemory()
	seed(t, kv, "1.0:grants:1", "1.0:grants:2", "1.0:eligibility_scan:abc")
	e, out := newTestEnv(kv, nil)

	if err := run(t, e, "cache", "invalidate", "grants:"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Removed 2 entries") {
		t.Errorf("output = %q", out.String())
	}
	if _, err := kv.Get(context.Background(), "1.0:eligibility_scan:abc"); err != nil {
		t.Errorf("unrelated key removed: %v", err)
	}
}

func TestCacheInvalidateRequiresPrefix(t *testing.T) {
	e, _ := newTestEnv(kvstore.NewMemory(), nil)
	if err := run(t, e, "cache", "invalidate"); err == nil {
		t.Error("expected argument error")
	}
}

func TestCacheClear(t *testing.T) {
	kv := kvstore.NewMemory()
	seed(t, kv, "1.0:grants:1", "rl:api:ip:1:100")
	e, _ := newTestEnv(kv, nil)

	if err := run(t, e, "cache", "clear"); err != nil {
		t.Fatal(err)
	}
	if kv.Len() != 0 {
		t.Errorf("%d keys left after clear", kv.Len())
	}
}

func TestCacheVersionRetiresOldNamespace(t *testing.T) {
	kv := kvstore.NewMemory()
	seed(t, kv, "1.0:grants:1", "1.0:grants:2", "2.0:grants:1")
	e, out := newTestEnv(kv, nil)

	if err := run(t, e, "cache", "version", "2.0"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `Removed 2 entries of version "1.0"`) {
		t.Errorf("output = %q", out.String())
	}
	if kv.Len() != 1 {
		t.Errorf("keys left = %d, want 1", kv.Len())
	}

	if err := run(t, e, "cache", "version", "1.0"); err == nil {
		t.Error("expected error when version is unchanged")
	}
}

func TestRateLimitCheck(t *testing.T) {
	kv := kvstore.NewMemory()
	e, out := newTestEnv(kv, nil)

	for i := 0; i < 2; i++ {
		out.Reset()
		if err := run(t, e, "ratelimit", "check", "ip:203.0.113.7"); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), "allowed") {
			t.Fatalf("check %d: %q", i, out.String())
		}
	}
	out.Reset()
	if err := run(t, e, "ratelimit", "check", "ip:203.0.113.7"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "limited") || !strings.Contains(out.String(), "Retry in") {
		t.Errorf("third check: %q", out.String())
	}

	out.Reset()
	if err := run(t, e, "ratelimit", "check", "--limiter", "eligibility", "42"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "rl:eligibility 42: allowed") {
		t.Errorf("eligibility check: %q", out.String())
	}
}

func TestRateLimitCheckUnknownLimiter(t *testing.T) {
	e, _ := newTestEnv(kvstore.NewMemory(), nil)
	err := run(t, e, "ratelimit", "check", "--limiter", "bogus", "x")
	if err == nil || !strings.Contains(err.Error(), "unknown limiter") {
		t.Errorf("err = %v", err)
	}
}

func TestScrape(t *testing.T) {
	runner := &fakeRunner{sum: scraper.Summary{
		Found:    3,
		Upserted: 2,
		Sources:  []scraper.SourceResult{{Name: "grantconnect", Found: 3, Upserted: 2}},
	}}
	e, out := newTestEnv(kvstore.NewMemory(), runner)

	if err := run(t, e, "scrape"); err != nil {
		t.Fatal(err)
	}
	if !runner.ranAll || runner.ranSource != "" {
		t.Errorf("ranAll=%v ranSource=%q", runner.ranAll, runner.ranSource)
	}
	if !strings.Contains(out.String(), "Scraped 3 listings, upserted 2") {
		t.Errorf("output = %q", out.String())
	}
}

func TestScrapeSingleSourceFailure(t *testing.T) {
	runner := &fakeRunner{
		sum: scraper.Summary{Sources: []scraper.SourceResult{{Name: "grants_gov_au", Error: "timeout"}}},
		err: errors.New("grants_gov_au: timeout"),
	}
	e, out := newTestEnv(kvstore.NewMemory(), runner)

	err := run(t, e, "scrape", "--source", "grants_gov_au")
	if err == nil {
		t.Fatal("expected error")
	}
	if runner.ranAll || runner.ranSource != "grants_gov_au" {
		t.Errorf("ranAll=%v ranSource=%q", runner.ranAll, runner.ranSource)
	}
	if !strings.Contains(out.String(), "failed: timeout") {
		t.Errorf("output = %q", out.String())
	}
}
