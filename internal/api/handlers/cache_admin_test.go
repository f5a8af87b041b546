package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/A1anMc/GrantSGE/internal/cache"
	"github.com/A1anMc/GrantSGE/internal/kvstore"
)

func seededTiered(t *testing.T) *cache.Tiered {
	t.Helper()
	c := cache.NewTiered(kvstore.NewMemory())
	ctx := context.Background()
	for _, k := range []string{"grants:1", "grants:2", "eligibility_scan:1"} {
		if err := c.Set(ctx, k, []byte(`"v"`), 0); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func TestCacheAdmin_Stats(t *testing.T) {
	tiered := seededTiered(t)
	h := NewCacheAdminHandler(tiered, cache.NewMockCache())
	rr := httptest.NewRecorder()
	h.GetCacheStats(rr, request(http.MethodGet, "/api/admin/cache/stats", nil, nil))
	var out cacheStatsResponse
	if err := json.Unmarshal(decodeBody(t, rr).Data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Tiered.Version != cache.DefaultVersion || out.Tiered.MemoryItems != 3 || out.Responses == nil {
		t.Errorf("stats = %+v", out)
	}
}

func TestCacheAdmin_Invalidate(t *testing.T) {
	ctx := context.Background()
	tiered := seededTiered(t)
	responses := cache.NewMockCache()
	responses.Set("grants", []byte("x"), 0)
	h := NewCacheAdminHandler(tiered, responses)

	rr := httptest.NewRecorder()
	h.InvalidateCache(rr, request(http.MethodPost, "/api/admin/cache/invalidate", map[string]string{"prefix": "grants:"}, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var out map[string]int
	if err := json.Unmarshal(decodeBody(t, rr).Data, &out); err != nil {
		t.Fatal(err)
	}
	if out["removed"] != 2 {
		t.Errorf("removed = %d, want 2", out["removed"])
	}
	if _, ok, _ := tiered.Get(ctx, "grants:1"); ok {
		t.Error("grants:1 survived invalidation")
	}
	if _, ok, _ := tiered.Get(ctx, "eligibility_scan:1"); !ok {
		t.Error("unrelated key removed")
	}
	if _, ok := responses.Get("grants"); ok {
		t.Error("listing cache not cleared")
	}

	rr = httptest.NewRecorder()
	h.InvalidateCache(rr, request(http.MethodPost, "/api/admin/cache/invalidate", map[string]string{"key": "eligibility_scan:1"}, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("key invalidate status = %d", rr.Code)
	}
	if _, ok, _ := tiered.Get(ctx, "eligibility_scan:1"); ok {
		t.Error("key survived invalidation")
	}

	for _, body := range []map[string]string{{}, {"prefix": "a", "key": "b"}} {
		rr = httptest.NewRecorder()
		h.InvalidateCache(rr, request(http.MethodPost, "/api/admin/cache/invalidate", body, nil))
		expectError(t, rr, http.StatusBadRequest, "VALIDATION_INVALID_FORMAT")
	}
}

func TestCacheAdmin_VersionAndClear(t *testing.T) {
	ctx := context.Background()
	tiered := seededTiered(t)
	h := NewCacheAdminHandler(tiered, nil)

	rr := httptest.NewRecorder()
	h.UpdateVersion(rr, request(http.MethodPost, "/api/admin/cache/version", map[string]string{"version": "2.0"}, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if tiered.Version() != "2.0" {
		t.Errorf("version = %q", tiered.Version())
	}
	if _, ok, _ := tiered.Get(ctx, "grants:1"); ok {
		t.Error("old-version entry visible after version bump")
	}

	rr = httptest.NewRecorder()
	h.UpdateVersion(rr, request(http.MethodPost, "/api/admin/cache/version", map[string]string{"version": "a:b"}, nil))
	expectError(t, rr, http.StatusBadRequest, "VALIDATION_INVALID_VALUE")

	if err := tiered.Set(ctx, "grants:9", []byte(`1`), 0); err != nil {
		t.Fatal(err)
	}
	rr = httptest.NewRecorder()
	h.ClearCache(rr, request(http.MethodPost, "/api/admin/cache/clear", nil, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}
	if _, ok, _ := tiered.Get(ctx, "grants:9"); ok {
		t.Error("entry survived clear")
	}
}
