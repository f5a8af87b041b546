package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/cache"
	"github.com/A1anMc/GrantSGE/internal/logger"
)

// TieredCache is the administrative surface of *cache.Tiered.
type TieredCache interface {
	Invalidate(ctx context.Context, key string) error
	InvalidatePattern(ctx context.Context, prefix string) (int, error)
	UpdateVersion(v string)
	Version() string
	ClearAll(ctx context.Context) error
	Stats() cache.TieredStats
}

// CacheAdminHandler handles cache administration endpoints.
type CacheAdminHandler struct {
	tiered    TieredCache
	responses cache.Cache
}

// NewCacheAdminHandler creates a new cache admin handler. responses may be nil.
func NewCacheAdminHandler(tiered TieredCache, responses cache.Cache) *CacheAdminHandler {
	return &CacheAdminHandler{tiered: tiered, responses: responses}
}

type cacheStatsResponse struct {
	Tiered    cache.TieredStats `json:"tiered"`
	Responses *cache.Stats      `json:"responses,omitempty"`
}

// GetCacheStats returns current cache statistics.
// GET /api/admin/cache/stats
func (h *CacheAdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	out := cacheStatsResponse{Tiered: h.tiered.Stats()}
	if h.responses != nil {
		s := h.responses.Stats()
		out.Responses = &s
	}
	respond(w, r, http.StatusOK, out)
}

type invalidateRequest struct {
	Prefix string `json:"prefix"`
	Key    string `json:"key"`
}

// InvalidateCache drops one key or every key under a prefix. Listing
// responses are always cleared.
// POST /api/admin/cache/invalidate
func (h *CacheAdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if aerr := decode(r, &req); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	req.Prefix, req.Key = strings.TrimSpace(req.Prefix), strings.TrimSpace(req.Key)
	if (req.Prefix == "") == (req.Key == "") {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidFormat("Exactly one of prefix or key is required"))
		return
	}

	ctx := r.Context()
	removed := 0
	if req.Key != "" {
		if err := h.tiered.Invalidate(ctx, req.Key); err != nil {
			h.unavailable(w, r, err)
			return
		}
		removed = 1
	} else {
		n, err := h.tiered.InvalidatePattern(ctx, req.Prefix)
		if err != nil {
			h.unavailable(w, r, err)
			return
		}
		removed = n
	}
	if h.responses != nil {
		h.responses.Clear()
	}
	logger.InfoContext(ctx, "Cache invalidated", "prefix", req.Prefix, "key", req.Key, "removed", removed)
	respondMessage(w, r, http.StatusOK, map[string]int{"removed": removed}, "Cache invalidated successfully")
}

type versionRequest struct {
	Version string `json:"version" validate:"required,max=32,excludesall= :*"`
}

// UpdateVersion switches the tiered cache namespace.
// POST /api/admin/cache/version
func (h *CacheAdminHandler) UpdateVersion(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if aerr := decode(r, &req); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	previous := h.tiered.Version()
	h.tiered.UpdateVersion(req.Version)
	if h.responses != nil {
		h.responses.Clear()
	}
	logger.InfoContext(r.Context(), "Cache version updated", "from", previous, "to", req.Version)
	respond(w, r, http.StatusOK, map[string]string{"previous": previous, "version": req.Version})
}

// ClearCache empties both cache tiers and the listing cache.
// POST /api/admin/cache/clear
func (h *CacheAdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if h.responses != nil {
		h.responses.Clear()
	}
	if err := h.tiered.ClearAll(r.Context()); err != nil {
		h.unavailable(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "Cache cleared")
	respondMessage(w, r, http.StatusOK, nil, "Cache cleared successfully")
}

func (h *CacheAdminHandler) unavailable(w http.ResponseWriter, r *http.Request, err error) {
	logger.ErrorContext(r.Context(), "Cache operation failed", "error", err)
	apierr.WriteErrorWithContext(w, r, apierr.CacheUnavailable(""))
}
