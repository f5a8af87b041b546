package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/cache"
	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/memo"
	"github.com/A1anMc/GrantSGE/internal/metrics"
	"github.com/A1anMc/GrantSGE/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// GrantCachePrefix namespaces memoized grant lookups in the tiered cache.
const GrantCachePrefix = "grants"

// isoLayout matches the due_date format clients have always received.
const isoLayout = "2006-01-02T15:04:05"

const maxSearchKeyword = 200

// GrantStore abstracts grant persistence for testability.
type GrantStore interface {
	GetGrant(ctx context.Context, id int64) (db.Grant, error)
	ListGrants(ctx context.Context, arg db.ListGrantsParams) ([]db.Grant, error)
	SearchGrants(ctx context.Context, p db.SearchGrantsParams) ([]db.Grant, error)
	CreateGrant(ctx context.Context, arg db.CreateGrantParams) (db.Grant, error)
	UpdateGrant(ctx context.Context, id int64, u db.GrantUpdate) (db.Grant, error)
}

// LookupCache is the tiered cache surface used for memoized lookups.
type LookupCache interface {
	memo.Cache
	InvalidatePattern(ctx context.Context, prefix string) (int, error)
}

// Grant is the JSON shape of a grant.
type Grant struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Funder              string          `json:"funder"`
	SourceURL           *string         `json:"source_url"`
	DueDate             *string         `json:"due_date"`
	AmountString        *string         `json:"amount_string"`
	Description         *string         `json:"description"`
	Status              string          `json:"status"`
	EligibilityAnalysis json.RawMessage `json:"eligibility_analysis"`
	EligibilityScore    *float64        `json:"eligibility_score"`
	LastAnalysis        *time.Time      `json:"last_analysis"`
	OrgID               *int64          `json:"org_id"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewGrant renders a stored grant.
func NewGrant(g db.Grant) Grant {
	out := Grant{
		ID:                  g.ID,
		Name:                g.Name,
		Funder:              g.Funder,
		SourceURL:           nullString(g.SourceUrl.String, g.SourceUrl.Valid),
		AmountString:        nullString(g.AmountString.String, g.AmountString.Valid),
		Description:         nullString(g.Description.String, g.Description.Valid),
		Status:              g.Status,
		EligibilityAnalysis: json.RawMessage(`{}`),
		CreatedAt:           g.CreatedAt,
		UpdatedAt:           g.UpdatedAt,
	}
	if g.DueDate.Valid {
		s := g.DueDate.Time.Format(isoLayout)
		out.DueDate = &s
	}
	if g.EligibilityAnalysis.Valid && len(g.EligibilityAnalysis.RawMessage) > 0 {
		out.EligibilityAnalysis = g.EligibilityAnalysis.RawMessage
	}
	if g.EligibilityScore.Valid {
		out.EligibilityScore = &g.EligibilityScore.Float64
	}
	if g.LastAnalysis.Valid {
		out.LastAnalysis = &g.LastAnalysis.Time
	}
	if g.OrgID.Valid {
		out.OrgID = &g.OrgID.Int64
	}
	return out
}

func nullString(s string, valid bool) *string {
	if !valid {
		return nil
	}
	return &s
}

// GrantHandler serves the grant catalogue.
type GrantHandler struct {
	store     GrantStore
	responses cache.Cache
	lookups   LookupCache
	lookupTTL time.Duration
}

// NewGrantHandler wires a GrantHandler. responses and lookups may be nil to
// disable the listing cache and memoized lookups.
func NewGrantHandler(store GrantStore, responses cache.Cache, lookups LookupCache, lookupTTL time.Duration) *GrantHandler {
	return &GrantHandler{store: store, responses: responses, lookups: lookups, lookupTTL: lookupTTL}
}

// List handles GET /api/grants?status=&funder=.
func (h *GrantHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "handlers.ListGrants")
	defer span.End()

	q := r.URL.Query()
	key := cache.ResponseKey("grants", q)
	if h.responses != nil {
		if body, ok := h.responses.Get(key); ok {
			metrics.APICacheHits.WithLabelValues("grants").Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
			return
		}
		metrics.APICacheMisses.WithLabelValues("grants").Inc()
	}

	rows, err := h.store.ListGrants(ctx, db.ListGrantsParams{
		Status: db.NullString(strings.TrimSpace(q.Get("status"))),
		Funder: db.NullString(strings.TrimSpace(q.Get("funder"))),
	})
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to list grants", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to fetch grants"))
		return
	}
	span.SetAttributes(attribute.Int("results_count", len(rows)))

	items := renderGrants(rows)
	n := len(items)
	body, err := json.Marshal(envelope{Success: true, Data: items, Count: &n})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to encode grants", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemInternal(""))
		return
	}
	body = append(body, '\n')
	if h.responses != nil {
		h.responses.Set(key, body, 0)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// Search handles GET /api/grants/search?keyword=&min_date=&max_date=.
func (h *GrantHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "handlers.SearchGrants")
	defer span.End()

	q := r.URL.Query()
	p := db.SearchGrantsParams{
		Keyword: strings.ToLower(sanitizer.SanitizeString(q.Get("keyword"), maxSearchKeyword)),
		Status:  strings.TrimSpace(q.Get("status")),
	}
	var ok bool
	if p.MinDate, ok = parseDateParam(q.Get("min_date")); !ok {
		apierr.WriteErrorWithContext(w, r, apierr.GrantInvalidQuery("min_date must be an ISO date"))
		return
	}
	if p.MaxDate, ok = parseDateParam(q.Get("max_date")); !ok {
		apierr.WriteErrorWithContext(w, r, apierr.GrantInvalidQuery("max_date must be an ISO date"))
		return
	}
	if !p.MinDate.IsZero() && !p.MaxDate.IsZero() && p.MaxDate.Before(p.MinDate) {
		apierr.WriteErrorWithContext(w, r, apierr.GrantInvalidQuery("max_date is before min_date"))
		return
	}
	span.SetAttributes(attribute.String("search_keyword", p.Keyword))

	rows, err := h.store.SearchGrants(ctx, p)
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to search grants", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to search grants"))
		return
	}
	respondList(w, r, renderGrants(rows))
}

// Get handles GET /api/grants/{id}.
func (h *GrantHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, aerr := pathID(r, "id")
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	g, err := h.lookup(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		apierr.WriteErrorWithContext(w, r, apierr.GrantNotFound(id))
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to fetch grant", "grant_id", id, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to fetch grant"))
		return
	}
	respond(w, r, http.StatusOK, g)
}

func (h *GrantHandler) lookup(ctx context.Context, id int64) (Grant, error) {
	load := func(ctx context.Context) (Grant, error) {
		row, err := h.store.GetGrant(ctx, id)
		if err != nil {
			return Grant{}, err
		}
		return NewGrant(row), nil
	}
	if h.lookups == nil {
		return load(ctx)
	}
	return memo.GetOrCompute(ctx, h.lookups, memo.Key(GrantCachePrefix, []any{id}, nil), load,
		memo.WithMemoryTTL(h.lookupTTL))
}

type createGrantRequest struct {
	Name         string `json:"name" validate:"required"`
	Funder       string `json:"funder" validate:"required"`
	SourceURL    string `json:"source_url" validate:"omitempty,url"`
	DueDate      string `json:"due_date"`
	AmountString string `json:"amount_string"`
	Description  string `json:"description"`
	Status       string `json:"status" validate:"omitempty,oneof=potential active closed"`
	OrgID        *int64 `json:"org_id"`
}

// Create handles POST /api/grants.
func (h *GrantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if aerr := decode(r, &req); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	due, ok := parseDateParam(req.DueDate)
	if !ok {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("due_date", "Must be an ISO date"))
		return
	}
	status := req.Status
	if status == "" {
		status = db.GrantStatusPotential
	}
	params := db.CreateGrantParams{
		Name:         strings.TrimSpace(req.Name),
		Funder:       strings.TrimSpace(req.Funder),
		SourceUrl:    db.NullString(req.SourceURL),
		DueDate:      db.NullTime(due),
		AmountString: db.NullString(req.AmountString),
		Description:  db.NullString(req.Description),
		Status:       status,
	}
	if req.OrgID != nil {
		params.OrgID.Int64, params.OrgID.Valid = *req.OrgID, true
	}

	row, err := h.store.CreateGrant(r.Context(), params)
	if db.IsUniqueViolation(err) {
		apierr.WriteErrorWithContext(w, r, apierr.ResourceConflict("A grant with this source_url already exists"))
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to create grant", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
		return
	}
	h.invalidate(r.Context(), false)
	respondMessage(w, r, http.StatusCreated, NewGrant(row), "Grant created successfully")
}

type updateGrantRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1"`
	Funder       *string `json:"funder" validate:"omitempty,min=1"`
	SourceURL    *string `json:"source_url" validate:"omitempty,url"`
	DueDate      *string `json:"due_date"`
	AmountString *string `json:"amount_string"`
	Description  *string `json:"description"`
	Status       *string `json:"status" validate:"omitempty,oneof=potential active closed"`
	OrgID        *int64  `json:"org_id"`
}

// Update handles PUT /api/grants/{id}. Absent fields are left unchanged.
func (h *GrantHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, aerr := pathID(r, "id")
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	var req updateGrantRequest
	if aerr := decode(r, &req); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	u := db.GrantUpdate{
		Name:         req.Name,
		Funder:       req.Funder,
		SourceUrl:    req.SourceURL,
		AmountString: req.AmountString,
		Description:  req.Description,
		Status:       req.Status,
		OrgID:        req.OrgID,
	}
	if req.DueDate != nil {
		due, ok := parseDateParam(*req.DueDate)
		if !ok || due.IsZero() {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("due_date", "Must be an ISO date"))
			return
		}
		u.DueDate = &due
	}

	row, err := h.store.UpdateGrant(r.Context(), id, u)
	if errors.Is(err, db.ErrNotFound) {
		apierr.WriteErrorWithContext(w, r, apierr.GrantNotFound(id))
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to update grant", "grant_id", id, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
		return
	}
	h.invalidate(r.Context(), true)
	respondMessage(w, r, http.StatusOK, NewGrant(row), "Grant updated successfully")
}

// invalidate drops cached listings and, when lookups is set, memoized grants.
func (h *GrantHandler) invalidate(ctx context.Context, lookups bool) {
	if h.responses != nil {
		h.responses.Clear()
	}
	if !lookups || h.lookups == nil {
		return
	}
	if _, err := h.lookups.InvalidatePattern(ctx, GrantCachePrefix+":"); err != nil {
		logger.WarnContext(ctx, "Failed to invalidate grant lookups", "error", err)
	}
}

func renderGrants(rows []db.Grant) []Grant {
	out := make([]Grant, 0, len(rows))
	for _, g := range rows {
		out = append(out, NewGrant(g))
	}
	return out
}

// parseDateParam accepts an empty string, a date or an ISO timestamp.
func parseDateParam(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{"2006-01-02", isoLayout, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
