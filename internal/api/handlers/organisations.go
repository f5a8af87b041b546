package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/auth"
	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/logger"
)

// OrganisationStore abstracts organisation persistence for testability.
type OrganisationStore interface {
	GetOrganisation(ctx context.Context, id int64) (db.OrganisationProfile, error)
	ListOrganisations(ctx context.Context) ([]db.OrganisationProfile, error)
	CreateOrganisation(ctx context.Context, arg db.CreateOrganisationParams) (db.OrganisationProfile, error)
	UpdateOrganisation(ctx context.Context, id int64, u db.OrganisationUpdate) (db.OrganisationProfile, error)
	GetGrant(ctx context.Context, id int64) (db.Grant, error)
	TrackGrant(ctx context.Context, arg db.TrackGrantParams) (db.OrgGrant, error)
	ListTrackedGrants(ctx context.Context, organisationID int64) ([]db.ListTrackedGrantsRow, error)
}

// Organisation is the JSON shape of an organisation profile.
type Organisation struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Abn                *string   `json:"abn"`
	DgrStatus          bool      `json:"dgr_status"`
	AnnualRevenue      *int64    `json:"annual_revenue"`
	ProfileText        *string   `json:"profile_text"`
	Mission            *string   `json:"mission"`
	FocusAreas         *string   `json:"focus_areas"`
	YearsActive        *int32    `json:"years_active"`
	AnnualBudget       *int64    `json:"annual_budget"`
	PreviousGrants     *string   `json:"previous_grants"`
	StaffSize          *int32    `json:"staff_size"`
	TargetDemographics *string   `json:"target_demographics"`
	UserID             *int64    `json:"user_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewOrganisation renders a stored organisation profile.
func NewOrganisation(o db.OrganisationProfile) Organisation {
	return Organisation{
		ID:                 o.ID,
		Name:               o.Name,
		Abn:                nullString(o.Abn.String, o.Abn.Valid),
		DgrStatus:          o.DgrStatus,
		AnnualRevenue:      nullInt64(o.AnnualRevenue),
		ProfileText:        nullString(o.ProfileText.String, o.ProfileText.Valid),
		Mission:            nullString(o.Mission.String, o.Mission.Valid),
		FocusAreas:         nullString(o.FocusAreas.String, o.FocusAreas.Valid),
		YearsActive:        nullInt32(o.YearsActive),
		AnnualBudget:       nullInt64(o.AnnualBudget),
		PreviousGrants:     nullString(o.PreviousGrants.String, o.PreviousGrants.Valid),
		StaffSize:          nullInt32(o.StaffSize),
		TargetDemographics: nullString(o.TargetDemographics.String, o.TargetDemographics.Valid),
		UserID:             nullInt64(o.UserID),
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func nullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

func nullInt32(n sql.NullInt32) *int32 {
	if !n.Valid {
		return nil
	}
	return &n.Int32
}

func toNullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func toNullInt32(p *int32) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *p, Valid: true}
}

// TrackedGrant is a grant on an organisation's watch list.
type TrackedGrant struct {
	TrackingStatus string     `json:"tracking_status"`
	AddedAt        *time.Time `json:"added_at"`
	Grant          Grant      `json:"grant"`
}

// OrganisationHandler serves organisation profiles and their tracked grants.
type OrganisationHandler struct {
	store OrganisationStore
}

func NewOrganisationHandler(store OrganisationStore) *OrganisationHandler {
	return &OrganisationHandler{store: store}
}

// List handles GET /api/organisations.
func (h *OrganisationHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListOrganisations(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to list organisations", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to fetch organisations"))
		return
	}
	out := make([]Organisation, 0, len(rows))
	for _, o := range rows {
		out = append(out, NewOrganisation(o))
	}
	respondList(w, r, out)
}

// Get handles GET /api/organisations/{id}.
func (h *OrganisationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, aerr := pathID(r, "id")
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	org, err := h.store.GetOrganisation(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		apierr.WriteErrorWithContext(w, r, apierr.OrgNotFound(id))
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to fetch organisation", "organisation_id", id, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
		return
	}
	respond(w, r, http.StatusOK, NewOrganisation(org))
}

type organisationRequest struct {
	Name               string `json:"name" validate:"required"`
	Abn                string `json:"abn" validate:"omitempty,numeric,len=11"`
	DgrStatus          bool   `json:"dgr_status"`
	AnnualRevenue      *int64 `json:"annual_revenue" validate:"omitempty,gte=0"`
	ProfileText        string `json:"profile_text"`
	Mission            string `json:"mission"`
	FocusAreas         string `json:"focus_areas"`
	YearsActive        *int32 `json:"years_active" validate:"omitempty,gte=0"`
	AnnualBudget       *int64 `json:"annual_budget" validate:"omitempty,gte=0"`
	PreviousGrants     string `json:"previous_grants"`
	StaffSize          *int32 `json:"staff_size" validate:"omitempty,gte=0"`
	TargetDemographics string `json:"target_demographics"`
}

// Create handles POST /api/organisations. The profile is owned by the
// authenticated user when there is one.
func (h *OrganisationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req organisationRequest
	if aerr := decode(r, &req); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	params := db.CreateOrganisationParams{
		Name:               strings.TrimSpace(req.Name),
		Abn:                db.NullString(req.Abn),
		DgrStatus:          req.DgrStatus,
		AnnualRevenue:      toNullInt64(req.AnnualRevenue),
		ProfileText:        db.NullString(req.ProfileText),
		Mission:            db.NullString(req.Mission),
		FocusAreas:         db.NullString(req.FocusAreas),
		YearsActive:        toNullInt32(req.YearsActive),
		AnnualBudget:       toNullInt64(req.AnnualBudget),
		PreviousGrants:     db.NullString(req.PreviousGrants),
		StaffSize:          toNullInt32(req.StaffSize),
		TargetDemographics: db.NullString(req.TargetDemographics),
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		params.UserID = sql.NullInt64{Int64: user.ID, Valid: true}
	}
	org, err := h.store.CreateOrganisation(r.Context(), params)
	if db.IsUniqueViolation(err) {
		apierr.WriteErrorWithContext(w, r, apierr.ResourceConflict("An organisation with this ABN already exists"))
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to create organisation", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
		return
	}
	respondMessage(w, r, http.StatusCreated, NewOrganisation(org), "Organisation created successfully")
}

type updateOrganisationRequest struct {
	Name               *string `json:"name" validate:"omitempty,min=1"`
	Abn                *string `json:"abn" validate:"omitempty,numeric,len=11"`
	DgrStatus          *bool   `json:"dgr_status"`
	AnnualRevenue      *int64  `json:"annual_revenue" validate:"omitempty,gte=0"`
	ProfileText        *string `json:"profile_text"`
	Mission            *string `json:"mission"`
	FocusAreas         *string `json:"focus_areas"`
	YearsActive        *int32  `json:"years_active" validate:"omitempty,gte=0"`
	AnnualBudget       *int64  `json:"annual_budget" validate:"omitempty,gte=0"`
	PreviousGrants     *string `json:"previous_grants"`
	StaffSize          *int32  `json:"staff_size" validate:"omitempty,gte=0"`
	TargetDemographics *string `json:"target_demographics"`
}

// Update handles PUT /api/organisations/{id}.
func (h *OrganisationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, aerr := pathID(r, "id")
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	var req updateOrganisationRequest
	if aerr := decode(r, &req); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	org, err := h.store.UpdateOrganisation(r.Context(), id, db.OrganisationUpdate{
		Name:               req.Name,
		Abn:                req.Abn,
		DgrStatus:          req.DgrStatus,
		AnnualRevenue:      req.AnnualRevenue,
		ProfileText:        req.ProfileText,
		Mission:            req.Mission,
		FocusAreas:         req.FocusAreas,
		YearsActive:        req.YearsActive,
		AnnualBudget:       req.AnnualBudget,
		PreviousGrants:     req.PreviousGrants,
		StaffSize:          req.StaffSize,
		TargetDemographics: req.TargetDemographics,
	})
	if errors.Is(err, db.ErrNotFound) {
		apierr.WriteErrorWithContext(w, r, apierr.OrgNotFound(id))
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to update organisation", "organisation_id", id, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
		return
	}
	respondMessage(w, r, http.StatusOK, NewOrganisation(org), "Organisation updated successfully")
}

type trackRequest struct {
	TrackingStatus string `json:"tracking_status" validate:"omitempty,oneof=interested applying submitted"`
}

// TrackGrant handles POST /api/organisations/{id}/grants/{grantID}. An empty
// body tracks the grant as interested.
func (h *OrganisationHandler) TrackGrant(w http.ResponseWriter, r *http.Request) {
	orgID, aerr := pathID(r, "id")
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	grantID, aerr := pathID(r, "grantID")
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	var req trackRequest
	if r.ContentLength != 0 {
		if aerr := decode(r, &req); aerr != nil {
			apierr.WriteErrorWithContext(w, r, aerr)
			return
		}
	}
	if req.TrackingStatus == "" {
		req.TrackingStatus = db.TrackingInterested
	}

	ctx := r.Context()
	if _, err := h.store.GetOrganisation(ctx, orgID); err != nil {
		h.lookupFailed(w, r, err, apierr.OrgNotFound(orgID))
		return
	}
	if _, err := h.store.GetGrant(ctx, grantID); err != nil {
		h.lookupFailed(w, r, err, apierr.GrantNotFound(grantID))
		return
	}
	og, err := h.store.TrackGrant(ctx, db.TrackGrantParams{
		OrganisationID: orgID,
		GrantID:        grantID,
		TrackingStatus: req.TrackingStatus,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to track grant", "organisation_id", orgID, "grant_id", grantID, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
		return
	}
	respond(w, r, http.StatusOK, map[string]any{
		"organisation_id": og.OrganisationID,
		"grant_id":        og.GrantID,
		"tracking_status": og.TrackingStatus,
		"added_at":        og.AddedAt,
	})
}

// ListTracked handles GET /api/organisations/{id}/grants.
func (h *OrganisationHandler) ListTracked(w http.ResponseWriter, r *http.Request) {
	orgID, aerr := pathID(r, "id")
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	if _, err := h.store.GetOrganisation(r.Context(), orgID); err != nil {
		h.lookupFailed(w, r, err, apierr.OrgNotFound(orgID))
		return
	}
	rows, err := h.store.ListTrackedGrants(r.Context(), orgID)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to list tracked grants", "organisation_id", orgID, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
		return
	}
	out := make([]TrackedGrant, 0, len(rows))
	for _, row := range rows {
		tg := TrackedGrant{TrackingStatus: row.TrackingStatus, Grant: NewGrant(row.Grant)}
		if row.AddedAt.Valid {
			tg.AddedAt = &row.AddedAt.Time
		}
		out = append(out, tg)
	}
	respondList(w, r, out)
}

func (h *OrganisationHandler) lookupFailed(w http.ResponseWriter, r *http.Request, err error, notFound *apierr.Error) {
	if errors.Is(err, db.ErrNotFound) {
		apierr.WriteErrorWithContext(w, r, notFound)
		return
	}
	logger.ErrorContext(r.Context(), "Lookup failed", "error", err)
	apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
}
