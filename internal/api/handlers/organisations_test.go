package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/A1anMc/GrantSGE/internal/auth"
	"github.com/A1anMc/GrantSGE/internal/db"
)

func TestOrganisationHandler_CreateOwnedByUser(t *testing.T) {
	store := newFakeStore()
	h := NewOrganisationHandler(store)

	req := request(http.MethodPost, "/api/organisations", map[string]any{
		"name":         "Riverbend Youth Theatre",
		"abn":          "12345678901",
		"dgr_status":   true,
		"mission":      "Theatre for young people",
		"years_active": 12,
	}, nil)
	req = req.WithContext(auth.WithUser(req.Context(), db.User{ID: 42, IsActive: true}, &auth.Claims{UserID: 42}))
	rr := httptest.NewRecorder()
	h.Create(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if !store.lastOrg.UserID.Valid || store.lastOrg.UserID.Int64 != 42 {
		t.Errorf("user id = %+v", store.lastOrg.UserID)
	}
	var org Organisation
	if err := json.Unmarshal(decodeBody(t, rr).Data, &org); err != nil {
		t.Fatal(err)
	}
	if org.YearsActive == nil || *org.YearsActive != 12 || !org.DgrStatus {
		t.Errorf("organisation = %+v", org)
	}
}

func TestOrganisationHandler_CreateValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]any
		wantCode string
	}{
		{"missing name", map[string]any{"mission": "x"}, "VALIDATION_MISSING_FIELD"},
		{"short abn", map[string]any{"name": "x", "abn": "123"}, "VALIDATION_INVALID_VALUE"},
		{"negative staff", map[string]any{"name": "x", "staff_size": -1}, "VALIDATION_INVALID_VALUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NewOrganisationHandler(newFakeStore()).Create(rr, request(http.MethodPost, "/api/organisations", tt.body, nil))
			expectError(t, rr, http.StatusBadRequest, tt.wantCode)
		})
	}
}

func TestOrganisationHandler_GetAndUpdate(t *testing.T) {
	store := newFakeStore()
	store.orgs[3] = db.OrganisationProfile{ID: 3, Name: "Harbour Arts"}
	h := NewOrganisationHandler(store)

	rr := httptest.NewRecorder()
	h.Get(rr, request(http.MethodGet, "/api/organisations/4", nil, map[string]string{"id": "4"}))
	expectError(t, rr, http.StatusNotFound, "ORG_NOT_FOUND")

	rr = httptest.NewRecorder()
	h.Update(rr, request(http.MethodPut, "/api/organisations/3", map[string]any{"mission": "Arts on the water"}, map[string]string{"id": "3"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var org Organisation
	if err := json.Unmarshal(decodeBody(t, rr).Data, &org); err != nil {
		t.Fatal(err)
	}
	if org.Mission == nil || *org.Mission != "Arts on the water" {
		t.Errorf("mission = %v", org.Mission)
	}
}

func TestOrganisationHandler_TrackGrant(t *testing.T) {
	store := newFakeStore()
	store.orgs[3] = db.OrganisationProfile{ID: 3, Name: "Harbour Arts"}
	store.grants[8] = sampleGrant(8)
	h := NewOrganisationHandler(store)

	tests := []struct {
		name       string
		vars       map[string]string
		body       any
		wantStatus int
		wantCode   string
		wantTrack  string
	}{
		{name: "default status", vars: map[string]string{"id": "3", "grantID": "8"}, wantStatus: http.StatusOK, wantTrack: "interested"},
		{name: "explicit status", vars: map[string]string{"id": "3", "grantID": "8"}, body: map[string]any{"tracking_status": "applying"}, wantStatus: http.StatusOK, wantTrack: "applying"},
		{name: "bad status", vars: map[string]string{"id": "3", "grantID": "8"}, body: map[string]any{"tracking_status": "won"}, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_INVALID_VALUE"},
		{name: "unknown organisation", vars: map[string]string{"id": "9", "grantID": "8"}, wantStatus: http.StatusNotFound, wantCode: "ORG_NOT_FOUND"},
		{name: "unknown grant", vars: map[string]string{"id": "3", "grantID": "99"}, wantStatus: http.StatusNotFound, wantCode: "GRANT_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.TrackGrant(rr, request(http.MethodPost, "/api/organisations/x/grants/y", tt.body, tt.vars))
			if tt.wantCode != "" {
				expectError(t, rr, tt.wantStatus, tt.wantCode)
				return
			}
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
			}
			if store.lastTrack.TrackingStatus != tt.wantTrack {
				t.Errorf("tracking status = %q, want %q", store.lastTrack.TrackingStatus, tt.wantTrack)
			}
		})
	}

	rr := httptest.NewRecorder()
	h.ListTracked(rr, request(http.MethodGet, "/api/organisations/3/grants", nil, map[string]string{"id": "3"}))
	env := decodeBody(t, rr)
	if env.Count == nil || *env.Count != 2 {
		t.Fatalf("count = %v", env.Count)
	}
	var tracked []TrackedGrant
	if err := json.Unmarshal(env.Data, &tracked); err != nil {
		t.Fatal(err)
	}
	if tracked[0].Grant.ID != 8 || tracked[0].AddedAt == nil {
		t.Errorf("tracked = %+v", tracked[0])
	}
}
