package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/A1anMc/GrantSGE/internal/circuitbreaker"
	"github.com/A1anMc/GrantSGE/internal/eligibility"
)

type fakeEligibility struct {
	analysis eligibility.Analysis
	draft    string
	err      error
	lastReq  eligibility.DraftRequest
}

func (f *fakeEligibility) Scan(ctx context.Context, grantID int64) (eligibility.Analysis, error) {
	return f.analysis, f.err
}

func (f *fakeEligibility) Draft(ctx context.Context, grantID int64, req eligibility.DraftRequest) (string, error) {
	f.lastReq = req
	return f.draft, f.err
}

func TestEligibilityHandler_Analyze(t *testing.T) {
	svc := &fakeEligibility{analysis: eligibility.Analysis{
		Score:           0.8,
		AlignmentPoints: []string{"Youth focus"},
		Disqualifiers:   []string{"None identified"},
		MissingInfo:     []string{"Audited accounts"},
		Criteria:        []eligibility.Criterion{{Name: "Registered charity", Met: true, Description: "DGR status held"}},
	}}
	rr := httptest.NewRecorder()
	NewEligibilityHandler(svc).Analyze(rr, request(http.MethodPost, "/api/grants/4/analyze-eligibility", nil, map[string]string{"id": "4"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var out analysisResponse
	if err := json.Unmarshal(decodeBody(t, rr).Data, &out); err != nil {
		t.Fatal(err)
	}
	if out.GrantID != 4 || out.Analysis.Score != 0.8 {
		t.Errorf("response = %+v", out)
	}
	if !strings.Contains(out.Report, "Registered charity") {
		t.Errorf("report missing criteria: %q", out.Report)
	}
}

func TestEligibilityHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"grant missing", eligibility.ErrGrantNotFound, http.StatusNotFound, "GRANT_NOT_FOUND"},
		{"no organisation", eligibility.ErrOrganisationNotFound, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"invalid model output", fmt.Errorf("scan: %w", eligibility.ErrInvalidResponse), http.StatusBadGateway, "ELIGIBILITY_INVALID_RESPONSE"},
		{"breaker open", fmt.Errorf("generate: %w", circuitbreaker.ErrCircuitOpen), http.StatusServiceUnavailable, "SYSTEM_UNAVAILABLE"},
		{"timeout", context.DeadlineExceeded, http.StatusRequestTimeout, "SYSTEM_TIMEOUT"},
		{"upstream", errors.New("status 500"), http.StatusBadGateway, "ELIGIBILITY_UPSTREAM_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NewEligibilityHandler(&fakeEligibility{err: tt.err}).Analyze(rr,
				request(http.MethodPost, "/api/grants/4/analyze-eligibility", nil, map[string]string{"id": "4"}))
			expectError(t, rr, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestEligibilityHandler_RateLimited(t *testing.T) {
	svc := &fakeEligibility{err: &eligibility.LimitedError{GrantID: 4, RetryAfter: 90*time.Second + 200*time.Millisecond}}
	rr := httptest.NewRecorder()
	NewEligibilityHandler(svc).Analyze(rr, request(http.MethodPost, "/api/grants/4/analyze-eligibility", nil, map[string]string{"id": "4"}))
	expectError(t, rr, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")
	if got := rr.Header().Get("Retry-After"); got != "91" {
		t.Errorf("Retry-After = %q, want 91", got)
	}
}

func TestEligibilityHandler_Draft(t *testing.T) {
	svc := &fakeEligibility{draft: "Our programme reaches 400 young people each year."}
	h := NewEligibilityHandler(svc)

	rr := httptest.NewRecorder()
	h.Draft(rr, request(http.MethodPost, "/api/grants/4/generate-draft", map[string]any{
		"application_question": "Describe your impact",
		"context_documents":    []string{"Annual report 2024"},
		"organisation_id":      3,
	}, map[string]string{"id": "4"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if svc.lastReq.OrganisationID != 3 || len(svc.lastReq.ContextDocuments) != 1 {
		t.Errorf("request = %+v", svc.lastReq)
	}
	var out map[string]any
	if err := json.Unmarshal(decodeBody(t, rr).Data, &out); err != nil {
		t.Fatal(err)
	}
	if out["draft"] != svc.draft {
		t.Errorf("draft = %v", out["draft"])
	}

	rr = httptest.NewRecorder()
	h.Draft(rr, request(http.MethodPost, "/api/grants/4/generate-draft", map[string]any{}, map[string]string{"id": "4"}))
	expectError(t, rr, http.StatusBadRequest, "VALIDATION_MISSING_FIELD")

	rr = httptest.NewRecorder()
	NewEligibilityHandler(&fakeEligibility{err: errors.New("boom")}).Draft(rr,
		request(http.MethodPost, "/api/grants/4/generate-draft", map[string]any{"application_question": "Why?"}, map[string]string{"id": "4"}))
	expectError(t, rr, http.StatusBadGateway, "DRAFT_FAILED")
}
