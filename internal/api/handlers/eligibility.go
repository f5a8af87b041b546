package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/circuitbreaker"
	"github.com/A1anMc/GrantSGE/internal/eligibility"
	"github.com/A1anMc/GrantSGE/internal/llm"
	"github.com/A1anMc/GrantSGE/internal/logger"
)

// EligibilityService runs scans and drafts. *eligibility.Service satisfies it.
type EligibilityService interface {
	Scan(ctx context.Context, grantID int64) (eligibility.Analysis, error)
	Draft(ctx context.Context, grantID int64, req eligibility.DraftRequest) (string, error)
}

// EligibilityHandler exposes AI eligibility scans and application drafts.
type EligibilityHandler struct {
	svc EligibilityService
}

func NewEligibilityHandler(svc EligibilityService) *EligibilityHandler {
	return &EligibilityHandler{svc: svc}
}

type analysisResponse struct {
	GrantID  int64                `json:"grant_id"`
	Analysis eligibility.Analysis `json:"analysis"`
	Report   string               `json:"report"`
}

// Analyze handles POST /api/grants/{id}/analyze-eligibility.
func (h *EligibilityHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	id, aerr := pathID(r, "id")
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	a, err := h.svc.Scan(r.Context(), id)
	if err != nil {
		h.fail(w, r, id, err, apierr.EligibilityUpstream(""))
		return
	}
	respond(w, r, http.StatusOK, analysisResponse{
		GrantID:  id,
		Analysis: a,
		Report:   eligibility.FormatResults(a),
	})
}

// Draft handles POST /api/grants/{id}/generate-draft.
func (h *EligibilityHandler) Draft(w http.ResponseWriter, r *http.Request) {
	id, aerr := pathID(r, "id")
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	var req eligibility.DraftRequest
	if aerr := decode(r, &req); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	text, err := h.svc.Draft(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, id, err, apierr.DraftFailed(""))
		return
	}
	respond(w, r, http.StatusOK, map[string]any{
		"grant_id": id,
		"draft":    text,
	})
}

// fail maps service errors onto API errors; upstream is used for model failures.
func (h *EligibilityHandler) fail(w http.ResponseWriter, r *http.Request, grantID int64, err error, upstream *apierr.Error) {
	var limited *eligibility.LimitedError
	switch {
	case errors.Is(err, eligibility.ErrGrantNotFound):
		apierr.WriteErrorWithContext(w, r, apierr.GrantNotFound(grantID))
	case errors.Is(err, eligibility.ErrOrganisationNotFound):
		apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("Organisation profile"))
	case errors.Is(err, eligibility.ErrQuestionRequired):
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("application_question"))
	case errors.As(err, &limited):
		secs := int64(math.Ceil(limited.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		apierr.WriteErrorWithContext(w, r, apierr.RateLimitExceeded(secs))
	case errors.Is(err, eligibility.ErrInvalidResponse):
		logger.WarnContext(r.Context(), "Model returned an invalid analysis", "grant_id", grantID, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.EligibilityInvalidResponse(""))
	case errors.Is(err, llm.ErrNotConfigured), errors.Is(err, circuitbreaker.ErrCircuitOpen):
		logger.WarnContext(r.Context(), "Text generation unavailable", "grant_id", grantID, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Text generation is temporarily unavailable"))
	case errors.Is(err, context.DeadlineExceeded):
		apierr.WriteErrorWithContext(w, r, apierr.SystemTimeout(""))
	default:
		logger.ErrorContext(r.Context(), "Text generation failed", "grant_id", grantID, "error", err)
		apierr.WriteErrorWithContext(w, r, upstream)
	}
}
