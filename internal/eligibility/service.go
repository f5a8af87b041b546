package eligibility

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/llm"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/memo"
	"github.com/A1anMc/GrantSGE/internal/metrics"
	"github.com/A1anMc/GrantSGE/internal/ratelimit"
	"github.com/A1anMc/GrantSGE/internal/tracing"
	"github.com/sqlc-dev/pqtype"
	"go.opentelemetry.io/otel/attribute"
)

// ScanPrefix namespaces memoized scan results in the tiered cache.
const ScanPrefix = "eligibility_scan"

const (
	analystSystem = "You are an expert grant analyst. Analyze grant eligibility based on the provided information."
	writerSystem  = "You are an expert grant writer with extensive experience in crafting successful grant applications. Write clear, compelling, and evidence-based responses."
)

var (
	ErrGrantNotFound        = errors.New("grant not found")
	ErrOrganisationNotFound = errors.New("organisation not found")
	ErrQuestionRequired     = errors.New("application_question is required")

	// ErrRateLimited is matched by *LimitedError.
	ErrRateLimited = ratelimit.ErrLimited
)

// LimitedError is returned when a grant exceeded its scan budget for the
// current window.
type LimitedError struct {
	GrantID    int64
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("eligibility scans for grant %d exceeded, retry in %s", e.GrantID, e.RetryAfter)
}

func (e *LimitedError) Unwrap() error { return ErrRateLimited }

// Store is the persistence surface the service uses. *db.Queries satisfies it.
type Store interface {
	GetGrant(ctx context.Context, id int64) (db.Grant, error)
	GetOrganisation(ctx context.Context, id int64) (db.OrganisationProfile, error)
	ListOrganisations(ctx context.Context) ([]db.OrganisationProfile, error)
	SetGrantEligibility(ctx context.Context, arg db.SetGrantEligibilityParams) error
}

// Options tune the model calls and caching.
type Options struct {
	Model        string
	ModelVersion string
	CacheTTL     time.Duration
	Now          func() time.Time
}

// Service runs eligibility scans and drafts.
type Service struct {
	store   Store
	gen     llm.Generator
	cache   memo.Cache
	limiter *ratelimit.Limiter
	opts    Options
}

// NewService wires a Service. cache and limiter may be nil to disable
// memoization or per-grant limiting.
func NewService(store Store, gen llm.Generator, cache memo.Cache, limiter *ratelimit.Limiter, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Model != "" {
		metrics.AIModelInfo.WithLabelValues(opts.Model, opts.ModelVersion).Set(1)
	}
	return &Service{store: store, gen: gen, cache: cache, limiter: limiter, opts: opts}
}

// Scan returns the eligibility analysis for grantID, from cache when an
// earlier scan is still valid.
func (s *Service) Scan(ctx context.Context, grantID int64) (Analysis, error) {
	start := time.Now()
	defer metrics.ObservePhase(metrics.EligibilityLatency, "total", start)

	var (
		res Analysis
		err error
	)
	if s.cache == nil {
		res, err = s.scan(ctx, grantID)
	} else {
		res, err = memo.GetOrCompute(ctx, s.cache, memo.Key(ScanPrefix, []any{grantID}, nil), func(ctx context.Context) (Analysis, error) {
			return s.scan(ctx, grantID)
		},
			memo.WithMemoryTTL(s.opts.CacheTTL),
			memo.WithHooks(metrics.EligibilityCacheHits.Inc, metrics.EligibilityCacheMisses.Inc),
		)
	}
	if err != nil {
		metrics.EligibilityRequests.WithLabelValues("error").Inc()
		return Analysis{}, err
	}
	metrics.EligibilityRequests.WithLabelValues("success").Inc()
	return res, nil
}

func (s *Service) scan(ctx context.Context, grantID int64) (Analysis, error) {
	ctx, span := tracing.StartSpan(ctx, "eligibility.scan")
	defer span.End()
	span.SetAttributes(attribute.Int64("grant.id", grantID))
	log := logger.WithRequestID(ctx).With("grant_id", grantID)

	if err := s.checkLimit(ctx, grantID); err != nil {
		return Analysis{}, err
	}

	phase := time.Now()
	g, org, err := s.load(ctx, grantID, 0)
	if err != nil {
		tracing.RecordError(span, err)
		return Analysis{}, err
	}
	prompt := BuildPrompt(g, org)
	metrics.ObservePhase(metrics.EligibilityLatency, "prompt", phase)

	phase = time.Now()
	text, err := s.gen.Generate(ctx, llm.Request{
		Model:       s.opts.Model,
		MaxTokens:   1500,
		Temperature: 0.2,
		System:      analystSystem,
		Prompt:      prompt,
	})
	metrics.ObservePhase(metrics.EligibilityLatency, "model", phase)
	if err != nil {
		tracing.RecordError(span, err)
		log.Error("eligibility model call failed", "error", err)
		return Analysis{}, fmt.Errorf("eligibility scan: %w", err)
	}

	analysis, err := ParseAnalysis(text)
	if err != nil {
		tracing.RecordError(span, err)
		log.Warn("eligibility response rejected", "error", err)
		return Analysis{}, err
	}

	phase = time.Now()
	raw, _ := json.Marshal(analysis)
	if err := s.store.SetGrantEligibility(ctx, db.SetGrantEligibilityParams{
		ID:                  grantID,
		EligibilityAnalysis: pqtype.NullRawMessage{RawMessage: raw, Valid: true},
		EligibilityScore:    sql.NullFloat64{Float64: analysis.Score, Valid: true},
		LastAnalysis:        sql.NullTime{Time: s.opts.Now(), Valid: true},
	}); err != nil {
		tracing.RecordError(span, err)
		return Analysis{}, fmt.Errorf("eligibility scan: persist result: %w", err)
	}
	metrics.ObservePhase(metrics.EligibilityLatency, "persist", phase)

	span.SetAttributes(attribute.Float64("eligibility.score", analysis.Score))
	log.Info("eligibility scan complete", "score", analysis.Score)
	return analysis, nil
}

func (s *Service) checkLimit(ctx context.Context, grantID int64) error {
	if s.limiter == nil {
		return nil
	}
	d, err := s.limiter.Allow(ctx, strconv.FormatInt(grantID, 10))
	if err != nil {
		return fmt.Errorf("eligibility scan: rate limiter: %w", err)
	}
	if !d.Allowed {
		metrics.EligibilityRateLimits.Inc()
		return &LimitedError{GrantID: grantID, RetryAfter: d.RetryAfter(s.opts.Now())}
	}
	return nil
}

// load fetches the grant and the organisation to assess it against. The
// grant's own organisation wins; otherwise orgID, otherwise the first profile.
func (s *Service) load(ctx context.Context, grantID, orgID int64) (Grant, Organisation, error) {
	row, err := s.store.GetGrant(ctx, grantID)
	if errors.Is(err, db.ErrNotFound) {
		return Grant{}, Organisation{}, fmt.Errorf("%w: %d", ErrGrantNotFound, grantID)
	}
	if err != nil {
		return Grant{}, Organisation{}, fmt.Errorf("load grant %d: %w", grantID, err)
	}
	g := grantFromRow(row)

	if row.OrgID.Valid {
		orgID = row.OrgID.Int64
	}
	if orgID == 0 {
		orgs, err := s.store.ListOrganisations(ctx)
		if err != nil {
			return Grant{}, Organisation{}, fmt.Errorf("list organisations: %w", err)
		}
		if len(orgs) == 0 {
			return Grant{}, Organisation{}, ErrOrganisationNotFound
		}
		return g, organisationFromRow(orgs[0]), nil
	}
	org, err := s.store.GetOrganisation(ctx, orgID)
	if errors.Is(err, db.ErrNotFound) {
		return Grant{}, Organisation{}, fmt.Errorf("%w: %d", ErrOrganisationNotFound, orgID)
	}
	if err != nil {
		return Grant{}, Organisation{}, fmt.Errorf("load organisation %d: %w", orgID, err)
	}
	return g, organisationFromRow(org), nil
}

// DraftRequest asks for a response to one application question.
type DraftRequest struct {
	ApplicationQuestion string   `json:"application_question" validate:"required"`
	ContextDocuments    []string `json:"context_documents"`
	OrganisationID      int64    `json:"organisation_id"`
}

// Draft writes a response to an application question for grantID.
func (s *Service) Draft(ctx context.Context, grantID int64, req DraftRequest) (string, error) {
	start := time.Now()
	defer metrics.ObservePhase(metrics.DraftDuration, "total", start)
	ctx, span := tracing.StartSpan(ctx, "eligibility.draft")
	defer span.End()
	span.SetAttributes(attribute.Int64("grant.id", grantID))

	text, err := s.draft(ctx, grantID, req)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.DraftRequests.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.DraftRequests.WithLabelValues("success").Inc()
	return text, nil
}

func (s *Service) draft(ctx context.Context, grantID int64, req DraftRequest) (string, error) {
	if strings.TrimSpace(req.ApplicationQuestion) == "" {
		return "", ErrQuestionRequired
	}
	g, org, err := s.load(ctx, grantID, req.OrganisationID)
	if err != nil {
		return "", err
	}
	prompt := BuildDraftPrompt(g, org, req.ApplicationQuestion, req.ContextDocuments)

	phase := time.Now()
	text, err := s.gen.Generate(ctx, llm.Request{
		Model:       s.opts.Model,
		MaxTokens:   4000,
		Temperature: 0.7,
		System:      writerSystem,
		Prompt:      prompt,
	})
	metrics.ObservePhase(metrics.DraftDuration, "api_call", phase)
	if err != nil {
		logger.WithRequestID(ctx).Error("draft model call failed", "grant_id", grantID, "error", err)
		return "", fmt.Errorf("generate draft: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func grantFromRow(r db.Grant) Grant {
	return Grant{
		ID:          r.ID,
		Name:        r.Name,
		Funder:      r.Funder,
		Description: r.Description.String,
		Amount:      r.AmountString.String,
		DueDate:     r.DueDate.Time,
	}
}

func organisationFromRow(r db.OrganisationProfile) Organisation {
	return Organisation{
		ID:                 r.ID,
		Name:               r.Name,
		Mission:            r.Mission.String,
		FocusAreas:         r.FocusAreas.String,
		YearsActive:        int64(r.YearsActive.Int32),
		AnnualBudget:       r.AnnualBudget.Int64,
		PreviousGrants:     r.PreviousGrants.String,
		StaffSize:          int64(r.StaffSize.Int32),
		TargetDemographics: r.TargetDemographics.String,
	}
}
