package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/scraper"
)

// ScrapeRunner runs grant scrapers. *scraper.Runner satisfies it.
type ScrapeRunner interface {
	Run(ctx context.Context) (scraper.Summary, error)
	RunSource(ctx context.Context, name string) (scraper.Summary, error)
	SourceNames() []string
}

// ScrapeHandler triggers scrape runs on demand.
type ScrapeHandler struct {
	runner ScrapeRunner
}

func NewScrapeHandler(runner ScrapeRunner) *ScrapeHandler {
	return &ScrapeHandler{runner: runner}
}

type scrapeRequest struct {
	Source string `json:"source"`
}

type scrapeResponse struct {
	scraper.Summary
	Errors []string `json:"errors,omitempty"`
}

// Run handles POST /api/admin/scrape. It runs synchronously and reports the
// summary; partial failures still return 200 with the per-source errors.
func (h *ScrapeHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if r.ContentLength != 0 {
		if aerr := decode(r, &req); aerr != nil {
			apierr.WriteErrorWithContext(w, r, aerr)
			return
		}
	}
	source := strings.TrimSpace(req.Source)

	var (
		sum scraper.Summary
		err error
	)
	if source == "" {
		sum, err = h.runner.Run(r.Context())
	} else {
		sum, err = h.runner.RunSource(r.Context(), source)
	}
	if errors.Is(err, scraper.ErrUnknownSource) {
		apierr.WriteErrorWithContext(w, r, apierr.ScrapeUnknownSource(source).
			WithDetails(map[string]interface{}{"source": source, "available": h.runner.SourceNames()}))
		return
	}
	out := scrapeResponse{Summary: sum}
	if err != nil {
		for _, s := range sum.Sources {
			if s.Error != "" {
				out.Errors = append(out.Errors, s.Name+": "+s.Error)
			}
		}
		if sum.Upserted == 0 && len(out.Errors) == len(sum.Sources) {
			logger.ErrorContext(r.Context(), "Scrape run failed", "run_id", sum.RunID, "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.ScrapeFailed(err.Error()))
			return
		}
		logger.WarnContext(r.Context(), "Scrape run partially failed", "run_id", sum.RunID, "error", err)
	}
	respond(w, r, http.StatusOK, out)
}
