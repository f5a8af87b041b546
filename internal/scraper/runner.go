package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/metrics"
	"github.com/A1anMc/GrantSGE/internal/tracing"
)

// ErrUnknownSource is returned by RunSource for a name no source answers to.
var ErrUnknownSource = errors.New("unknown scrape source")

// GrantWriter persists scraped grants keyed by source URL.
type GrantWriter interface {
	BatchUpsertGrants(ctx context.Context, grants []db.UpsertGrantBySourceURLParams, batchSize int) (int, error)
}

// Invalidator drops cached entries under a key prefix.
type Invalidator interface {
	InvalidatePattern(ctx context.Context, prefix string) (int, error)
}

// Clearer empties a cache outright.
type Clearer interface {
	Clear()
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Store   GrantWriter
	Sources []Source
	// Cache and Prefixes name the tiered cache entries that go stale when
	// grants change.
	Cache     Invalidator
	Prefixes  []string
	Responses Clearer
	BatchSize int
	Now       func() time.Time
}

// SourceResult reports one source within a run.
type SourceResult struct {
	Name     string        `json:"name"`
	Found    int           `json:"found"`
	Upserted int           `json:"upserted"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Summary reports one scrape run.
type Summary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Found      int            `json:"found"`
	Upserted   int            `json:"upserted"`
	Sources    []SourceResult `json:"sources"`
}

// Runner scrapes sources, stores what they return and invalidates caches
// that may hold stale grants.
type Runner struct {
	cfg     RunnerConfig
	sources map[string]Source
	log     *slog.Logger
}

// NewRunner validates cfg and indexes sources by name.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Store == nil {
		return nil, errors.New("scraper: runner needs a grant store")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	byName := make(map[string]Source, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if _, dup := byName[s.Name()]; dup {
			return nil, fmt.Errorf("scraper: duplicate source %q", s.Name())
		}
		byName[s.Name()] = s
	}
	return &Runner{cfg: cfg, sources: byName, log: logger.WithComponent("scraper")}, nil
}

// SourceNames lists the configured sources in sorted order.
func (r *Runner) SourceNames() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run scrapes every source in order. Source failures are collected into the
// returned error; the summary covers all sources either way.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	return r.run(ctx, r.cfg.Sources)
}

// RunSource scrapes a single source by name.
func (r *Runner) RunSource(ctx context.Context, name string) (Summary, error) {
	s, ok := r.sources[name]
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return r.run(ctx, []Source{s})
}

func (r *Runner) run(ctx context.Context, sources []Source) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), StartedAt: r.cfg.Now().UTC()}
	ctx, span := tracing.StartSpan(ctx, "scraper.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", sum.RunID), attribute.Int("sources", len(sources)))

	log := r.log.With("run_id", sum.RunID)
	log.InfoContext(ctx, "scrape run started", "sources", len(sources))

	var errs []error
	for _, s := range sources {
		res, err := r.runSource(ctx, s)
		sum.Sources = append(sum.Sources, res)
		sum.Found += res.Found
		sum.Upserted += res.Upserted
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			log.ErrorContext(ctx, "scrape source failed", "source", s.Name(), "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if sum.Upserted > 0 {
		r.invalidate(ctx, log)
	}

	sum.FinishedAt = r.cfg.Now().UTC()
	err := errors.Join(errs...)
	tracing.RecordError(span, err)
	span.SetAttributes(attribute.Int("found", sum.Found), attribute.Int("upserted", sum.Upserted))
	log.InfoContext(ctx, "scrape run finished",
		"found", sum.Found,
		"upserted", sum.Upserted,
		"failed_sources", len(errs),
		"duration", sum.FinishedAt.Sub(sum.StartedAt))
	return sum, err
}

func (r *Runner) runSource(ctx context.Context, s Source) (res SourceResult, err error) {
	start := time.Now()
	res.Name = s.Name()
	defer func() {
		res.Duration = time.Since(start)
		metrics.ScrapeDuration.WithLabelValues(s.Name()).Observe(res.Duration.Seconds())
	}()

	listings, err := s.Scrape(ctx)
	res.Found = len(listings)
	if err != nil && len(listings) == 0 {
		res.Error = err.Error()
		metrics.ScrapeRuns.WithLabelValues(s.Name(), "error").Inc()
		return res, err
	}

	params := make([]db.UpsertGrantBySourceURLParams, 0, len(listings))
	for _, l := range listings {
		params = append(params, l.UpsertParams())
	}
	n, upsertErr := r.cfg.Store.BatchUpsertGrants(ctx, params, r.cfg.BatchSize)
	res.Upserted = n
	metrics.ScrapeGrantsUpserted.WithLabelValues(s.Name()).Add(float64(n))
	if upsertErr != nil {
		err = errors.Join(err, fmt.Errorf("store grants: %w", upsertErr))
	}
	if err != nil {
		res.Error = err.Error()
		metrics.ScrapeRuns.WithLabelValues(s.Name(), "partial").Inc()
		return res, err
	}
	metrics.ScrapeRuns.WithLabelValues(s.Name(), "success").Inc()
	return res, nil
}

func (r *Runner) invalidate(ctx context.Context, log *slog.Logger) {
	if r.cfg.Responses != nil {
		r.cfg.Responses.Clear()
	}
	if r.cfg.Cache == nil {
		return
	}
	for _, prefix := range r.cfg.Prefixes {
		n, err := r.cfg.Cache.InvalidatePattern(ctx, prefix)
		if err != nil {
			log.WarnContext(ctx, "cache invalidation failed", "prefix", prefix, "error", err)
			continue
		}
		log.DebugContext(ctx, "cache invalidated", "prefix", prefix, "keys", n)
	}
}
