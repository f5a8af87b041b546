package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/A1anMc/GrantSGE/internal/api"
	"github.com/A1anMc/GrantSGE/internal/api/handlers"
	"github.com/A1anMc/GrantSGE/internal/auth"
	"github.com/A1anMc/GrantSGE/internal/cache"
	"github.com/A1anMc/GrantSGE/internal/config"
	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/eligibility"
	"github.com/A1anMc/GrantSGE/internal/kvstore"
	"github.com/A1anMc/GrantSGE/internal/llm"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/metrics"
	"github.com/A1anMc/GrantSGE/internal/ratelimit"
	"github.com/A1anMc/GrantSGE/internal/scheduler"
	"github.com/A1anMc/GrantSGE/internal/scraper"
)

// ShutdownTimeout bounds how long in-flight requests get to finish.
const ShutdownTimeout = 15 * time.Second

// Limiters are the fixed-window limiters shared by the API and the CLI.
type Limiters struct {
	Client      *ratelimit.Limiter
	Eligibility *ratelimit.Limiter
	Register    *ratelimit.Limiter
	Login       *ratelimit.Limiter
}

// Server owns every long-lived dependency of the API process.
type Server struct {
	Config  *config.Config
	DB      *sql.DB
	Queries *db.Queries
	KV      kvstore.Store

	Lookups     *cache.Tiered
	Responses   *cache.LRUCache
	Limiters    Limiters
	Tokens      *auth.TokenManager
	Accounts    *auth.Service
	Eligibility *eligibility.Service
	Scraper     *scraper.Runner

	scrapeJob *scheduler.Service
	collector *metrics.Collector
	wg        sync.WaitGroup
}

// Open connects to PostgreSQL and the key-value tier and wires the rest.
func Open(ctx context.Context, cfg *config.Config) (*Server, error) {
	conn, q, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBStatementTimeout)
	if err != nil {
		return nil, err
	}
	kv, err := kvstore.Open(ctx, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s, err := New(cfg, conn, q, kv)
	if err != nil {
		kv.Close()
		conn.Close()
		return nil, err
	}
	return s, nil
}

// New wires caches, limiters and services on top of already open stores.
// A nil conn leaves out the database health check and the metrics collector.
func New(cfg *config.Config, conn *sql.DB, q *db.Queries, kv kvstore.Store) (*Server, error) {
	s := &Server{Config: cfg, DB: conn, Queries: q, KV: kv}

	s.Lookups = cache.NewTiered(kv,
		cache.WithVersion(cfg.CacheVersion),
		cache.WithDegradeOnInfraError(cfg.CacheDegradeOnInfraError),
	)
	responses, err := cache.NewLRU("responses", cfg.ResponseCacheMaxMB, cfg.ResponseCacheMaxEntries, cfg.ResponseCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("response cache: %w", err)
	}
	s.Responses = responses

	if s.Limiters, err = newLimiters(cfg, kv); err != nil {
		return nil, err
	}

	s.Tokens, err = auth.NewTokenManager(cfg.JWTSecretKey, cfg.JWTAccessTokenTTL, kv)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}
	s.Accounts = auth.NewService(q, s.Tokens)

	s.Eligibility = eligibility.NewService(q, llm.NewAnthropicClient(cfg), s.Lookups, s.Limiters.Eligibility, eligibility.Options{
		Model:        cfg.LLMModel,
		ModelVersion: cfg.LLMModelVersion,
		CacheTTL:     cfg.EligibilityCacheTTL,
	})

	s.Scraper, err = newScrapeRunner(cfg, q, s.Lookups, s.Responses)
	if err != nil {
		return nil, err
	}

	if cfg.ScrapeSchedule != "" {
		sched, err := scheduler.Parse(cfg.ScrapeSchedule)
		if err != nil {
			return nil, fmt.Errorf("SCRAPE_SCHEDULE: %w", err)
		}
		s.scrapeJob = scheduler.NewService("scrape", sched, func(ctx context.Context) error {
			_, err := s.Scraper.Run(ctx)
			return err
		}, scheduler.WithRunTimeout(30*time.Minute))
	}
	if conn != nil {
		s.collector = metrics.NewCollector(q, cfg.MetricsInterval)
	}
	return s, nil
}

func newLimiters(cfg *config.Config, kv kvstore.Store) (Limiters, error) {
	var l Limiters
	build := func(dst **ratelimit.Limiter, c ratelimit.Config) error {
		lim, err := ratelimit.New(kv, c)
		if err != nil {
			return fmt.Errorf("rate limiter %s: %w", c.Prefix, err)
		}
		*dst = lim
		return nil
	}
	if cfg.EnableRateLimit {
		if err := build(&l.Client, ratelimit.Config{Prefix: "rl:api", Limit: cfg.RateLimitRequests, Window: cfg.RateLimitWindow, FailOpen: true}); err != nil {
			return l, err
		}
		if err := build(&l.Register, ratelimit.Config{Prefix: "rl:register", Limit: cfg.RegisterRateLimit, Window: time.Hour, FailOpen: true}); err != nil {
			return l, err
		}
		if err := build(&l.Login, ratelimit.Config{Prefix: "rl:login", Limit: cfg.LoginRateLimit, Window: time.Hour, FailOpen: true}); err != nil {
			return l, err
		}
	}
	// The per-grant scan budget applies even with ENABLE_RATE_LIMIT=false.
	err := build(&l.Eligibility, ratelimit.Config{Prefix: "rl:eligibility", Limit: cfg.EligibilityRateLimit, Window: cfg.EligibilityRateLimitWindow, FailOpen: true})
	return l, err
}

func newScrapeRunner(cfg *config.Config, q *db.Queries, lookups *cache.Tiered, responses *cache.LRUCache) (*scraper.Runner, error) {
	opts := scraper.Options{
		UserAgent: cfg.ScraperUserAgent,
		Delay:     cfg.ScraperDelay,
		Timeout:   cfg.ScraperTimeout,
		Logger:    logger.WithComponent("scraper"),
	}
	if cfg.ScraperRPS > 0 {
		opts.Pacer = rate.NewLimiter(rate.Limit(cfg.ScraperRPS), 1)
	}
	var sources []scraper.Source
	if cfg.GrantConnectURL != "" {
		sources = append(sources, scraper.NewGrantConnect(cfg.GrantConnectURL, cfg.ScrapeFetchDetails, opts))
	}
	if cfg.GrantsGovAUURL != "" {
		sources = append(sources, scraper.NewGrantsGovAU(cfg.GrantsGovAUURL, opts))
	}
	runner, err := scraper.NewRunner(scraper.RunnerConfig{
		Store:     q,
		Sources:   sources,
		Cache:     lookups,
		Prefixes:  []string{handlers.GrantCachePrefix + ":", eligibility.ScanPrefix + ":"},
		Responses: responses,
	})
	if err != nil {
		return nil, fmt.Errorf("scrape runner: %w", err)
	}
	return runner, nil
}

// Handler builds the HTTP API on top of the wired services.
func (s *Server) Handler() http.Handler {
	health := map[string]handlers.Pinger{}
	if s.Lookups != nil {
		health["cache"] = s.Lookups
	}
	if s.DB != nil {
		health["database"] = handlers.PingFunc(s.DB.PingContext)
	}
	return api.NewRouter(api.Deps{
		Config:          s.Config,
		Store:           s.Queries,
		Lookups:         s.Lookups,
		Responses:       s.Responses,
		Eligibility:     s.Eligibility,
		Accounts:        s.Accounts,
		Auth:            auth.NewMiddleware(s.Tokens, s.Queries),
		Scraper:         s.Scraper,
		Health:          health,
		ClientLimiter:   s.Limiters.Client,
		RegisterLimiter: s.Limiters.Register,
		LoginLimiter:    s.Limiters.Login,
	})
}

// Start launches the background jobs: the scrape schedule, when one is
// configured, and the metrics collector.
func (s *Server) Start(ctx context.Context) {
	if s.scrapeJob != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.scrapeJob.Start(ctx)
		}()
	}
	if s.collector != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.collector.Start(ctx)
		}()
	}
}

// ListenAndServe serves the API on cfg.ListenAddr until ctx is cancelled,
// then drains in-flight requests and waits for background jobs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.Config.LLMTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.serve(ctx, srv, srv.ListenAndServe)
}

func (s *Server) serve(ctx context.Context, srv *http.Server, listen func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- listen()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		logger.Info("Shutting down HTTP server")
		shutdownCtx, done := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	cancel()
	s.wg.Wait()
	return serveErr
}

// Close releases the stores.
func (s *Server) Close() error {
	if s.Responses != nil {
		s.Responses.Close()
	}
	var errs []error
	if s.KV != nil {
		errs = append(errs, s.KV.Close())
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}
