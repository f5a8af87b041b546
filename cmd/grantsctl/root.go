package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/A1anMc/GrantSGE/internal/cache"
	"github.com/A1anMc/GrantSGE/internal/config"
	"github.com/A1anMc/GrantSGE/internal/kvstore"
	"github.com/A1anMc/GrantSGE/internal/scraper"
	"github.com/A1anMc/GrantSGE/internal/server"
)

// scrapeRunner is the part of *scraper.Runner the scrape command needs.
type scrapeRunner interface {
	Run(ctx context.Context) (scraper.Summary, error)
	RunSource(ctx context.Context, name string) (scraper.Summary, error)
	SourceNames() []string
}

// env carries what commands open lazily, so cache and rate limit commands
// never need a database.
type env struct {
	cfg        *config.Config
	out        io.Writer
	openKV     func(ctx context.Context) (kvstore.Store, error)
	openRunner func(ctx context.Context) (scrapeRunner, func() error, error)
}

func defaultEnv(cfg *config.Config) *env {
	return &env{
		cfg: cfg,
		out: os.Stdout,
		openKV: func(ctx context.Context) (kvstore.Store, error) {
			return kvstore.Open(ctx, cfg)
		},
		openRunner: func(ctx context.Context) (scrapeRunner, func() error, error) {
			srv, err := server.Open(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			return srv.Scraper, srv.Close, nil
		},
	}
}

func (e *env) tiered(kv kvstore.Store) *cache.Tiered {
	return cache.NewTiered(kv,
		cache.WithVersion(e.cfg.CacheVersion),
		cache.WithDegradeOnInfraError(false),
	)
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "grantsctl",
		Short: "Operate the grants backend",
		Long: `grantsctl runs scrapes and inspects the shared cache and rate limit
counters of a grants deployment. It reads the same environment as the API
server (DATABASE_URL, KVSTORE_BACKEND, REDIS_*, CACHE_VERSION, ...).

Common usage:
  grantsctl scrape                      # Scrape every configured source
  grantsctl scrape --source grantconnect
  grantsctl cache stats
  grantsctl cache invalidate grants:    # Drop cached grant lookups
  grantsctl ratelimit check ip:203.0.113.7`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.AddCommand(newScrapeCmd(e), newCacheCmd(e), newRateLimitCmd(e))
	return root
}
