package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/A1anMc/GrantSGE/internal/scraper"
)

func newScrapeCmd(e *env) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape grant listings into the database",
		Long: `Fetch listings from the configured sources, upsert them by source URL and
invalidate cached grant lookups. Without --source every source runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runner, closeFn, err := e.openRunner(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize scraper: %w", err)
			}
			if closeFn != nil {
				defer closeFn()
			}

			start := time.Now()
			var sum scraper.Summary
			if source != "" {
				sum, err = runner.RunSource(ctx, source)
			} else {
				sum, err = runner.Run(ctx)
			}

			out := cmd.OutOrStdout()
			for _, s := range sum.Sources {
				status := "ok"
				if s.Error != "" {
					status = "failed: " + s.Error
				}
				fmt.Fprintf(out, "  %-16s found %4d  upserted %4d  %s\n", s.Name, s.Found, s.Upserted, status)
			}
			if err != nil {
				return fmt.Errorf("scrape failed (sources: %s): %w", strings.Join(runner.SourceNames(), ", "), err)
			}
			fmt.Fprintf(out, "Scraped %d listings, upserted %d in %s\n", sum.Found, sum.Upserted, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "run a single source by name")
	return cmd
}
