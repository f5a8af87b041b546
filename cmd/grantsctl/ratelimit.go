package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/A1anMc/GrantSGE/internal/ratelimit"
)

func (e *env) limiterConfig(name string) (ratelimit.Config, error) {
	switch name {
	case "api":
		return ratelimit.Config{Prefix: "rl:api", Limit: e.cfg.RateLimitRequests, Window: e.cfg.RateLimitWindow}, nil
	case "eligibility":
		return ratelimit.Config{Prefix: "rl:eligibility", Limit: e.cfg.EligibilityRateLimit, Window: e.cfg.EligibilityRateLimitWindow}, nil
	case "register":
		return ratelimit.Config{Prefix: "rl:register", Limit: e.cfg.RegisterRateLimit, Window: time.Hour}, nil
	case "login":
		return ratelimit.Config{Prefix: "rl:login", Limit: e.cfg.LoginRateLimit, Window: time.Hour}, nil
	}
	return ratelimit.Config{}, fmt.Errorf("unknown limiter %q (api, eligibility, register, login)", name)
}

func newRateLimitCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect fixed-window rate limit counters",
	}

	var limiter string
	check := &cobra.Command{
		Use:   "check <identifier>",
		Short: "Count one request for identifier and report the decision",
		Long: `Run the same check the API runs for identifier, e.g. "ip:203.0.113.7",
"user:42" or a grant id for the eligibility limiter. An allowed check counts
toward the window like a real request.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.limiterConfig(limiter)
			if err != nil {
				return err
			}
			kv, err := e.openKV(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to open rate limit store: %w", err)
			}
			defer kv.Close()

			l, err := ratelimit.New(kv, cfg)
			if err != nil {
				return err
			}
			d, err := l.Allow(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("rate limit check failed: %w", err)
			}

			out := cmd.OutOrStdout()
			status := "allowed"
			if !d.Allowed {
				status = "limited"
			}
			fmt.Fprintf(out, "%s %s: %s\n", cfg.Prefix, args[0], status)
			fmt.Fprintf(out, "  Limit:     %d per %s\n", d.Limit, cfg.Window)
			fmt.Fprintf(out, "  Remaining: %d\n", d.Remaining)
			fmt.Fprintf(out, "  Resets:    %s\n", d.ResetAt.UTC().Format(time.RFC3339))
			if !d.Allowed {
				fmt.Fprintf(out, "  Retry in:  %s\n", d.RetryAfter(l.Now()).Round(time.Second))
			}
			return nil
		},
	}
	check.Flags().StringVarP(&limiter, "limiter", "l", "api", "limiter to check: api, eligibility, register or login")
	cmd.AddCommand(check)
	return cmd
}
