package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

func newCacheCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the shared grant cache",
		Long: `Inspect and invalidate the persistent tier of the tiered cache. Keys are
namespaced by CACHE_VERSION; API processes keep their own memory tier, which
expires on its TTL.`,
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted entry counts for the current version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := e.openKV(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to open cache store: %w", err)
			}
			defer kv.Close()

			version := e.cfg.CacheVersion
			keys, err := kv.Scan(cmd.Context(), version+":")
			if err != nil {
				return fmt.Errorf("failed to scan cache: %w", err)
			}
			counts := map[string]int{}
			for _, k := range keys {
				counts[namespaceOf(strings.TrimPrefix(k, version+":"))]++
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cache Statistics:\n")
			fmt.Fprintf(out, "  Backend:         %s\n", e.cfg.KVBackend)
			fmt.Fprintf(out, "  Version:         %s\n", version)
			fmt.Fprintf(out, "  Persisted keys:  %d\n", len(keys))
			for _, ns := range sortedKeys(counts) {
				fmt.Fprintf(out, "    %-24s %d\n", ns, counts[ns])
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Flush every cached entry",
		Long:  `Flush the whole persistent tier, including entries of other versions and rate limit counters.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := e.openKV(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to open cache store: %w", err)
			}
			defer kv.Close()

			if err := e.tiered(kv).ClearAll(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	}

	invalidateCmd := &cobra.Command{
		Use:   "invalidate <prefix>",
		Short: "Remove entries whose key starts with prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := e.openKV(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to open cache store: %w", err)
			}
			defer kv.Close()

			n, err := e.tiered(kv).InvalidatePattern(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to invalidate %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries under %q\n", n, args[0])
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version <new-version>",
		Short: "Retire the current cache version",
		Long: `Delete every entry persisted under the current CACHE_VERSION. Restart the
API with CACHE_VERSION set to the new version so it stops reading and
writing the retired namespace.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			previous, next := e.cfg.CacheVersion, args[0]
			if next == previous {
				return fmt.Errorf("cache is already at version %q", next)
			}
			kv, err := e.openKV(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to open cache store: %w", err)
			}
			defer kv.Close()

			keys, err := kv.Scan(cmd.Context(), previous+":")
			if err != nil {
				return fmt.Errorf("failed to scan version %q: %w", previous, err)
			}
			if len(keys) > 0 {
				if err := kv.Delete(cmd.Context(), keys...); err != nil {
					return fmt.Errorf("failed to delete version %q: %w", previous, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries of version %q\nSet CACHE_VERSION=%s and restart the API\n", len(keys), previous, next)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, invalidateCmd, versionCmd)
	return cmd
}

// namespaceOf returns the part of key before its first ':'.
func namespaceOf(key string) string {
	ns, _, _ := strings.Cut(key, ":")
	return ns
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
