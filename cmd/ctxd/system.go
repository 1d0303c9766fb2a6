package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the configuration service",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := cfgClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		w := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(w, map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(w, "Health: %s\n", status)
		}

		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show record counts and cache statistics",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := cfgClient.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		return printStats(cmd.OutOrStdout(), stats)
	},
}

var flushCacheCmd = &cobra.Command{
	Use:     "flush-cache",
	Short:   "Drop every cached configuration (admin)",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfgClient.FlushCache(cmd.Context()); err != nil {
			return fmt.Errorf("flushing cache: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cache flushed")
		return nil
	},
}
