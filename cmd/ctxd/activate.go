package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var activateCmd = &cobra.Command{
	Use:     "activate <id>...",
	Short:   "Activate one or more records",
	GroupID: "overrides",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if _, err := cfgClient.Activate(cmd.Context(), id, actor); err != nil {
				return fmt.Errorf("activating %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Activated %s\n", id)
		}
		return nil
	},
}

var deactivateCmd = &cobra.Command{
	Use:     "deactivate <id>...",
	Short:   "Deactivate one or more records",
	GroupID: "overrides",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if _, err := cfgClient.Deactivate(cmd.Context(), id, actor); err != nil {
				return fmt.Errorf("deactivating %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s\n", id)
		}
		return nil
	},
}
