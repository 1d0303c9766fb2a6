package main

import (
	"fmt"

	"github.com/alfredjeanlab/ctxconf/internal/client"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
	"github.com/spf13/cobra"
)

var bulkCmd = &cobra.Command{
	Use:       "bulk <activate|deactivate|delete> <id>...",
	Short:     "Apply one action to up to 50 records",
	GroupID:   "overrides",
	Args:      cobra.MinimumNArgs(2),
	ValidArgs: []string{string(overrides.BulkActivate), string(overrides.BulkDeactivate), string(overrides.BulkDelete)},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := overrides.BulkAction(args[0])
		if !action.IsValid() {
			return fmt.Errorf("unknown bulk action %q (must be activate, deactivate or delete)", args[0])
		}
		ids := args[1:]
		if len(ids) > overrides.MaxBulkIDs {
			return fmt.Errorf("too many ids: %d (max %d)", len(ids), overrides.MaxBulkIDs)
		}

		resp, err := cfgClient.Bulk(cmd.Context(), &client.BulkRequest{Action: action, IDs: ids, Actor: actor})
		if err != nil {
			return fmt.Errorf("bulk %s: %w", action, err)
		}
		if err := printBulk(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if resp.Failed > 0 {
			return fmt.Errorf("%d of %d failed", resp.Failed, len(ids))
		}
		return nil
	},
}
