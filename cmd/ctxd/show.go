package main

import (
	"fmt"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <id> | show --context <kind> [<identifier>]",
	Short: "Show a configuration record",
	Long: `Show a configuration record by id, or with --context the active record
for a context (ctxd show --context global, ctxd show --context user alice).`,
	GroupID: "overrides",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		byContext, _ := cmd.Flags().GetBool("context")
		if !byContext {
			if len(args) != 1 {
				return fmt.Errorf("expected one record id")
			}
			rec, err := cfgClient.GetOverride(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("getting %s: %w", args[0], err)
			}
			return printRecord(cmd.OutOrStdout(), rec)
		}

		kind, err := model.ParseKind(args[0])
		if err != nil {
			return err
		}
		var ident string
		if len(args) == 2 {
			ident = args[1]
		}
		d, err := model.NewDescriptor(kind, ident)
		if err != nil {
			return err
		}
		rec, err := cfgClient.GetActive(cmd.Context(), d)
		if err != nil {
			return fmt.Errorf("getting active record for %s: %w", d, err)
		}
		return printRecord(cmd.OutOrStdout(), rec)
	},
}

func init() {
	showCmd.Flags().Bool("context", false, "look up the active record for a context instead of an id")
}
