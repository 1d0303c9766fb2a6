package main

import (
	"errors"
	"fmt"

	"github.com/alfredjeanlab/ctxconf/internal/client"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a configuration record's payload",
	Long: `Update a configuration record's payload.

By default the new payload replaces the old one. With --merge it is deep
merged instead: objects merge key by key, lists are replaced whole and a
null value removes the key.`,
	GroupID: "overrides",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		sets, _ := cmd.Flags().GetStringArray("set")
		if file == "" && len(sets) == 0 {
			return errors.New("nothing to update: pass --file or --set")
		}
		payload, err := buildPayload(file, sets, cmd.InOrStdin())
		if err != nil {
			return err
		}

		mode := model.UpdateReplace
		if merge, _ := cmd.Flags().GetBool("merge"); merge {
			mode = model.UpdateMerge
		}

		rec, err := cfgClient.UpdateOverride(cmd.Context(), args[0], &client.UpdateOverrideRequest{
			Payload: payload,
			Mode:    mode,
			Actor:   actor,
		})
		if err != nil {
			return fmt.Errorf("updating %s: %w", args[0], err)
		}
		return printRecord(cmd.OutOrStdout(), rec)
	},
}

func init() {
	updateCmd.Flags().StringP("file", "f", "", "read the payload from a JSON file (- for stdin)")
	updateCmd.Flags().StringArray("set", nil, "set a payload value as dotted.path=value (repeatable)")
	updateCmd.Flags().Bool("merge", false, "deep merge into the existing payload instead of replacing it")
}
