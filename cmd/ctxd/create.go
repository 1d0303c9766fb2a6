package main

import (
	"fmt"

	"github.com/alfredjeanlab/ctxconf/internal/client"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <kind> [<identifier>]",
	Short: "Create a configuration record for a context",
	Long: `Create a configuration record for a context.

The payload comes from --file (a JSON object, "-" for stdin) and/or
--set path=value pairs, for example:

  ctxd create user alice --set theme.mode=dark --set theme.colors.primary.500='"#ff0000"'
  ctxd create org acme --file acme.json --inactive`,
	GroupID: "overrides",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseKind(args[0])
		if err != nil {
			return err
		}
		var ident string
		if len(args) == 2 {
			ident = args[1]
		}
		if _, err := model.NewDescriptor(kind, ident); err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		sets, _ := cmd.Flags().GetStringArray("set")
		payload, err := buildPayload(file, sets, cmd.InOrStdin())
		if err != nil {
			return err
		}

		req := &client.CreateOverrideRequest{
			Kind:       kind,
			Identifier: ident,
			Payload:    payload,
			Actor:      actor,
		}
		if inactive, _ := cmd.Flags().GetBool("inactive"); inactive {
			f := false
			req.IsActive = &f
		}

		rec, err := cfgClient.CreateOverride(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("creating record: %w", err)
		}
		return printRecord(cmd.OutOrStdout(), rec)
	},
}

func init() {
	createCmd.Flags().StringP("file", "f", "", "read the payload from a JSON file (- for stdin)")
	createCmd.Flags().StringArray("set", nil, "set a payload value as dotted.path=value (repeatable)")
	createCmd.Flags().Bool("inactive", false, "create the record inactive")
}
