package main

import (
	"fmt"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:     "resolve <user-id>",
	Short:   "Show the effective configuration for a user",
	GroupID: "config",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		org, _ := cmd.Flags().GetString("org")

		res, err := cfgClient.Resolve(cmd.Context(), model.Requester{UserID: args[0], RoleID: role, OrgID: org})
		if err != nil {
			return fmt.Errorf("resolving %s: %w", args[0], err)
		}
		return printResolved(cmd.OutOrStdout(), res)
	},
}

func init() {
	resolveCmd.Flags().String("role", "", "role id of the user")
	resolveCmd.Flags().String("org", "", "organization id of the user")
}
