package main

import (
	"errors"
	"fmt"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/spf13/cobra"
)

var prefsCmd = &cobra.Command{
	Use:     "prefs <user-id>",
	Short:   "Save theme preferences as a user override",
	GroupID: "config",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var prefs model.Preferences
		flags := cmd.Flags()
		if flags.Changed("theme") {
			v, _ := flags.GetString("theme")
			prefs.ThemeMode = &v
		}
		if flags.Changed("color") {
			v, _ := flags.GetString("color")
			prefs.PrimaryColor = &v
		}
		if flags.Changed("font-size") {
			v, _ := flags.GetString("font-size")
			prefs.FontSize = &v
		}
		if flags.Changed("compact") {
			v, _ := flags.GetBool("compact")
			prefs.CompactMode = &v
		}
		if prefs.IsEmpty() {
			return errors.New("nothing to save: pass at least one of --theme, --color, --font-size, --compact")
		}
		if err := prefs.Validate(); err != nil {
			return err
		}

		role, _ := flags.GetString("role")
		org, _ := flags.GetString("org")
		rec, err := cfgClient.SavePreferences(cmd.Context(), model.Requester{UserID: args[0], RoleID: role, OrgID: org}, prefs)
		if err != nil {
			return fmt.Errorf("saving preferences: %w", err)
		}
		return printRecord(cmd.OutOrStdout(), rec)
	},
}

func init() {
	prefsCmd.Flags().String("theme", "", "theme mode (light or dark)")
	prefsCmd.Flags().String("color", "", "primary color as #rrggbb")
	prefsCmd.Flags().String("font-size", "", "font size (sm, base, lg)")
	prefsCmd.Flags().Bool("compact", false, "compact layout spacing")
	prefsCmd.Flags().String("role", "", "role id used to resolve the base configuration")
	prefsCmd.Flags().String("org", "", "organization id used to resolve the base configuration")
}
