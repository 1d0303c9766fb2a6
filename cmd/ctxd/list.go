package main

import (
	"fmt"

	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list <kind>",
	Short:   "List active records of one context kind",
	GroupID: "overrides",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseKind(args[0])
		if err != nil {
			return err
		}
		recs, err := cfgClient.ListOverrides(cmd.Context(), kind)
		if err != nil {
			return fmt.Errorf("listing %s records: %w", kind, err)
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(w, recs)
		}
		printRecordListTable(w, recs)
		fmt.Fprintf(w, "\n%d records\n", len(recs))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:     "search",
	Short:   "Search records, active or not, with paging",
	GroupID: "overrides",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var f model.RecordFilter
		if k, _ := flags.GetString("kind"); k != "" {
			kind, err := model.ParseKind(k)
			if err != nil {
				return err
			}
			f.Kind = kind
		}
		f.Identifier, _ = flags.GetString("identifier")
		f.CreatedBy, _ = flags.GetString("created-by")
		f.ActiveOnly, _ = flags.GetBool("active")
		f.Page, _ = flags.GetInt("page")
		f.Size, _ = flags.GetInt("size")

		page, err := cfgClient.SearchOverrides(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("searching records: %w", err)
		}
		return printPage(cmd.OutOrStdout(), page)
	},
}

func init() {
	searchCmd.Flags().String("kind", "", "filter by context kind")
	searchCmd.Flags().String("identifier", "", "filter by context identifier")
	searchCmd.Flags().String("created-by", "", "filter by creator")
	searchCmd.Flags().Bool("active", false, "only active records")
	searchCmd.Flags().Int("page", 1, "page number, starting at 1")
	searchCmd.Flags().Int("size", 20, "page size (max 100)")
}
