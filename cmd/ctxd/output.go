package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/ctxconf/internal/client"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
	"github.com/alfredjeanlab/ctxconf/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func contextLabel(d model.Descriptor) string {
	if d.IsGlobal() {
		return string(d.Kind)
	}
	return string(d.Kind) + ":" + d.Identifier
}

func activeLabel(active bool) string {
	if active {
		return ui.RenderAccent("active")
	}
	return ui.RenderMuted("inactive")
}

func printRecordTable(w io.Writer, rec *model.Record) error {
	fmt.Fprintf(w, "ID:          %s\n", rec.ID)
	fmt.Fprintf(w, "Context:     %s\n", contextLabel(rec.Context))
	fmt.Fprintf(w, "Status:      %s\n", activeLabel(rec.IsActive))
	if rec.CreatedBy != "" {
		fmt.Fprintf(w, "Created By:  %s\n", rec.CreatedBy)
	}
	if rec.UpdatedBy != "" {
		fmt.Fprintf(w, "Updated By:  %s\n", rec.UpdatedBy)
	}
	if !rec.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", rec.CreatedAt.Format(timeLayout))
	}
	if !rec.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:  %s\n", rec.UpdatedAt.Format(timeLayout))
	}
	fmt.Fprintln(w, "Payload:")
	return writeIndentedPayload(w, rec.Payload)
}

func writeIndentedPayload(w io.Writer, p model.Payload) error {
	data, err := json.MarshalIndent(p, "  ", "  ")
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	fmt.Fprintf(w, "  %s\n", data)
	return nil
}

func printRecord(w io.Writer, rec *model.Record) error {
	if jsonOutput {
		return printJSON(w, rec)
	}
	return printRecordTable(w, rec)
}

func printRecordListTable(w io.Writer, recs []*model.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTEXT\tSTATUS\tUPDATED BY\tUPDATED AT")
	for _, r := range recs {
		status := "inactive"
		if r.IsActive {
			status = "active"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			contextLabel(r.Context),
			status,
			r.UpdatedBy,
			r.UpdatedAt.Format(timeLayout),
		)
	}
	tw.Flush()
}

func printPage(w io.Writer, page *overrides.Page) error {
	if jsonOutput {
		return printJSON(w, page)
	}
	printRecordListTable(w, page.Records)
	fmt.Fprintf(w, "\n%d records (%d total, page %d", len(page.Records), page.Total, page.Page)
	if page.HasNext {
		fmt.Fprint(w, ", more available")
	}
	fmt.Fprintln(w, ")")
	return nil
}

func printResolved(w io.Writer, res *model.Resolved) error {
	if jsonOutput {
		return printJSON(w, res)
	}
	chain := make([]string, len(res.Chain))
	for i, d := range res.Chain {
		chain[i] = contextLabel(d)
	}
	fmt.Fprintf(w, "Source:      %s\n", ui.RenderAccent(contextLabel(res.Source)))
	fmt.Fprintf(w, "Record:      %s\n", res.RecordID)
	fmt.Fprintf(w, "Chain:       %s\n", ui.RenderMuted(strings.Join(chain, " > ")))
	fmt.Fprintln(w, "Payload:")
	return writeIndentedPayload(w, res.Payload)
}

func printStats(w io.Writer, stats *overrides.Stats) error {
	if jsonOutput {
		return printJSON(w, stats)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tTOTAL\tACTIVE")
	for _, k := range stats.Kinds {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", k.Kind, k.Total, k.Active)
	}
	tw.Flush()
	if c := stats.Cache; c != nil {
		fmt.Fprintf(w, "\nCache (%s): %d entries, %d hits, %d misses, %d errors, %d flushes\n",
			c.Backend, c.Size, c.Hits, c.Misses, c.Errors, c.Flushes)
	}
	return nil
}

func printBulk(w io.Writer, resp *client.BulkResponse) error {
	if jsonOutput {
		return printJSON(w, resp)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRESULT")
	for _, r := range resp.Results {
		result := ui.RenderAccent("ok")
		if !r.OK {
			result = ui.RenderWarn(r.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\n", r.ID, result)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d succeeded, %d failed\n", resp.Succeeded, resp.Failed)
	return nil
}
