package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alfredjeanlab/ctxconf/internal/client"
	"github.com/alfredjeanlab/ctxconf/internal/events"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/ui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream configuration changes as they happen",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, _ := cmd.Flags().GetStringSlice("topics")
		lastID, _ := cmd.Flags().GetString("last-event-id")
		retry, _ := cmd.Flags().GetDuration("retry")
		if len(topics) == 0 {
			topics = []string{events.TopicRecordAll}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		w := cmd.OutOrStdout()
		handle := func(e client.Event) error {
			lastID = e.ID
			return printEvent(w, e)
		}

		// Reconnect with the last seen id so the server can replay what
		// was missed while disconnected.
		for {
			err := cfgClient.WatchEvents(ctx, topics, lastID, handle)
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				return fmt.Errorf("watching events: %w", err)
			}
			if ctx.Err() != nil || retry <= 0 {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "stream interrupted: %v (retrying in %s)\n", err, retry)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringSlice("topics", nil, "topics to follow, NATS wildcards allowed (default: all record events)")
	watchCmd.Flags().String("last-event-id", "", "resume after this event id")
	watchCmd.Flags().Duration("retry", 2*time.Second, "delay before reconnecting; 0 exits when the stream ends")
}

// eventSummary covers the fields shared by every record event payload.
type eventSummary struct {
	Record  *model.Record     `json:"record"`
	ID      string            `json:"id"`
	Context *model.Descriptor `json:"context"`
	Mode    model.UpdateMode  `json:"mode"`
}

func printEvent(w io.Writer, e client.Event) error {
	if jsonOutput {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling event: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	var s eventSummary
	_ = json.Unmarshal(e.Data, &s)

	id, label := s.ID, ""
	if s.Record != nil {
		id, label = s.Record.ID, contextLabel(s.Record.Context)
	} else if s.Context != nil {
		label = contextLabel(*s.Context)
	}
	action := e.Topic[strings.LastIndex(e.Topic, ".")+1:]
	if s.Mode != "" {
		action += " (" + string(s.Mode) + ")"
	}

	fmt.Fprintf(w, "%s  %-6s %-22s %-24s %s\n",
		ui.RenderMuted(time.Now().Format(timeLayout)),
		ui.RenderMuted("#"+e.ID),
		ui.RenderAccent(action),
		label,
		id,
	)
	return nil
}
