package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"parley/pkg/store"

	"github.com/spf13/cobra"
)

// newEventsCmd creates the "parley events" subcommand: an operator query
// surface over the append-only events table.
func newEventsCmd() *cobra.Command {
	var (
		key      string
		evType   string
		workerID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the event log",
		Long:  "Lists lifecycle and scheduler events, newest first. Filter by\nconversation key, event type, or worker ID.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			q := store.EventQuery{
				ConversationKey: key,
				EventType:       evType,
				WorkerID:        workerID,
				Limit:           limit,
			}
			return runEvents(cmd.Context(), cmd.OutOrStdout(), paths, q)
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "filter by conversation key")
	cmd.Flags().StringVar(&evType, "type", "", "filter by event type (e.g. closed, evaluated)")
	cmd.Flags().StringVar(&workerID, "worker", "", "filter by worker ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	return cmd
}

func runEvents(ctx context.Context, w io.Writer, paths *Paths, q store.EventQuery) error {
	st, err := store.OpenReadOnly(paths.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	events, err := st.QueryEvents(ctx, q)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no matching events")
		return nil
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s %-28s %-10s %s",
			ev.CreatedAt.Local().Format(time.RFC3339), ev.Type, ev.Source, ev.ConversationKey)
		if ev.WorkerID != "" {
			line += " " + ev.WorkerID
		}
		if ev.Payload != "" {
			line += " " + ev.Payload
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
