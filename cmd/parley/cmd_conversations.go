package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"parley/pkg/convo"
	"parley/pkg/store"

	"github.com/spf13/cobra"
)

// newConversationsCmd creates the "parley conversations" subcommand.
func newConversationsCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convos"},
		Short:   "List tracked conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			return runConversations(cmd.Context(), cmd.OutOrStdout(), paths, convo.State(state))
		},
	}

	cmd.Flags().StringVar(&state, "state", "closed", "filter by state (active, closed, reopened)")
	return cmd
}

func runConversations(ctx context.Context, w io.Writer, paths *Paths, state convo.State) error {
	if !state.Valid() {
		return fmt.Errorf("unknown state %q", state)
	}

	st, err := store.OpenReadOnly(paths.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	convs, err := st.ListByState(ctx, state)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintf(w, "no %s conversations\n", state)
		return nil
	}

	fmt.Fprintf(w, "%-24s %-9s %-6s %-5s %-5s %s\n", "KEY", "STATE", "MSGS", "REQS", "EVAL", "LAST MESSAGE")
	for _, c := range convs {
		eval := "-"
		if c.Evaluated {
			eval = "yes"
		}
		fmt.Fprintf(w, "%-24s %-9s %-6d %-5d %-5s %s\n",
			c.Key, c.State, c.MessageCount, c.OpenRequests, eval,
			c.LastMessageAt.Local().Format(time.RFC3339))
	}
	return nil
}
