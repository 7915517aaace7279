package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"parley/pkg/convo"
	"parley/pkg/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// statusStyles holds the lipgloss styles for the status output. Styling is
// disabled when stdout is not a terminal.
type statusStyles struct {
	header  lipgloss.Style
	label   lipgloss.Style
	good    lipgloss.Style
	bad     lipgloss.Style
	warning lipgloss.Style
}

func newStatusStyles(colored bool) statusStyles {
	if !colored {
		plain := lipgloss.NewStyle()
		return statusStyles{header: plain, label: plain, good: plain, bad: plain, warning: plain}
	}
	return statusStyles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		good:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// newStatusCmd creates the "parley status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and conversation state",
		Long:  "Displays daemon liveness, conversation counts by state, completed\nevaluations, and permanent failures.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			colored := isatty.IsTerminal(os.Stdout.Fd())
			return runStatus(cmd.Context(), cmd.OutOrStdout(), paths, newStatusStyles(colored))
		},
	}
}

// runStatus is the core logic for the status command, separated for
// testability.
func runStatus(ctx context.Context, w io.Writer, paths *Paths, styles statusStyles) error {
	fmt.Fprintln(w, styles.header.Render("parley status"))

	status, pid, err := DaemonStatus(paths.PIDPath)
	if err != nil {
		return err
	}
	switch status {
	case StatusRunning:
		fmt.Fprintf(w, "%s %s (PID %d)\n", styles.label.Render("daemon:"), styles.good.Render("running"), pid)
	case StatusStale:
		fmt.Fprintf(w, "%s %s (PID %d is dead)\n", styles.label.Render("daemon:"), styles.warning.Render("stale"), pid)
	default:
		fmt.Fprintf(w, "%s %s\n", styles.label.Render("daemon:"), styles.bad.Render("stopped"))
	}

	st, err := store.OpenReadOnly(paths.DBPath)
	if err != nil {
		// No database yet is not an error for status.
		fmt.Fprintf(w, "%s none (run `parley init`)\n", styles.label.Render("state db:"))
		return nil
	}
	defer func() { _ = st.Close() }()

	counts, err := st.CountByState(ctx)
	if err != nil {
		return err
	}
	for _, s := range []convo.State{convo.StateActive, convo.StateClosed, convo.StateReopened} {
		fmt.Fprintf(w, "%s %d\n", styles.label.Render(string(s)+":"), counts[s])
	}

	evals, err := st.EvaluationCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %d\n", styles.label.Render("evaluations:"), evals)

	failures, err := st.ListFailures(ctx)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%d", len(failures))
	if len(failures) > 0 {
		line = styles.bad.Render(line)
	}
	fmt.Fprintf(w, "%s %s\n", styles.label.Render("permanent failures:"), line)
	return nil
}
