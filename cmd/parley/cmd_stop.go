package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "parley stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Graceful shutdown of the parley daemon",
		Long:  "Sends SIGTERM to the running daemon. The daemon drains the ingestion\nqueue and in-flight evaluations before exiting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}

			status, pid, err := DaemonStatus(paths.PIDPath)
			if err != nil {
				return err
			}

			switch status {
			case StatusStopped:
				fmt.Fprintln(cmd.OutOrStdout(), "parley is not running")
				return nil
			case StatusStale:
				fmt.Fprintln(cmd.OutOrStdout(), "removing stale PID file (process already dead)")
				return RemovePIDFile(paths.PIDPath)
			case StatusRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "sending SIGTERM to parley (PID %d)\n", pid)
				if err := StopDaemon(paths.PIDPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
				return nil
			}

			return nil
		},
	}
}
