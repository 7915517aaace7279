package main

import (
	"fmt"

	"parley/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root parley command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "parley",
		Short:         "Parley conversation quality monitor",
		Long:          "parley watches customer chat conversations, tracks their lifecycle,\nand scores finished conversations against the quality rubric.",
		Version:       fmt.Sprintf("parley %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newRunCmd(),
		newStopCmd(),
		newStatusCmd(),
		newConversationsCmd(),
		newEventsCmd(),
	)

	return cmd
}
