package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"parley/pkg/policy"
	"parley/pkg/store"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "parley init" subcommand.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the parley state directory and default config",
		Long: `Creates the parley home directory with the spool directory, the default
parley.toml and policy.yaml, and an empty state database with the schema
applied. Existing config files are left alone unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			return runInit(cmd.Context(), cmd.OutOrStdout(), paths, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config files")
	return cmd
}

// runInit is the core logic for the init command, separated for testability.
func runInit(ctx context.Context, w io.Writer, paths *Paths, force bool) error {
	if err := os.MkdirAll(paths.SpoolDir, 0o755); err != nil {
		return fmt.Errorf("create spool dir %s: %w", paths.SpoolDir, err)
	}

	if err := writeIfAbsent(w, paths.ConfigPath, force, func() error {
		return WriteConfig(paths.ConfigPath, DefaultConfig())
	}); err != nil {
		return err
	}
	if err := writeIfAbsent(w, paths.PolicyPath, force, func() error {
		return policy.Write(paths.PolicyPath, policy.Default())
	}); err != nil {
		return err
	}

	db, err := openDB(paths.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	st := store.New(db)
	if err := st.Init(ctx); err != nil {
		return err
	}

	fmt.Fprintf(w, "initialized %s\n", paths.Home)
	return nil
}

// writeIfAbsent calls write unless the file already exists and force is off.
func writeIfAbsent(w io.Writer, path string, force bool, write func() error) error {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(w, "keeping existing %s (use --force to overwrite)\n", path)
		return nil
	}
	if err := write(); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s\n", path)
	return nil
}
