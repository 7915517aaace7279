package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"parley/pkg/classifier"
	"parley/pkg/ingest"
	"parley/pkg/policy"
	"parley/pkg/scheduler"
	"parley/pkg/store"
	"parley/pkg/tracker"

	"github.com/spf13/cobra"
)

// newRunCmd creates the "parley run" subcommand: the monitor daemon itself.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the conversation monitor in the foreground",
		Long: `Runs the full monitor pipeline: the spool watcher feeding the ingestion
queue, the conversation state tracker, the evaluation worker pool with its
timeout supervisor, and the periodic reconciler. Blocks until SIGTERM or
SIGINT, then drains gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cmd.OutOrStdout(), paths)
		},
	}
}

// runDaemon wires every component together and blocks until shutdown.
func runDaemon(parent context.Context, w io.Writer, paths *Paths) error {
	status, pid, err := DaemonStatus(paths.PIDPath)
	if err != nil {
		return err
	}
	if status == StatusRunning {
		return fmt.Errorf("parley is already running (PID %d)", pid)
	}
	if status == StatusStale {
		fmt.Fprintln(w, "removing stale PID file (process already dead)")
		_ = RemovePIDFile(paths.PIDPath)
	}

	cfg, err := LoadConfig(paths.ConfigPath)
	if err != nil {
		return err
	}
	pol, err := policy.Load(paths.PolicyPath)
	if err != nil {
		return err
	}

	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("classifier API key not set: export %s", cfg.APIKeyEnv)
	}
	var clsOpts []classifier.Option
	if cfg.BaseURL != "" {
		clsOpts = append(clsOpts, classifier.WithBaseURL(cfg.BaseURL))
	}
	cls, err := classifier.NewClient(cfg.Model, apiKey, clsOpts...)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(paths.Home, 0o755); err != nil {
		return fmt.Errorf("create home dir %s: %w", paths.Home, err)
	}
	db, err := openDB(paths.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	st := store.New(db)
	if err := st.Init(parent); err != nil {
		return err
	}

	if err := WritePIDFile(paths.PIDPath, os.Getpid()); err != nil {
		return err
	}
	ctx, cleanup := SetupSignalHandler(parent, paths.PIDPath)
	defer cleanup()

	queue := ingest.NewQueue()
	spool := ingest.NewSpoolSource(paths.SpoolDir, queue)
	sched := scheduler.New(st, cls, pol)
	trk := tracker.New(st, cls, queue, sched, nil, pol)
	rec := scheduler.NewReconciler(st, sched, trk, pol)

	log.Printf("[parley] started (PID %d, workers=%d, spool=%s)", os.Getpid(), pol.Workers, paths.SpoolDir)
	fmt.Fprintf(w, "parley running (PID %d)\n", os.Getpid())

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		if err := spool.Run(ctx); err != nil {
			log.Printf("[parley] spool source: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		trk.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		rec.Run(ctx)
	}()

	<-ctx.Done()
	log.Printf("[parley] shutdown requested, draining")

	// Closing the ingestion queue lets the tracker finish pending events
	// and return; the scheduler drains on its own context.
	queue.Close()
	wg.Wait()

	log.Printf("[parley] stopped")
	return nil
}
