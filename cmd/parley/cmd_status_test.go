package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"parley/pkg/convo"
	"parley/pkg/scheduler"
	"parley/pkg/store"
	"parley/pkg/tracker"
)

func TestRunStatusWithoutDatabase(t *testing.T) {
	paths := initFixturePaths(t)
	var out bytes.Buffer

	if err := runStatus(context.Background(), &out, paths, newStatusStyles(false)); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	if !strings.Contains(out.String(), "stopped") {
		t.Errorf("output should report stopped daemon: %q", out.String())
	}
	if !strings.Contains(out.String(), "parley init") {
		t.Errorf("output should hint at init: %q", out.String())
	}
}

func TestRunStatusReportsCounts(t *testing.T) {
	paths := initFixturePaths(t)
	ctx := context.Background()
	var out bytes.Buffer

	if err := runInit(ctx, &out, paths, false); err != nil {
		t.Fatal(err)
	}

	db, err := openDB(paths.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(db)
	seed := []struct {
		key   string
		state convo.State
	}{
		{"a", convo.StateActive},
		{"b", convo.StateActive},
		{"c", convo.StateClosed},
	}
	for _, s := range seed {
		c := convo.Conversation{Key: s.key, State: s.state}
		if err := st.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.SaveEvaluation(ctx, "c", convo.ScoreResult{Score: 90}); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	out.Reset()
	if err := runStatus(ctx, &out, paths, newStatusStyles(false)); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	got := out.String()
	for _, want := range []string{"active: 2", "closed: 1", "evaluations: 1", "permanent failures: 0"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunConversationsLists(t *testing.T) {
	paths := initFixturePaths(t)
	ctx := context.Background()
	var out bytes.Buffer

	if err := runInit(ctx, &out, paths, false); err != nil {
		t.Fatal(err)
	}
	db, err := openDB(paths.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(db)
	if err := st.Create(ctx, convo.Conversation{Key: "order-42", State: convo.StateClosed}); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	out.Reset()
	if err := runConversations(ctx, &out, paths, convo.StateClosed); err != nil {
		t.Fatalf("runConversations: %v", err)
	}
	if !strings.Contains(out.String(), "order-42") {
		t.Errorf("output missing conversation:\n%s", out.String())
	}

	if err := runConversations(ctx, &out, paths, convo.State("bogus")); err == nil {
		t.Error("unknown state should error")
	}
}

func TestRunEventsFiltersByKey(t *testing.T) {
	paths := initFixturePaths(t)
	ctx := context.Background()
	var out bytes.Buffer

	if err := runInit(ctx, &out, paths, false); err != nil {
		t.Fatal(err)
	}
	db, err := openDB(paths.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(db)
	if err := st.LogEvent(ctx, "closed", "tracker", "c1", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := st.LogEvent(ctx, "evaluated", "scheduler", "c2", "eval-1", ""); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	out.Reset()
	if err := runEvents(ctx, &out, paths, store.EventQuery{ConversationKey: "c1"}); err != nil {
		t.Fatalf("runEvents: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "closed") || strings.Contains(got, "c2") {
		t.Errorf("filter mismatch:\n%s", got)
	}
}

// Interface satisfaction checks for the daemon wiring.
var (
	_ tracker.Store             = (*store.Store)(nil)
	_ scheduler.Store           = (*store.Store)(nil)
	_ scheduler.ReconcilerStore = (*store.Store)(nil)
)
