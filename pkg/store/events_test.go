package store //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"testing"
)

func TestQueryEventsFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := []struct{ evType, source, key, worker string }{
		{"closed", "tracker", "c1", ""},
		{"evaluated", "scheduler", "c1", "eval-1"},
		{"evaluated", "scheduler", "c2", "eval-2"},
		{"reopened", "tracker", "c2", ""},
	}
	for _, ev := range seed {
		if err := st.LogEvent(ctx, ev.evType, ev.source, ev.key, ev.worker, ""); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	t.Run("by conversation", func(t *testing.T) {
		got, err := st.QueryEvents(ctx, EventQuery{ConversationKey: "c1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d events, want 2", len(got))
		}
		// Newest first.
		if got[0].Type != "evaluated" || got[1].Type != "closed" {
			t.Errorf("order = %s, %s; want evaluated, closed", got[0].Type, got[1].Type)
		}
	})

	t.Run("by type and worker", func(t *testing.T) {
		got, err := st.QueryEvents(ctx, EventQuery{EventType: "evaluated", WorkerID: "eval-2"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ConversationKey != "c2" {
			t.Errorf("got %+v, want one c2 event", got)
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := st.QueryEvents(ctx, EventQuery{Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Type != "reopened" {
			t.Errorf("got %+v, want only the newest event", got)
		}
	})
}
