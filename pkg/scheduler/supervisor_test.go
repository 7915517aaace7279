package scheduler //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"testing"
	"time"

	"parley/pkg/convo"
)

func TestReclaimStalledRespectsDeadline(t *testing.T) {
	st := newMemStore()
	st.seed("c1")
	cls := &scoreClassifier{scoreFunc: func(int) (convo.ScoreResult, error) {
		return convo.ScoreResult{Score: 10}, nil
	}}
	p := testPolicy()
	s := New(st, cls, p)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return now })

	token, ok := s.locks.TryAcquire("c1")
	if !ok {
		t.Fatal("setup: acquire failed")
	}
	task := convo.EvaluationTask{Key: "c1", Priority: convo.PriorityDefault, EnqueuedAt: now}
	s.markInflight(task, token, "eval-1")

	// Within the deadline nothing is reclaimed.
	now = now.Add(p.EvalDeadline.Std() - time.Second)
	if n := s.ReclaimStalled(context.Background()); n != 0 {
		t.Fatalf("reclaimed %d before deadline, want 0", n)
	}
	if !s.locks.Held("c1") {
		t.Fatal("lock should still be held")
	}

	// Past the deadline the evaluation is reclaimed: lock freed, in-flight
	// entry gone, and the task routed back through the retry policy.
	now = now.Add(2 * time.Second)
	if n := s.ReclaimStalled(context.Background()); n != 1 {
		t.Fatalf("reclaimed %d past deadline, want 1", n)
	}
	if s.locks.Held("c1") {
		t.Error("lock should be force-released")
	}
	if s.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", s.InFlight())
	}
	waitFor(t, func() bool { return s.queue.has("c1") }, "reclaimed task never requeued")

	// Reclaim is idempotent.
	if n := s.ReclaimStalled(context.Background()); n != 0 {
		t.Errorf("second reclaim = %d, want 0", n)
	}

	// The original worker finishing late cannot free a re-acquired lock.
	if _, ok := s.locks.TryAcquire("c1"); !ok {
		t.Fatal("re-acquire after reclaim should succeed")
	}
	s.locks.Release("c1", token)
	if !s.locks.Held("c1") {
		t.Error("stale worker release freed the new holder's lock")
	}
}

func TestReclaimStalledAtCeilingRecordsFailure(t *testing.T) {
	st := newMemStore()
	st.seed("c1")
	cls := &scoreClassifier{scoreFunc: func(int) (convo.ScoreResult, error) {
		return convo.ScoreResult{Score: 10}, nil
	}}
	p := testPolicy()
	s := New(st, cls, p)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return now })

	token, _ := s.locks.TryAcquire("c1")
	task := convo.EvaluationTask{Key: "c1", Priority: convo.PriorityDefault, EnqueuedAt: now, Retries: p.RetryCeiling}
	s.markInflight(task, token, "eval-1")

	now = now.Add(p.EvalDeadline.Std() + time.Minute)
	if n := s.ReclaimStalled(context.Background()); n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}

	if st.failureCount() != 1 {
		t.Fatalf("failures = %d, want 1", st.failureCount())
	}
	f := st.lastFailure()
	if f.Retries != p.RetryCeiling {
		t.Errorf("failure Retries = %d, want %d", f.Retries, p.RetryCeiling)
	}
	if s.queue.has("c1") {
		t.Error("exhausted task must not be requeued")
	}
}
