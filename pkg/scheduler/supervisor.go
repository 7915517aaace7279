package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"parley/pkg/convo"
)

// runSupervisor periodically reclaims evaluations stuck past the deadline.
func (s *Scheduler) runSupervisor(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pol.SupervisorInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReclaimStalled(ctx)
		}
	}
}

// ReclaimStalled force-releases every in-flight evaluation that has run
// past the evaluation deadline and routes its task back through the retry
// policy. Returns the number of reclaimed evaluations.
//
// The worker that was running a reclaimed task may still finish later;
// its lock release carries a stale token and is a no-op, and its in-flight
// entry is already gone. Reclaim is therefore idempotent with respect to
// a slow-but-alive worker.
func (s *Scheduler) ReclaimStalled(ctx context.Context) int {
	now := s.nowFunc()
	deadline := s.pol.EvalDeadline.Std()

	s.mu.Lock()
	var stalled []inflightRecord
	for key, rec := range s.inflight {
		if now.Sub(rec.startedAt) > deadline {
			stalled = append(stalled, rec)
			delete(s.inflight, key)
		}
	}
	s.mu.Unlock()

	for _, rec := range stalled {
		s.locks.ForceRelease(rec.task.Key)
		log.Printf("[supervisor] reclaimed %s from %s after %s",
			rec.task.Key, rec.workerID, now.Sub(rec.startedAt).Round(time.Second))
		_ = s.store.LogEvent(ctx, "evaluation_reclaimed", "supervisor", rec.task.Key, rec.workerID,
			fmt.Sprintf(`{"elapsed":%q,"retries":%d}`, now.Sub(rec.startedAt), rec.task.Retries))

		// A reclaimed attempt counts as a failed attempt.
		s.handleFailure(ctx, rec.task, rec.workerID,
			convo.Retry(rec.task.Key, fmt.Errorf("evaluation deadline exceeded")))
	}
	return len(stalled)
}
