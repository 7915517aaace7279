package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"parley/pkg/convo"
	"parley/pkg/policy"
)

// ReconcilerStore is the slice of the conversation store the reconciler
// reads for its sweeps.
type ReconcilerStore interface {
	Get(ctx context.Context, key string) (convo.Conversation, error)
	ListByState(ctx context.Context, st convo.State) ([]convo.Conversation, error)
	ListUnevaluatedClosed(ctx context.Context) ([]convo.Conversation, error)
	ListOverdueRequests(ctx context.Context, now time.Time) ([]convo.Request, error)
	MarkRequestOverdue(ctx context.Context, id int64) error
	LogEvent(ctx context.Context, evType, source, key, workerID, payload string) error
}

// InactivityCloser closes conversations quiet past the inactivity timeout.
// Satisfied by the tracker, which stays the sole owner of state
// transitions.
type InactivityCloser interface {
	CloseInactive(ctx context.Context) int
}

// Reconciler runs the slow periodic safety sweeps: closed-but-unevaluated
// conversations that never reached the queue, requests past their SLA
// deadline, reopened conversations whose re-evaluation was lost, inactive
// conversations, and stale lock entries. Every sweep is idempotent, so an
// extra pass is always safe.
type Reconciler struct {
	store  ReconcilerStore
	sched  *Scheduler
	closer InactivityCloser
	pol    policy.Policy

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewReconciler creates a Reconciler. closer may be nil when inactivity
// closure is handled elsewhere.
func NewReconciler(st ReconcilerStore, sched *Scheduler, closer InactivityCloser, pol policy.Policy) *Reconciler {
	return &Reconciler{
		store:   st,
		sched:   sched,
		closer:  closer,
		pol:     pol,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock (for testing).
func (r *Reconciler) SetNowFunc(f func() time.Time) { r.nowFunc = f }

// Run sweeps on the reconcile interval until ctx is cancelled. The first
// sweep runs immediately so a restart repairs state without waiting a full
// interval.
func (r *Reconciler) Run(ctx context.Context) {
	r.Sweep(ctx)
	ticker := time.NewTicker(r.pol.ReconcileInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs every reconciliation pass once.
func (r *Reconciler) Sweep(ctx context.Context) {
	missed := r.sweepMissedClosures(ctx)
	overdue := r.sweepSLA(ctx)
	reopened := r.sweepReopened(ctx)

	inactive := 0
	if r.closer != nil {
		inactive = r.closer.CloseInactive(ctx)
	}
	evicted := r.sched.Locks().Evict(r.pol.LockEvictionHorizon.Std())

	if missed+overdue+reopened+inactive+evicted > 0 {
		log.Printf("[reconciler] sweep: missed=%d overdue=%d reopened=%d inactive=%d locks_evicted=%d",
			missed, overdue, reopened, inactive, evicted)
	}
}

// sweepMissedClosures re-enqueues closed conversations that were never
// evaluated, covering enqueues lost to a crash between the close
// transition and the queue.
func (r *Reconciler) sweepMissedClosures(ctx context.Context) int {
	convs, err := r.store.ListUnevaluatedClosed(ctx)
	if err != nil {
		log.Printf("[reconciler] list unevaluated closed: %v", err)
		return 0
	}
	n := 0
	for _, c := range convs {
		if r.sched.Queued(c.Key) || r.sched.Locks().Held(c.Key) {
			continue
		}
		r.sched.Enqueue(c.Key, convo.PriorityFor(c))
		_ = r.store.LogEvent(ctx, "missed_closure_requeued", "reconciler", c.Key, "", "")
		n++
	}
	return n
}

// sweepSLA flags requests past their promised deadline and re-enqueues
// already-evaluated closed conversations so the breach is reflected in a
// fresh score. Unevaluated closed conversations are left to the
// missed-closure sweep, and active ones will be scored at close.
func (r *Reconciler) sweepSLA(ctx context.Context) int {
	requests, err := r.store.ListOverdueRequests(ctx, r.nowFunc())
	if err != nil {
		log.Printf("[reconciler] list overdue requests: %v", err)
		return 0
	}
	n := 0
	for _, req := range requests {
		if err := r.store.MarkRequestOverdue(ctx, req.ID); err != nil {
			log.Printf("[reconciler] mark request %d overdue: %v", req.ID, err)
			continue
		}
		n++
		_ = r.store.LogEvent(ctx, "sla_breached", "reconciler", req.ConversationKey, "",
			fmt.Sprintf(`{"request_id":%d,"deadline":%q}`, req.ID, req.Deadline.Format(time.RFC3339)))

		c, err := r.store.Get(ctx, req.ConversationKey)
		if err != nil {
			log.Printf("[reconciler] load %s: %v", req.ConversationKey, err)
			continue
		}
		if c.State == convo.StateClosed && c.Evaluated && !r.sched.Queued(c.Key) {
			r.sched.Enqueue(c.Key, convo.PriorityUrgent)
		}
	}
	return n
}

// sweepReopened re-enqueues conversations stuck in REOPENED, which happens
// when a crash lands between the reopen transition and its enqueue.
func (r *Reconciler) sweepReopened(ctx context.Context) int {
	convs, err := r.store.ListByState(ctx, convo.StateReopened)
	if err != nil {
		log.Printf("[reconciler] list reopened: %v", err)
		return 0
	}
	n := 0
	for _, c := range convs {
		if c.Evaluated || r.sched.Queued(c.Key) || r.sched.Locks().Held(c.Key) {
			continue
		}
		r.sched.Enqueue(c.Key, convo.PriorityReopened)
		_ = r.store.LogEvent(ctx, "reopen_requeued", "reconciler", c.Key, "", "")
		n++
	}
	return n
}
