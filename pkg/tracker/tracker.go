// Package tracker implements the conversation state tracker: the single
// ordered consumer of the ingestion queue. It owns every conversation
// state transition (NEW, ACTIVE, CLOSED, REOPENED), delegates linguistic
// judgment to the classifier, and hands finished conversations to the
// evaluation scheduler. Other components never mutate conversation state
// directly; they request transitions through this package.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"parley/pkg/classifier"
	"parley/pkg/convo"
	"parley/pkg/ingest"
	"parley/pkg/policy"
)

// Store is the slice of the conversation store the tracker needs.
type Store interface {
	Get(ctx context.Context, key string) (convo.Conversation, error)
	Create(ctx context.Context, c convo.Conversation) error
	Update(ctx context.Context, c convo.Conversation) error
	AppendMessage(ctx context.Context, m convo.Message) error
	RecentMessages(ctx context.Context, key string, n int) ([]convo.Message, error)
	ListInactiveSince(ctx context.Context, cutoff time.Time) ([]convo.Conversation, error)
	InsertRequest(ctx context.Context, key, summary string, deadline time.Time) (int64, error)
	ResolveRequests(ctx context.Context, key string) (int, error)
	LogEvent(ctx context.Context, evType, source, key, workerID, payload string) error
}

// Enqueuer accepts evaluation tasks. Duplicate enqueues for the same key
// are harmless; the scheduler's per-key lock prevents double work.
type Enqueuer interface {
	Enqueue(key string, p convo.Priority)
}

// Tracker consumes the ingestion queue and applies the conversation state
// machine.
type Tracker struct {
	store    Store
	cls      classifier.Classifier
	queue    *ingest.Queue
	sched    Enqueuer
	notifier Notifier
	pol      policy.Policy

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Tracker. Call Run to start consuming.
func New(st Store, cls classifier.Classifier, q *ingest.Queue, sched Enqueuer, n Notifier, pol policy.Policy) *Tracker {
	if n == nil {
		n = NopNotifier{}
	}
	return &Tracker{
		store:    st,
		cls:      cls,
		queue:    q,
		sched:    sched,
		notifier: n,
		pol:      pol,
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the clock (for testing).
func (t *Tracker) SetNowFunc(f func() time.Time) { t.nowFunc = f }

// Run consumes events until the queue is closed or ctx is cancelled.
// It is the only goroutine applying state transitions, which is what
// guarantees per-conversation message ordering.
func (t *Tracker) Run(ctx context.Context) {
	for {
		msg, ok := t.queue.Pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		t.Apply(ctx, msg)
	}
}

// Apply processes one inbound chat event through the state machine.
func (t *Tracker) Apply(ctx context.Context, msg convo.Message) {
	if !validEvent(msg) {
		log.Printf("[tracker] discard malformed event id=%q key=%q", msg.ID, msg.ConversationKey)
		_ = t.store.LogEvent(ctx, "event_discarded", "tracker", msg.ConversationKey, "",
			fmt.Sprintf(`{"message_id":%q}`, msg.ID))
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = t.nowFunc()
	}

	conv, err := t.getOrCreate(ctx, msg)
	if err != nil {
		log.Printf("[tracker] resolve conversation %s: %v", msg.ConversationKey, err)
		return
	}

	// Dedup before any state mutation: a known message ID is a no-op.
	if err := t.store.AppendMessage(ctx, msg); err != nil {
		if convo.IsDuplicate(err) {
			return
		}
		log.Printf("[tracker] append message %s: %v", msg.ID, err)
		return
	}
	conv.MessageCount++

	if conv.State == convo.StateClosed {
		t.maybeReopen(ctx, conv, msg)
		return
	}

	t.applyActive(ctx, conv, msg)
}

// validEvent checks the required fields of a raw chat event.
func validEvent(m convo.Message) bool {
	if m.ID == "" || m.ConversationKey == "" {
		return false
	}
	return m.Direction == convo.FromCustomer || m.Direction == convo.FromAgent
}

// getOrCreate resolves the event to a conversation, creating the record on
// the first message for a key (NEW -> ACTIVE).
func (t *Tracker) getOrCreate(ctx context.Context, msg convo.Message) (convo.Conversation, error) {
	conv, err := t.store.Get(ctx, msg.ConversationKey)
	if err == nil {
		return conv, nil
	}
	var nf *convo.NotFoundError
	if !errors.As(err, &nf) {
		return convo.Conversation{}, err
	}

	conv = convo.Conversation{
		Key:           msg.ConversationKey,
		State:         convo.StateActive,
		StartedAt:     msg.Timestamp,
		LastMessageAt: msg.Timestamp,
	}
	if err := t.store.Create(ctx, conv); err != nil {
		return convo.Conversation{}, err
	}
	_ = t.store.LogEvent(ctx, "conversation_started", "tracker", conv.Key, "", "")
	return conv, nil
}

// applyActive handles a message on an active (or just-reopened)
// conversation: refresh activity, run request detection on customer
// messages, and fulfillment plus closing-intent checks on agent messages.
func (t *Tracker) applyActive(ctx context.Context, conv convo.Conversation, msg convo.Message) {
	conv.State = convo.StateActive
	conv.LastMessageAt = msg.Timestamp

	switch msg.Direction {
	case convo.FromCustomer:
		t.detectRequest(ctx, &conv, msg)
	case convo.FromAgent:
		t.checkFulfillment(ctx, &conv)
	}

	if err := t.store.Update(ctx, conv); err != nil {
		log.Printf("[tracker] update conversation %s: %v", conv.Key, err)
		return
	}

	if msg.Direction == convo.FromAgent {
		t.checkClosing(ctx, conv)
	}
}

// detectRequest runs the classifier's request detection on a customer
// message. Classifier failure means no verdict: the message is recorded
// and nothing else changes.
func (t *Tracker) detectRequest(ctx context.Context, conv *convo.Conversation, msg convo.Message) {
	recent, err := t.store.RecentMessages(ctx, conv.Key, t.pol.ContextWindow)
	if err != nil {
		log.Printf("[tracker] recent messages %s: %v", conv.Key, err)
		return
	}

	sig, err := t.cls.DetectRequest(ctx, msg, recent)
	if err != nil {
		log.Printf("[tracker] request detection %s: no verdict: %v", conv.Key, err)
		return
	}

	if sig.IsComplaint {
		conv.Complaint = true
		_ = t.store.LogEvent(ctx, "complaint_detected", "tracker", conv.Key, "", "")
	}
	if sig.IsRequest {
		deadline := t.nowFunc().Add(t.pol.SLAWindow.Std())
		if _, err := t.store.InsertRequest(ctx, conv.Key, sig.Summary, deadline); err != nil {
			log.Printf("[tracker] record request %s: %v", conv.Key, err)
			return
		}
		conv.OpenRequests++
		_ = t.store.LogEvent(ctx, "request_detected", "tracker", conv.Key, "",
			fmt.Sprintf(`{"summary":%q}`, sig.Summary))
	}
}

// checkFulfillment marks outstanding requests resolved when the agent
// replies. The overdue flag set by the SLA sweep is deliberately left in
// place: a late answer still counts against the conversation's priority.
func (t *Tracker) checkFulfillment(ctx context.Context, conv *convo.Conversation) {
	if conv.OpenRequests == 0 {
		return
	}
	n, err := t.store.ResolveRequests(ctx, conv.Key)
	if err != nil {
		log.Printf("[tracker] resolve requests %s: %v", conv.Key, err)
		return
	}
	if n > 0 {
		conv.OpenRequests = 0
		_ = t.store.LogEvent(ctx, "requests_resolved", "tracker", conv.Key, "",
			fmt.Sprintf(`{"count":%d}`, n))
	}
}

// checkClosing consults the classifier on the recent window and closes the
// conversation only on a verdict at or above the confidence floor.
func (t *Tracker) checkClosing(ctx context.Context, conv convo.Conversation) {
	recent, err := t.store.RecentMessages(ctx, conv.Key, t.pol.ContextWindow)
	if err != nil {
		log.Printf("[tracker] recent messages %s: %v", conv.Key, err)
		return
	}

	verdict, err := t.cls.ShouldClose(ctx, recent)
	if err != nil {
		// Treated as no verdict; a classifier outage must not close
		// conversations.
		log.Printf("[tracker] closing check %s: no verdict: %v", conv.Key, err)
		return
	}
	if !verdict.ShouldClose || verdict.Confidence < t.pol.ConfidenceFloor {
		return
	}

	t.close(ctx, conv, fmt.Sprintf("classifier confidence %d: %s", verdict.Confidence, verdict.Reason))
}

// close transitions ACTIVE -> CLOSED and enqueues the evaluation task.
func (t *Tracker) close(ctx context.Context, conv convo.Conversation, reason string) {
	now := t.nowFunc()
	conv.State = convo.StateClosed
	conv.ClosedAt = &now
	conv.Evaluated = false
	if err := t.store.Update(ctx, conv); err != nil {
		log.Printf("[tracker] close %s: %v", conv.Key, err)
		return
	}

	prio := convo.PriorityFor(conv)
	t.sched.Enqueue(conv.Key, prio)
	_ = t.store.LogEvent(ctx, "closed", "tracker", conv.Key, "",
		fmt.Sprintf(`{"reason":%q,"priority":%d}`, reason, prio))
	t.notifier.Notify(Notification{Kind: KindClosed, Key: conv.Key, At: now})
}

// maybeReopen handles a message arriving on a closed conversation. The
// message must pass the reopen-worthiness check; classifier failure leaves
// the conversation closed.
func (t *Tracker) maybeReopen(ctx context.Context, conv convo.Conversation, msg convo.Message) {
	reopen, err := t.cls.ShouldReopen(ctx, msg)
	if err != nil {
		log.Printf("[tracker] reopen check %s: no verdict: %v", conv.Key, err)
		return
	}
	if !reopen {
		return
	}

	now := t.nowFunc()
	conv.State = convo.StateReopened
	conv.ReopenCount++
	conv.Evaluated = false
	conv.LastMessageAt = msg.Timestamp
	if err := t.store.Update(ctx, conv); err != nil {
		log.Printf("[tracker] reopen %s: %v", conv.Key, err)
		return
	}

	// Reopened conversations always outrank first-time closures.
	t.sched.Enqueue(conv.Key, convo.PriorityReopened)
	_ = t.store.LogEvent(ctx, "reopened", "tracker", conv.Key, "",
		fmt.Sprintf(`{"reopen_count":%d}`, conv.ReopenCount))
	t.notifier.Notify(Notification{Kind: KindReopened, Key: conv.Key, At: now})

	// A reopened conversation behaves like any active one until it closes
	// again.
	conv.State = convo.StateActive
	if msg.Direction == convo.FromCustomer {
		t.detectRequest(ctx, &conv, msg)
	}
	if err := t.store.Update(ctx, conv); err != nil {
		log.Printf("[tracker] reactivate %s: %v", conv.Key, err)
	}
}

// CloseInactive closes active conversations with no message since the
// inactivity timeout. Called by the reconciler; transitions still go
// through the tracker so the state machine has a single owner.
func (t *Tracker) CloseInactive(ctx context.Context) int {
	cutoff := t.nowFunc().Add(-t.pol.InactivityTimeout.Std())
	stale, err := t.store.ListInactiveSince(ctx, cutoff)
	if err != nil {
		log.Printf("[tracker] list inactive: %v", err)
		return 0
	}
	for _, conv := range stale {
		t.close(ctx, conv, "inactivity timeout")
	}
	return len(stale)
}
