package convo

import "time"

// Priority orders evaluation tasks; lower values drain first. Ties are
// broken by enqueue time (FIFO within a band).
type Priority int

// Priority bands. Assigned once at enqueue time from conversation
// attributes and never recomputed afterwards.
const (
	PriorityReopened Priority = 0  // reopened conversations always outrank first-time closures
	PriorityUrgent   Priority = 10 // complaint or SLA breach
	PriorityElevated Priority = 20 // pending unresolved requests
	PriorityDefault  Priority = 30
	PriorityTrivial  Priority = 40 // very short exchanges
)

// trivialMessageCount is the message-count threshold below which a
// conversation lands in the lowest band.
const trivialMessageCount = 3

// PriorityFor computes the evaluation priority band for a conversation.
// Pure function of the conversation's attributes at call time.
func PriorityFor(c Conversation) Priority {
	switch {
	case c.State == StateReopened || c.ReopenCount > 0:
		return PriorityReopened
	case c.Complaint || c.SLABreached:
		return PriorityUrgent
	case c.OpenRequests > 0:
		return PriorityElevated
	case c.MessageCount < trivialMessageCount:
		return PriorityTrivial
	default:
		return PriorityDefault
	}
}

// EvaluationTask is an ephemeral "evaluate conversation X" work item. It
// lives only in the scheduler's queue and in-flight table; the evaluation
// result is what gets persisted.
type EvaluationTask struct {
	Key        string
	Priority   Priority
	EnqueuedAt time.Time
	Retries    int
}
