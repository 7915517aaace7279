// Package convo holds the shared conversation data model: row types for the
// SQLite store, lifecycle states, evaluation priorities, classifier verdict
// shapes, and the typed errors used for discrimination across packages.
package convo

import "time"

// State represents the lifecycle state of a conversation.
type State string

// Conversation state constants.
const (
	StateNew      State = "new"      // Key seen, no message applied yet.
	StateActive   State = "active"   // At least one message applied.
	StateClosed   State = "closed"   // Finished; eligible for evaluation.
	StateReopened State = "reopened" // Closed conversation that received a qualifying message.
)

// Valid reports whether s is a known conversation state.
func (s State) Valid() bool {
	switch s {
	case StateNew, StateActive, StateClosed, StateReopened:
		return true
	}
	return false
}

// Direction identifies which party authored a message.
type Direction string

// Message direction constants.
const (
	FromCustomer Direction = "customer"
	FromAgent    Direction = "agent"
)

// Conversation is the per-key lifecycle record. State transitions are owned
// exclusively by the tracker; the scheduler and reconciler only read it.
type Conversation struct {
	Key           string     `json:"key"`
	State         State      `json:"state"`
	StartedAt     time.Time  `json:"started_at"`
	LastMessageAt time.Time  `json:"last_message_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	ReopenCount   int        `json:"reopen_count"`
	Evaluated     bool       `json:"evaluated"`
	Complaint     bool       `json:"complaint"`     // a complaint was detected on this conversation
	SLABreached   bool       `json:"sla_breached"`  // at least one request went overdue
	OpenRequests  int        `json:"open_requests"` // unresolved detected requests
	MessageCount  int        `json:"message_count"`
}

// Message is a single immutable conversation turn. ID is the
// provider-assigned dedup key; feeding the same ID twice is a no-op.
// The same shape is used for raw inbound chat events.
type Message struct {
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Direction       Direction `json:"direction"`
	Text            string    `json:"text"`
	Timestamp       time.Time `json:"timestamp"`
}

// Request is a detected customer request with a promised SLA deadline.
type Request struct {
	ID              int64     `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Summary         string    `json:"summary"`
	Deadline        time.Time `json:"deadline"`
	Resolved        bool      `json:"resolved"`
	Overdue         bool      `json:"overdue"`
	CreatedAt       time.Time `json:"created_at"`
}

// ScoreResult is the durable outcome of one evaluation pass.
type ScoreResult struct {
	Score    int    `json:"score"` // 0..100
	Summary  string `json:"summary"`
	Model    string `json:"model,omitempty"`
	ScoredAt time.Time
}

// CloseVerdict is the classifier's structured answer to "should this
// conversation close". Confidence is 0..100; verdicts below the policy
// floor are ignored.
type CloseVerdict struct {
	ShouldClose bool   `json:"should_close"`
	Confidence  int    `json:"confidence"`
	Reason      string `json:"reason,omitempty"`
}

// RequestSignal is the classifier's intent verdict for a customer message.
type RequestSignal struct {
	IsRequest   bool   `json:"is_request"`
	IsComplaint bool   `json:"is_complaint"`
	Summary     string `json:"summary,omitempty"`
}

// FailureRecord is a permanent evaluation failure (retry ceiling exhausted).
// The conversation stays closed and unevaluated; the reconciler surfaces
// these for a later re-attempt instead of silently dropping them.
type FailureRecord struct {
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Retries         int       `json:"retries"`
	Reason          string    `json:"reason"`
	FailedAt        time.Time `json:"failed_at"`
}

// Event represents a row in the events SQLite table. Every lifecycle
// transition and scheduler action is appended here for operator queries.
type Event struct {
	ID              int64     `json:"id"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	ConversationKey string    `json:"conversation_key"`
	WorkerID        string    `json:"worker_id"`
	Payload         string    `json:"payload"`
	CreatedAt       time.Time `json:"created_at"`
}
