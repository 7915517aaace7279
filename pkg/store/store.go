// Package store is the SQLite-backed conversation store. It owns the
// conversations, messages, requests, evaluations, failures, and events
// tables and implements the narrow contracts the tracker, scheduler, and
// reconciler consume. It assumes a keyed store only; no transaction ever
// spans more than one conversation key.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"parley/pkg/convo"
)

// timeFormat is the canonical timestamp encoding for all table columns.
const timeFormat = time.RFC3339

// Store manages the parley state tables in SQLite.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given SQLite database. The schema must
// already be applied (see convo.SchemaDDL).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init applies the schema DDL. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, convo.SchemaDDL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for read-only query surfaces.
func (s *Store) DB() *sql.DB { return s.db }

func encodeTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func decodeTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- Conversations ---

const conversationColumns = `
	c.key, c.state, c.started_at, c.last_message_at, COALESCE(c.closed_at, ''),
	c.reopen_count, c.evaluated, c.complaint, c.sla_breached,
	(SELECT COUNT(*) FROM requests r WHERE r.conversation_key = c.key AND r.resolved = 0),
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_key = c.key)`

func scanConversation(row interface{ Scan(...any) error }) (convo.Conversation, error) {
	var c convo.Conversation
	var startedAt, lastMessageAt, closedAt string
	err := row.Scan(&c.Key, &c.State, &startedAt, &lastMessageAt, &closedAt,
		&c.ReopenCount, &c.Evaluated, &c.Complaint, &c.SLABreached,
		&c.OpenRequests, &c.MessageCount)
	if err != nil {
		return convo.Conversation{}, err
	}
	c.StartedAt = decodeTime(startedAt)
	c.LastMessageAt = decodeTime(lastMessageAt)
	if closedAt != "" {
		t := decodeTime(closedAt)
		c.ClosedAt = &t
	}
	return c, nil
}

// Get returns the conversation for key, or a convo.NotFoundError.
func (s *Store) Get(ctx context.Context, key string) (convo.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+conversationColumns+` FROM conversations c WHERE c.key = ?`, key)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return convo.Conversation{}, &convo.NotFoundError{Key: key}
	}
	if err != nil {
		return convo.Conversation{}, fmt.Errorf("get conversation %s: %w", key, err)
	}
	return c, nil
}

// Create inserts a new conversation record.
func (s *Store) Create(ctx context.Context, c convo.Conversation) error {
	var closedAt any
	if c.ClosedAt != nil {
		closedAt = encodeTime(*c.ClosedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (key, state, started_at, last_message_at, closed_at, reopen_count, evaluated, complaint, sla_breached)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Key, string(c.State), encodeTime(c.StartedAt), encodeTime(c.LastMessageAt),
		closedAt, c.ReopenCount, c.Evaluated, c.Complaint, c.SLABreached)
	if err != nil {
		return fmt.Errorf("create conversation %s: %w", c.Key, err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing conversation.
func (s *Store) Update(ctx context.Context, c convo.Conversation) error {
	var closedAt any
	if c.ClosedAt != nil {
		closedAt = encodeTime(*c.ClosedAt)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET state = ?, last_message_at = ?, closed_at = ?, reopen_count = ?, evaluated = ?, complaint = ?, sla_breached = ?
		 WHERE key = ?`,
		string(c.State), encodeTime(c.LastMessageAt), closedAt,
		c.ReopenCount, c.Evaluated, c.Complaint, c.SLABreached, c.Key)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", c.Key, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return &convo.NotFoundError{Key: c.Key}
	}
	return nil
}

// ListByState returns all conversations currently in state, ordered by
// last activity (oldest first).
func (s *Store) ListByState(ctx context.Context, state convo.State) ([]convo.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+conversationColumns+` FROM conversations c WHERE c.state = ? ORDER BY c.last_message_at`,
		string(state))
	if err != nil {
		return nil, fmt.Errorf("list conversations by state %s: %w", state, err)
	}
	defer func() { _ = rows.Close() }()
	return collectConversations(rows)
}

// ListUnevaluatedClosed returns closed conversations whose evaluated flag
// is still false. Used by the reconciler's missed-closure sweep.
func (s *Store) ListUnevaluatedClosed(ctx context.Context) ([]convo.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+conversationColumns+` FROM conversations c WHERE c.state = ? AND c.evaluated = 0 ORDER BY c.closed_at`,
		string(convo.StateClosed))
	if err != nil {
		return nil, fmt.Errorf("list unevaluated closed: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectConversations(rows)
}

// ListInactiveSince returns active conversations with no message since the
// cutoff. Used by the reconciler's inactivity closure check.
func (s *Store) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]convo.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+conversationColumns+` FROM conversations c WHERE c.state IN (?, ?) AND c.last_message_at < ?`,
		string(convo.StateActive), string(convo.StateReopened), encodeTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list inactive conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectConversations(rows)
}

func collectConversations(rows *sql.Rows) ([]convo.Conversation, error) {
	var out []convo.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

// CountByState returns a state -> count map for status output.
func (s *Store) CountByState(ctx context.Context) (map[convo.State]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM conversations GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[convo.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[convo.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return out, nil
}

// --- Messages ---

// AppendMessage records a message. A message whose ID is already recorded
// returns a convo.DuplicateMessageError and writes nothing.
func (s *Store) AppendMessage(ctx context.Context, m convo.Message) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE id = ?`, m.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check message %s: %w", m.ID, err)
	}
	if exists > 0 {
		return &convo.DuplicateMessageError{MessageID: m.ID}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_key, direction, text, ts, seq)
		 VALUES (?, ?, ?, ?, ?, (SELECT COUNT(*) FROM messages WHERE conversation_key = ?))`,
		m.ID, m.ConversationKey, string(m.Direction), m.Text, encodeTime(m.Timestamp), m.ConversationKey)
	if err != nil {
		return fmt.Errorf("append message %s: %w", m.ID, err)
	}
	return nil
}

// Transcript returns every message of a conversation in insertion order.
func (s *Store) Transcript(ctx context.Context, key string) ([]convo.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_key, direction, text, ts FROM messages
		 WHERE conversation_key = ? ORDER BY seq`, key)
	if err != nil {
		return nil, fmt.Errorf("transcript %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()
	return collectMessages(rows)
}

// RecentMessages returns the last n messages of a conversation in
// insertion order. This bounded window is what the classifier sees.
func (s *Store) RecentMessages(ctx context.Context, key string, n int) ([]convo.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_key, direction, text, ts FROM (
			SELECT id, conversation_key, direction, text, ts, seq FROM messages
			WHERE conversation_key = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq`, key, n)
	if err != nil {
		return nil, fmt.Errorf("recent messages %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]convo.Message, error) {
	var out []convo.Message
	for rows.Next() {
		var m convo.Message
		var direction, ts string
		if err := rows.Scan(&m.ID, &m.ConversationKey, &direction, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Direction = convo.Direction(direction)
		m.Timestamp = decodeTime(ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// --- Evaluations ---

// SaveEvaluation records a scoring result and marks the conversation
// evaluated in the same transaction.
func (s *Store) SaveEvaluation(ctx context.Context, key string, result convo.ScoreResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save evaluation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	scoredAt := result.ScoredAt
	if scoredAt.IsZero() {
		scoredAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO evaluations (conversation_key, score, summary, model, scored_at) VALUES (?, ?, ?, ?, ?)`,
		key, result.Score, result.Summary, result.Model, encodeTime(scoredAt))
	if err != nil {
		return fmt.Errorf("insert evaluation for %s: %w", key, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET evaluated = 1 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("mark %s evaluated: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evaluation for %s: %w", key, err)
	}
	return nil
}

// LatestEvaluation returns the most recent score for key, or sql.ErrNoRows
// wrapped in a NotFoundError when none exists.
func (s *Store) LatestEvaluation(ctx context.Context, key string) (convo.ScoreResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT score, COALESCE(summary, ''), COALESCE(model, ''), scored_at FROM evaluations
		 WHERE conversation_key = ? ORDER BY id DESC LIMIT 1`, key)
	var r convo.ScoreResult
	var scoredAt string
	err := row.Scan(&r.Score, &r.Summary, &r.Model, &scoredAt)
	if err == sql.ErrNoRows {
		return convo.ScoreResult{}, &convo.NotFoundError{Key: key}
	}
	if err != nil {
		return convo.ScoreResult{}, fmt.Errorf("latest evaluation %s: %w", key, err)
	}
	r.ScoredAt = decodeTime(scoredAt)
	return r, nil
}

// EvaluationCount returns the total number of recorded evaluations.
func (s *Store) EvaluationCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count evaluations: %w", err)
	}
	return n, nil
}

// --- Failures ---

// RecordFailure stores a permanent evaluation failure.
func (s *Store) RecordFailure(ctx context.Context, f convo.FailureRecord) error {
	failedAt := f.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures (id, conversation_key, retries, reason, failed_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.ConversationKey, f.Retries, f.Reason, encodeTime(failedAt))
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", f.ConversationKey, err)
	}
	return nil
}

// ListFailures returns permanent failures, newest first.
func (s *Store) ListFailures(ctx context.Context) ([]convo.FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_key, retries, reason, failed_at FROM failures ORDER BY failed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []convo.FailureRecord
	for rows.Next() {
		var f convo.FailureRecord
		var failedAt string
		if err := rows.Scan(&f.ID, &f.ConversationKey, &f.Retries, &f.Reason, &failedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.FailedAt = decodeTime(failedAt)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}
