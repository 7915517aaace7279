package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"parley/pkg/convo"

	_ "modernc.org/sqlite" // SQLite driver
)

// LogEvent appends a lifecycle event to the events table. Callers treat
// event logging as best-effort and usually discard the error.
func (s *Store) LogEvent(ctx context.Context, evType, source, key, workerID, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, source, conversation_key, worker_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		evType, source, key, workerID, payload, encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// EventQuery specifies filter criteria for querying the event log.
type EventQuery struct {
	// ConversationKey filters events to a single conversation.
	ConversationKey string

	// WorkerID filters events to a specific evaluation worker.
	WorkerID string

	// EventType filters to a specific event type (e.g. "closed", "evaluated").
	EventType string

	// After filters events created after this time (inclusive).
	After *time.Time

	// Before filters events created before this time (inclusive).
	Before *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// QueryEvents returns matching events, newest first.
func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]convo.Event, error) {
	var conds []string
	var args []any

	if q.ConversationKey != "" {
		conds = append(conds, "conversation_key = ?")
		args = append(args, q.ConversationKey)
	}
	if q.WorkerID != "" {
		conds = append(conds, "worker_id = ?")
		args = append(args, q.WorkerID)
	}
	if q.EventType != "" {
		conds = append(conds, "type = ?")
		args = append(args, q.EventType)
	}
	if q.After != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, encodeTime(*q.After))
	}
	if q.Before != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, encodeTime(*q.Before))
	}

	query := `SELECT id, type, source, COALESCE(conversation_key, ''), COALESCE(worker_id, ''), COALESCE(payload, ''), created_at FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []convo.Event
	for rows.Next() {
		var e convo.Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.ConversationKey, &e.WorkerID, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = decodeTime(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// OpenReadOnly opens the state database read-only with WAL so CLI queries
// never block the running daemon. Returns an error if the file is missing.
func OpenReadOnly(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s read-only: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dbPath, err)
	}
	return New(db), nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
