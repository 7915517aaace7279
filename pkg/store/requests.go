package store

import (
	"context"
	"fmt"
	"time"

	"parley/pkg/convo"
)

// InsertRequest records a detected customer request with its promised
// deadline. Returns the new row ID.
func (s *Store) InsertRequest(ctx context.Context, key, summary string, deadline time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (conversation_key, summary, deadline, created_at) VALUES (?, ?, ?, ?)`,
		key, summary, encodeTime(deadline), encodeTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert request for %s: %w", key, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("request id for %s: %w", key, err)
	}
	return id, nil
}

// ResolveRequests marks every open request of a conversation resolved.
// Called when an agent reply fulfils outstanding requests.
func (s *Store) ResolveRequests(ctx context.Context, key string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET resolved = 1 WHERE conversation_key = ? AND resolved = 0`, key)
	if err != nil {
		return 0, fmt.Errorf("resolve requests for %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// RequestsFor returns every detected request of a conversation, oldest
// first. The scheduler hands these to the classifier alongside the
// transcript when scoring.
func (s *Store) RequestsFor(ctx context.Context, key string) ([]convo.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_key, summary, deadline, resolved, overdue, created_at FROM requests
		 WHERE conversation_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("list requests for %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	var out []convo.Request
	for rows.Next() {
		var r convo.Request
		var deadline, createdAt string
		if err := rows.Scan(&r.ID, &r.ConversationKey, &r.Summary, &deadline, &r.Resolved, &r.Overdue, &createdAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		r.Deadline = decodeTime(deadline)
		r.CreatedAt = decodeTime(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests for %s: %w", key, err)
	}
	return out, nil
}

// ListOverdueRequests returns unresolved requests whose deadline has passed
// and that are not yet flagged overdue.
func (s *Store) ListOverdueRequests(ctx context.Context, now time.Time) ([]convo.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_key, summary, deadline, resolved, overdue, created_at FROM requests
		 WHERE resolved = 0 AND overdue = 0 AND deadline < ? ORDER BY deadline`,
		encodeTime(now))
	if err != nil {
		return nil, fmt.Errorf("list overdue requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []convo.Request
	for rows.Next() {
		var r convo.Request
		var deadline, createdAt string
		if err := rows.Scan(&r.ID, &r.ConversationKey, &r.Summary, &deadline, &r.Resolved, &r.Overdue, &createdAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		r.Deadline = decodeTime(deadline)
		r.CreatedAt = decodeTime(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

// MarkRequestOverdue flags a request overdue and records the SLA breach on
// its owning conversation.
func (s *Store) MarkRequestOverdue(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark overdue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE requests SET overdue = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark request %d overdue: %w", id, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET sla_breached = 1
		 WHERE key = (SELECT conversation_key FROM requests WHERE id = ?)`, id)
	if err != nil {
		return fmt.Errorf("flag sla breach for request %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark overdue %d: %w", id, err)
	}
	return nil
}
