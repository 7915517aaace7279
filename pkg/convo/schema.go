package convo

// SchemaDDL defines the SQLite schema for the parley state database.
// Tables: conversations, messages, requests, evaluations, failures, events.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Per-key conversation lifecycle state
CREATE TABLE IF NOT EXISTS conversations (
    key TEXT PRIMARY KEY,
    state TEXT NOT NULL DEFAULT 'new',
    started_at TEXT NOT NULL DEFAULT (datetime('now')),
    last_message_at TEXT NOT NULL DEFAULT (datetime('now')),
    closed_at TEXT,
    reopen_count INTEGER NOT NULL DEFAULT 0,
    evaluated INTEGER NOT NULL DEFAULT 0,
    complaint INTEGER NOT NULL DEFAULT 0,
    sla_breached INTEGER NOT NULL DEFAULT 0
);

-- Immutable conversation turns; id is the provider dedup key
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_key TEXT NOT NULL,
    direction TEXT NOT NULL,
    text TEXT NOT NULL,
    ts TEXT NOT NULL,
    seq INTEGER,
    FOREIGN KEY (conversation_key) REFERENCES conversations(key)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_key, ts);

-- Detected customer requests with promised SLA deadlines
CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY,
    conversation_key TEXT NOT NULL,
    summary TEXT NOT NULL,
    deadline TEXT NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0,
    overdue INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_requests_open ON requests(resolved, deadline);

-- Durable evaluation results, one row per scoring pass
CREATE TABLE IF NOT EXISTS evaluations (
    id INTEGER PRIMARY KEY,
    conversation_key TEXT NOT NULL,
    score INTEGER NOT NULL,
    summary TEXT,
    model TEXT,
    scored_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_evaluations_conversation ON evaluations(conversation_key);

-- Permanent evaluation failures (retry ceiling exhausted)
CREATE TABLE IF NOT EXISTS failures (
    id TEXT PRIMARY KEY,
    conversation_key TEXT NOT NULL,
    retries INTEGER NOT NULL,
    reason TEXT NOT NULL,
    failed_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Runtime event log: tracker/scheduler lifecycle events
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    conversation_key TEXT,
    worker_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, created_at);
`
