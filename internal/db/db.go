package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT UNIQUE NOT NULL,
    start_time      TEXT NOT NULL DEFAULT (datetime('now')),
    end_time        TEXT,
    provider        TEXT NOT NULL DEFAULT '',
    model           TEXT NOT NULL DEFAULT '',
    total_requests  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS requests (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id          TEXT NOT NULL REFERENCES sessions(session_id),
    provider            TEXT NOT NULL,
    model               TEXT NOT NULL,
    mode                TEXT NOT NULL,
    input_text          TEXT NOT NULL,
    output_text         TEXT,
    input_length        INTEGER NOT NULL DEFAULT 0,
    output_length       INTEGER,
    processing_time_ms  INTEGER,
    status              TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'success', 'error')),
    error_message       TEXT,
    timestamp           TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS clipboard_operations (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL REFERENCES sessions(session_id),
    operation_type  TEXT NOT NULL CHECK (operation_type IN ('copy', 'paste')),
    content         TEXT NOT NULL,
    content_length  INTEGER NOT NULL DEFAULT 0,
    mode            TEXT,
    source          TEXT NOT NULL DEFAULT 'unknown',
    timestamp       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS history (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id          TEXT NOT NULL REFERENCES sessions(session_id),
    mode                TEXT NOT NULL,
    original_text       TEXT NOT NULL,
    processed_text      TEXT NOT NULL,
    provider            TEXT NOT NULL,
    model               TEXT NOT NULL,
    processing_time_ms  INTEGER,
    timestamp           TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS settings_backup (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    backup_name     TEXT NOT NULL,
    settings_json   TEXT NOT NULL,
    timestamp       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_requests_session ON requests(session_id);
CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
CREATE INDEX IF NOT EXISTS idx_clipboard_session ON clipboard_operations(session_id);
CREATE INDEX IF NOT EXISTS idx_clipboard_timestamp ON clipboard_operations(timestamp);
CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id);
CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp);
`

// Open opens (or creates) the history database and applies the schema.
// Schema creation is idempotent and safe to run on every startup.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}
	return db, nil
}
