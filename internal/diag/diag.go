// Package diag is an optional local event log for stream lifecycle
// and timing diagnostics, backed by SQLite. It is a debugging aid,
// never a dependency of the stream engine itself.
package diag

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one logged occurrence.
type Event struct {
	Timestamp time.Time
	ChannelID uint32
	Kind      string
	Detail    string
}

// Log persists stream diagnostics in SQLite.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and runs
// migrations.
func Open(path string) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("diag: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("diag: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("diag: open sqlite database: %w", err)
	}

	l := &Log{db: db}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Log) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_unix_ms INTEGER NOT NULL,
	channel_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_channel ON events(channel_id, ts_unix_ms);
`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("diag: run migrations: %w", err)
	}
	return nil
}

// LogEvent appends one event row.
func (l *Log) LogEvent(ctx context.Context, channelID uint32, kind, detail string) error {
	const q = `INSERT INTO events (ts_unix_ms, channel_id, kind, detail) VALUES (?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, q, time.Now().UnixMilli(), channelID, kind, detail)
	if err != nil {
		return fmt.Errorf("diag: insert event: %w", err)
	}
	return nil
}

// Recent returns the most recent events for a channel, oldest first.
func (l *Log) Recent(ctx context.Context, channelID uint32, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ts_unix_ms, channel_id, kind, detail
FROM events
WHERE channel_id = ?
ORDER BY ts_unix_ms DESC, id DESC
LIMIT ?
`
	rows, err := l.db.QueryContext(ctx, q, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("diag: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var tsMs int64
		if err := rows.Scan(&tsMs, &e.ChannelID, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("diag: scan event: %w", err)
		}
		e.Timestamp = time.UnixMilli(tsMs).UTC()
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
