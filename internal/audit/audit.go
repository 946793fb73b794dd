// Package audit keeps a small SQLite-backed append-only log of connect,
// disconnect, and error events. It is strictly observational: nothing in
// this package ever informs a session registry decision, and it never
// stores PTY state.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Log is an append-only audit sink backed by SQLite.
type Log struct {
	db *sql.DB
}

// Open creates (if needed) the database at path and runs its schema. A path
// that doesn't exist yet starts from a schema-only database every run.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enable WAL: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		peer_kind TEXT NOT NULL,
		session_id TEXT,
		detail TEXT,
		recorded_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(kind);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("audit: create schema: %w", err)
	}
	return nil
}

// Record appends one audit event. Failures are swallowed: Record returns
// nothing and logs nothing, so a broken audit log never interrupts the host
// controller's frame-handling path.
func (l *Log) Record(kind, peerKind, sessionID, detail string) {
	_, _ = l.db.Exec(
		`INSERT INTO audit_events (kind, peer_kind, session_id, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		kind, peerKind, nullableString(sessionID), nullableString(detail), time.Now(),
	)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Event is one row read back from the log, used by tests and any future
// admin surface.
type Event struct {
	Kind      string
	PeerKind  string
	SessionID string
	Detail    string
	RecordedAt time.Time
}

// Recent returns the most recent n events, newest first.
func (l *Log) Recent(n int) ([]Event, error) {
	rows, err := l.db.Query(
		`SELECT kind, peer_kind, session_id, detail, recorded_at FROM audit_events ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var sessionID, detail sql.NullString
		if err := rows.Scan(&e.Kind, &e.PeerKind, &sessionID, &detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.SessionID = sessionID.String
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
