// Package history records import and session events in a SQLite database.
// It opens the database, enables WAL mode, and runs the schema migration.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Kind labels a recorded event.
type Kind string

const (
	KindImport     Kind = "import"
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
	KindError      Kind = "error"
	KindDelete     Kind = "delete"
)

// Event is one history row.
type Event struct {
	ID       int64
	Kind     Kind
	ConfigID string
	Message  string
	At       time.Time
}

// Log is the event history.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the history database at path and runs migrations.
// Use ":memory:" for an in-memory database (useful in tests).
func Open(path string) (*Log, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Keep a single writer connection to avoid SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db, now: time.Now}, nil
}

// migrate executes the schema DDL. All statements are idempotent.
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Record appends an event stamped with the current time.
func (l *Log) Record(ctx context.Context, kind Kind, configID, message string) error {
	if l == nil || l.db == nil {
		return errors.New("history is not open")
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (kind, config_id, message, at) VALUES (?, ?, ?, ?)`,
		string(kind), configID, message, l.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("record %s event: %w", kind, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, kind, config_id, message, at FROM events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev   Event
			kind string
			at   int64
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.ConfigID, &ev.Message, &at); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		ev.At = time.UnixMilli(at).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes events recorded before cutoff and returns how many were removed.
func (l *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
