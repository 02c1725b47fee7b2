// Package store persists variations in SQLite and answers the analytics
// queries. It also keeps a log of polling runs and of every document each
// run looked at.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/variazioni/dbopen"
)

// Store wraps the variazioni database.
type Store struct {
	DB    *sql.DB
	newID func() string
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the UUIDv7 generator used for log rows.
func WithIDGenerator(fn func() string) Option { return func(s *Store) { s.newID = fn } }

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option { return func(s *Store) { s.now = fn } }

// NewStore creates a Store from an already-opened database with Schema
// applied.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		DB:    db,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens (creating if needed) the database at path and applies Schema.
// dbOpts tune the connection pragmas.
func Open(path string, dbOpts ...dbopen.Option) (*Store, error) {
	opts := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, dbOpts...)
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

// Schema is the complete variazioni schema.
const Schema = `
-- Current state of every known variation. A row is one identity.
CREATE TABLE IF NOT EXISTS variations (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    date         TEXT    NOT NULL,
    hour         INTEGER NOT NULL CHECK (hour >= 1),
    class_name   TEXT    NOT NULL,
    classroom    TEXT    NOT NULL DEFAULT '-',
    teacher      TEXT    NOT NULL,
    substitute_1 TEXT    NOT NULL DEFAULT '-',
    substitute_2 TEXT    NOT NULL DEFAULT '-',
    notes        TEXT,
    ocr          INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    UNIQUE (date, hour, class_name, teacher)
);
CREATE INDEX IF NOT EXISTS idx_variations_class ON variations(class_name);
CREATE INDEX IF NOT EXISTS idx_variations_teacher ON variations(teacher);

-- Polling runs
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    triggered_by  TEXT    NOT NULL DEFAULT 'schedule',
    status        TEXT    NOT NULL DEFAULT 'running',
    documents     INTEGER NOT NULL DEFAULT 0,
    failed        INTEGER NOT NULL DEFAULT 0,
    new_count     INTEGER NOT NULL DEFAULT 0,
    edited_count  INTEGER NOT NULL DEFAULT 0,
    removed_count INTEGER NOT NULL DEFAULT 0,
    error         TEXT    NOT NULL DEFAULT '',
    started_at    INTEGER NOT NULL,
    finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- One row per document handled by a run
CREATE TABLE IF NOT EXISTS document_log (
    id            TEXT PRIMARY KEY,
    run_id        TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    url           TEXT    NOT NULL,
    date          TEXT    NOT NULL DEFAULT '',
    parser        TEXT    NOT NULL DEFAULT '',
    variations    INTEGER NOT NULL DEFAULT 0,
    ocr           INTEGER NOT NULL DEFAULT 0,
    status        TEXT    NOT NULL,
    error_class   TEXT    NOT NULL DEFAULT '',
    error_message TEXT    NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    logged_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_document_log_run ON document_log(run_id, logged_at);
`
