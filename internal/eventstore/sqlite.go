package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/indexwatch/internal/daemon/events"
	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

// Entry kinds.
const (
	KindRun       = "run.completed"
	KindCompanion = "companion.state_changed"
	KindShutdown  = "shutdown.initiated"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.Mutex
	sessionID string
}

// NewSQLiteStore opens (or creates) the journal at dbPath. Use ":memory:"
// for an in-memory database. Entries appended through this store are tagged
// with sessionID.
func NewSQLiteStore(dbPath, sessionID string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "could not open journal database").
				WithContext("path", dbPath).
				Build()
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "could not open journal database").
			WithContext("path", dbPath).
			Build()
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, sessionID: sessionID}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "failed to initialize journal schema").
			WithContext("path", dbPath).
			Build()
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	PRAGMA journal_mode = WAL;
	CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		run_id TEXT,
		occurred_at INTEGER NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_session ON journal(session_id);
	CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal(kind);
	CREATE INDEX IF NOT EXISTS idx_journal_occurred_at ON journal(occurred_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SessionID returns the session tag applied by Record.
func (s *SQLiteStore) SessionID() string {
	return s.sessionID
}

// Append adds an entry to the journal. A zero OccurredAt is stamped with the
// current time and an empty SessionID with the store's session.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if e.SessionID == "" {
		e.SessionID = s.sessionID
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO journal (session_id, kind, run_id, occurred_at, payload) VALUES (?, ?, ?, ?, ?)",
		e.SessionID, e.Kind, nullString(e.RunID), e.OccurredAt.UnixMilli(), string(e.Payload),
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStorage, "failed to append journal entry").
			WithContext("kind", e.Kind).
			Build()
	}
	return nil
}

// Record marshals payload to JSON and appends it.
func (s *SQLiteStore) Record(ctx context.Context, kind, runID string, at time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStorage, "failed to marshal journal payload").
			WithContext("kind", kind).
			Build()
	}
	return s.Append(ctx, Entry{Kind: kind, RunID: runID, OccurredAt: at, Payload: data})
}

// RecordEvent journals a bus event under its event name.
func (s *SQLiteStore) RecordEvent(ctx context.Context, evt events.Event) error {
	var runID string
	if run, ok := evt.(events.RunCompleted); ok {
		runID = run.RunID
	}
	return s.Record(ctx, evt.EventName(), runID, evt.OccurredAt(), evt)
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, kind, run_id, occurred_at, payload FROM journal ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "failed to query journal").Build()
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var runID sql.NullString
		var occurredMs int64
		var payload string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &runID, &occurredMs, &payload); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "failed to query journal").Build()
		}
		e.RunID = runID.String
		e.OccurredAt = time.UnixMilli(occurredMs)
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStorage, "failed to query journal").Build()
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
