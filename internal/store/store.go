// Package store provides a SQLite-backed conversation history store for the
// tutor. Turns are grouped into named threads and persisted across restarts;
// a Thread view implements memory.Persister so the in-process conversation
// log is written through to disk.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/tutor-go/internal/memory"
)

// DefaultThread is the thread used by the single-user tutor.
const DefaultThread = "default"

// Disabled is the TUTOR_HISTORY_DB value that turns persistence off.
const Disabled = "disabled"

// SQLiteStore persists conversation turns in a local SQLite database.
// It is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the conversation history database.
// It resolves to ~/.tutor/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".tutor")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: create directory for %s: %w", path, err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    thread       TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    sources      TEXT    NOT NULL DEFAULT '[]', -- JSON array of document names
    created_at   INTEGER NOT NULL               -- Unix timestamp (milliseconds)
);
CREATE INDEX IF NOT EXISTS idx_turns_thread_id
    ON turns (thread, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists turns for the given thread in a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, thread string, turns ...memory.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO turns (thread, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?)`
	for _, t := range turns {
		sources, err := json.Marshal(nonNil(t.Sources))
		if err != nil {
			return fmt.Errorf("store: append: encode sources: %w", err)
		}
		created := t.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := tx.ExecContext(ctx, q, thread, string(t.Role), t.Content, string(sources), created.UnixMilli()); err != nil {
			return fmt.Errorf("store: append: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: append: commit: %w", err)
	}
	return nil
}

// Load returns every turn of the thread, oldest first.
func (s *SQLiteStore) Load(ctx context.Context, thread string) ([]memory.Turn, error) {
	const q = `
SELECT role, content, sources, created_at
FROM   turns
WHERE  thread = ?
ORDER  BY id ASC`
	return s.query(ctx, q, thread)
}

// Recent returns the most recent n turns of the thread, ordered oldest-first.
// If fewer than n turns exist, all are returned.
func (s *SQLiteStore) Recent(ctx context.Context, thread string, n int) ([]memory.Turn, error) {
	const q = `
SELECT role, content, sources, created_at FROM (
    SELECT id, role, content, sources, created_at
    FROM   turns
    WHERE  thread = ?
    ORDER  BY id DESC
    LIMIT  ?
) ORDER BY id ASC`
	return s.query(ctx, q, thread, n)
}

// Clear deletes every turn of the thread.
func (s *SQLiteStore) Clear(ctx context.Context, thread string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE thread = ?`, thread); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]memory.Turn, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var turns []memory.Turn
	for rows.Next() {
		var (
			t       memory.Turn
			role    string
			sources string
			ms      int64
		)
		if err := rows.Scan(&role, &t.Content, &sources, &ms); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &t.Sources); err != nil {
			return nil, fmt.Errorf("store: decode sources: %w", err)
		}
		if len(t.Sources) == 0 {
			t.Sources = nil
		}
		t.Role = memory.Role(role)
		t.CreatedAt = time.UnixMilli(ms)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return turns, nil
}

// Thread returns a memory.Persister bound to one thread of the store.
func (s *SQLiteStore) Thread(name string) *Thread {
	return &Thread{store: s, name: name}
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Thread is a view over a single conversation thread.
type Thread struct {
	store *SQLiteStore
	name  string
}

var _ memory.Persister = (*Thread)(nil)

// Load implements memory.Persister.
func (t *Thread) Load(ctx context.Context) ([]memory.Turn, error) {
	return t.store.Load(ctx, t.name)
}

// Append implements memory.Persister.
func (t *Thread) Append(ctx context.Context, turns ...memory.Turn) error {
	return t.store.Append(ctx, t.name, turns...)
}

// Clear implements memory.Persister.
func (t *Thread) Clear(ctx context.Context) error {
	return t.store.Clear(ctx, t.name)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
