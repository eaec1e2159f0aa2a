package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

const (
	// indexFile is the database file name inside the index directory.
	indexFile = "index.db"

	// schemaVersion is bumped whenever the on-disk layout changes.
	// Older files are treated as unusable and rebuilt.
	schemaVersion = 1
)

// IndexState describes what was found in the index directory on open.
type IndexState string

const (
	// StateMissing means no index existed yet.
	StateMissing IndexState = "missing"
	// StatePresent means a compatible index was opened.
	StatePresent IndexState = "present"
	// StateUnusable means the stored index was corrupt or incompatible and
	// was replaced by an empty one.
	StateUnusable IndexState = "unusable"
)

// ErrDimensionMismatch is returned by Add when a chunk's embedding length
// differs from the current generation's.
var ErrDimensionMismatch = errors.New("rag: embedding dimension mismatch")

// SQLiteIndex is a VectorStore persisted in a SQLite database inside a
// directory it owns. Similarity is computed in process over all stored
// vectors, which suits the corpus sizes of a single tutor.
type SQLiteIndex struct {
	// mu guards db writes and dim. Held only for local database work.
	mu sync.RWMutex

	db          *sql.DB
	path        string
	fingerprint string
	dim         int
	state       IndexState
	log         *slog.Logger
}

// OpenSQLiteIndex opens the index in dir, creating it when missing.
// fingerprint identifies the embedder; a stored index built by a different
// embedder is discarded. A corrupt or incompatible file never causes an
// error here: it is removed and an empty index is created in its place.
func OpenSQLiteIndex(ctx context.Context, dir, fingerprint string, log *slog.Logger) (*SQLiteIndex, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rag: create index dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, indexFile)

	state := StateMissing
	if _, err := os.Stat(path); err == nil {
		state = StatePresent
	}

	idx := &SQLiteIndex{path: path, fingerprint: fingerprint, state: state, log: log}

	if state == StatePresent {
		if err := idx.open(ctx); err != nil {
			return nil, err
		}
		if reason := idx.validate(ctx); reason != "" {
			log.Warn("rag: stored index is unusable, recreating empty index",
				slog.String("path", path),
				slog.String("reason", reason),
			)
			_ = idx.db.Close()
			if err := removeDBFiles(path); err != nil {
				return nil, fmt.Errorf("rag: remove unusable index: %w", err)
			}
			idx.state = StateUnusable
		}
	}

	if idx.state != StatePresent {
		if err := idx.open(ctx); err != nil {
			return nil, err
		}
		if err := idx.migrate(ctx); err != nil {
			_ = idx.db.Close()
			return nil, err
		}
	}

	log.Debug("rag: sqlite index opened",
		slog.String("path", path),
		slog.String("state", string(idx.state)),
		slog.Int("dimension", idx.dim),
	)
	return idx, nil
}

// open connects to the database file. Connections are lazy so this does
// not yet touch the file contents.
func (s *SQLiteIndex) open(ctx context.Context) error {
	dsn := s.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("rag: open index %s: %w", s.path, err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s.db = db
	return nil
}

// validate returns a non-empty reason when the stored index cannot be used.
func (s *SQLiteIndex) validate(ctx context.Context) string {
	var check string
	if err := s.db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&check); err != nil {
		return "integrity check failed: " + err.Error()
	}
	if check != "ok" {
		return "integrity check: " + check
	}

	meta, err := s.readMeta(ctx)
	if err != nil {
		return err.Error()
	}
	if meta["schema_version"] != strconv.Itoa(schemaVersion) {
		return fmt.Sprintf("schema version %q, want %d", meta["schema_version"], schemaVersion)
	}
	if stored := meta["fingerprint"]; s.fingerprint != "" && stored != "" && stored != s.fingerprint {
		return fmt.Sprintf("built by embedder %q, configured %q", stored, s.fingerprint)
	}
	if d := meta["dimension"]; d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			return "invalid stored dimension " + strconv.Quote(d)
		}
		s.dim = n
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return "chunks table unreadable: " + err.Error()
	}
	return ""
}

func (s *SQLiteIndex) readMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("meta table unreadable: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("meta scan: %w", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meta rows: %w", err)
	}
	return meta, nil
}

// migrate creates the schema and records the generation metadata.
func (s *SQLiteIndex) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    id             TEXT    NOT NULL UNIQUE,
    source_id      TEXT    NOT NULL,
    sequence_index INTEGER NOT NULL,
    page           INTEGER NOT NULL,
    text           TEXT    NOT NULL,
    embedding      BLOB    NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("rag: migrate index: %w", err)
	}
	if err := s.setMeta(ctx, s.db, "schema_version", strconv.Itoa(schemaVersion)); err != nil {
		return err
	}
	return s.setMeta(ctx, s.db, "fingerprint", s.fingerprint)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteIndex) setMeta(ctx context.Context, ex execer, key, value string) error {
	const q = `INSERT INTO meta (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := ex.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("rag: write meta %s: %w", key, err)
	}
	return nil
}

// State reports what OpenSQLiteIndex found on disk.
func (s *SQLiteIndex) State() IndexState {
	return s.state
}

// Dimension returns the vector size of the current generation, 0 when empty.
func (s *SQLiteIndex) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Add appends chunks to the current generation in one transaction.
func (s *SQLiteIndex) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rag: add: begin: %w", err)
	}
	dim, err := s.insert(ctx, tx, s.dim, chunks)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rag: add: commit: %w", err)
	}
	s.dim = dim
	return nil
}

// Replace discards the current generation and stores chunks as the new one.
// Either the whole swap commits or the prior generation stays live.
func (s *SQLiteIndex) Replace(ctx context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rag: replace: begin: %w", err)
	}
	if err := s.truncate(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	dim, err := s.insert(ctx, tx, 0, chunks)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rag: replace: commit: %w", err)
	}
	s.dim = dim
	return nil
}

// insert writes chunks inside tx and returns the generation dimension.
func (s *SQLiteIndex) insert(ctx context.Context, tx *sql.Tx, dim int, chunks []Chunk) (int, error) {
	const q = `INSERT OR REPLACE INTO chunks (id, source_id, sequence_index, page, text, embedding)
VALUES (?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("rag: add: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return 0, fmt.Errorf("rag: add: chunk %s has no embedding", c.ID)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return 0, fmt.Errorf("%w: chunk %s has %d, index has %d", ErrDimensionMismatch, c.ID, len(c.Embedding), dim)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.SourceID, c.SequenceIndex, c.Page, c.Text, encodeVector(c.Embedding)); err != nil {
			return 0, fmt.Errorf("rag: add chunk %s: %w", c.ID, err)
		}
	}
	if err := s.setMeta(ctx, tx, "dimension", strconv.Itoa(dim)); err != nil {
		return 0, err
	}
	return dim, nil
}

// Search scores every stored chunk against query and returns the best k.
func (s *SQLiteIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), s.dim)
	}

	const q = `SELECT id, source_id, sequence_index, page, text, embedding FROM chunks ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.SourceID, &c.SequenceIndex, &c.Page, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("rag: search scan: %w", err)
		}
		c.Embedding = decodeVector(blob)
		hits = append(hits, Hit{Chunk: c, Score: cosine(query, c.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rag: search rows: %w", err)
	}
	return rank(hits, k), nil
}

// Clear deletes every chunk. The next Add starts a new generation and may
// use a different dimensionality.
func (s *SQLiteIndex) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rag: clear: begin: %w", err)
	}
	if err := s.truncate(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rag: clear: commit: %w", err)
	}
	s.dim = 0
	return nil
}

func (s *SQLiteIndex) truncate(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("rag: clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meta WHERE key = 'dimension'`); err != nil {
		return fmt.Errorf("rag: clear meta: %w", err)
	}
	return s.setMeta(ctx, tx, "fingerprint", s.fingerprint)
}

// Count returns the number of chunks in the current generation.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("rag: count: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *SQLiteIndex) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("rag: close index: %w", err)
	}
	return nil
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// removeDBFiles deletes the database and its WAL side files.
func removeDBFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
