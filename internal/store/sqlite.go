package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// SchemaVersion is bumped whenever the schema below changes shape.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS collections (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	id            TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL,
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (collection_id, id)
);

CREATE TABLE IF NOT EXISTS results (
	result_id     TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at);

CREATE TABLE IF NOT EXISTS feedback (
	id            TEXT PRIMARY KEY,
	result_id     TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	document_id   TEXT NOT NULL DEFAULT '',
	strategy      TEXT NOT NULL,
	kind          TEXT NOT NULL,
	rating        REAL,
	comment       TEXT NOT NULL DEFAULT '',
	user_id       TEXT NOT NULL DEFAULT '',
	polarity      INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_result ON feedback(result_id);
CREATE INDEX IF NOT EXISTS idx_feedback_attribution ON feedback(collection_id, strategy);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore persists collections, documents, result provenance,
// feedback and settings in one SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path. An empty path
// opens a private in-memory database.
func Open(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, kberrors.StorageError("create data directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kberrors.StorageError("open database", err)
	}

	// One connection: writes are serialised and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, kberrors.StorageError("set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return kberrors.StorageError("initialize schema", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return kberrors.StorageError("read schema version", err)
	}
	if version > SchemaVersion {
		return kberrors.New(kberrors.ErrCodeStorageCorrupt,
			fmt.Sprintf("database schema v%d is newer than supported v%d", version, SchemaVersion), nil)
	}
	if version < SchemaVersion {
		if _, err := s.db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
			return kberrors.StorageError("write schema version", err)
		}
	}
	return nil
}

// DB exposes the handle so telemetry can share the database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database path, or "" for in-memory stores.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kberrors.StorageError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return kberrors.StorageError("commit transaction", err)
	}
	return nil
}
