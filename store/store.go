// Package store manages the metadata store connection and schema migrations for previews
// and lifecycle events. it exposes a Store struct that wraps *sql.DB and is passed via
// dependency injection to the orchestrator, reconciler, quota gate, and HTTP handlers.
//
// Wrapping vs. embedding: Store wraps *sql.DB rather than embedding it so the public
// surface stays intentional -- callers only get the high-level preview/event methods
// defined in previews.go and events.go, not raw Exec/Query access. if the backing engine
// ever changed, only this package would change.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	// the underscore import registers the go-sqlite3 driver with database/sql via its
	// init() side effect; the package itself is never referenced directly.
	_ "github.com/mattn/go-sqlite3"
)

// ErrRecordNotFound is returned when no row matches the given identifier. callers map
// this to apierror.ErrNotFound (HTTP 404).
var ErrRecordNotFound = errors.New("record not found")

// ErrAlreadyExists is returned by CreatePreview when a row with the same preview_id
// already exists (the unique index on preview_id fired). this is the metadata store's
// own second line of defense behind the orchestrator's in-process per-id mutex, per
// SPEC_FULL.md §5's "Serialization" note.
var ErrAlreadyExists = errors.New("record already exists")

// Store wraps the metadata store connection.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
}

// schema is the DDL for both tables. IF NOT EXISTS makes it safe to run on every startup.
// JSON-valued columns (services, database, urls, env) are stored as TEXT and
// marshaled/unmarshaled at the Go boundary, matching the teacher's preference for raw SQL
// and explicit struct handling over an ORM or a normalized child-table schema.
const schema = `
CREATE TABLE IF NOT EXISTS previews (
    preview_id          TEXT PRIMARY KEY,
    owner_id            TEXT NOT NULL,
    kind                TEXT NOT NULL,
    pull_request_number INTEGER,
    repo_owner          TEXT NOT NULL,
    repo_name           TEXT NOT NULL,
    branch              TEXT NOT NULL,
    commit_sha          TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL,
    services_json       TEXT NOT NULL DEFAULT '[]',
    database_json       TEXT,
    urls_json           TEXT NOT NULL DEFAULT '{}',
    env_json            TEXT NOT NULL DEFAULT '{}',
    password            TEXT,
    created_at          DATETIME NOT NULL,
    updated_at          DATETIME NOT NULL,
    last_accessed_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    preview_ref         TEXT NOT NULL,
    pull_request_number INTEGER,
    type                TEXT NOT NULL,
    message             TEXT NOT NULL,
    metadata_json       TEXT,
    created_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_preview_created
    ON events (preview_ref, created_at DESC);
`

// Open opens the metadata store at the given file path, runs the schema migration, and
// returns a ready-to-use *Store. the parent directory is created if it does not exist.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata store directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store at %q: %w", dbPath, err)
	}

	// SQLite does not support concurrent writes from multiple connections; capping the
	// pool at a single connection avoids "database is locked" errors under the
	// orchestrator's concurrent-but-per-id-serialized write pattern.
	conn.SetMaxOpenConns(1)

	store := &Store{conn: conn, logger: logger}

	if _, err := store.conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("metadata store schema migration failed: %w", err)
	}

	logger.Info("metadata store opened and schema migrated", "path", dbPath)
	return store, nil
}

// Close releases the underlying connection pool. should be deferred in main.go immediately
// after Open returns successfully.
func (s *Store) Close() error {
	return s.conn.Close()
}
