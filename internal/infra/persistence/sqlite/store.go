// Package sqlite snapshots the in-memory blob simulation into a single SQLite
// table, one JSON row per container.
package sqlite

import (
	"blobkit/internal/blob/core"
	"blobkit/internal/infra/blob/memory"
	"blobkit/internal/infra/persistence/snapshot"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "blobkit.db"

// Compile-time contract assertion.
var _ snapshot.Saver = (*Store)(nil)

// Store reads and writes memory snapshots in the blob_state table.
type Store struct {
	db    *sql.DB
	path  string
	mu    sync.Mutex
	saved map[string]bool
}

// Open creates the database file and the blob_state table if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blob_state (
		container TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create blob_state table: %w", err)
	}
	return &Store{db: db, path: path, saved: make(map[string]bool)}, nil
}

// NewBackend opens path and returns a durable memory backend over it.
func NewBackend(ctx context.Context, path string, log zerolog.Logger, opts ...memory.Option) (*snapshot.Backend, error) {
	store, err := Open(path)
	if err != nil {
		return nil, err
	}
	b, err := snapshot.New(ctx, core.DriverSQLite, store, log.With().Str("path", store.path).Logger(), opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return b, nil
}

// Load reads every row of blob_state.
func (s *Store) Load(ctx context.Context) (memory.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT container, payload FROM blob_state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select blob_state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	raw := make(map[string][]byte)
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan: %w", err)
		}
		raw[key] = payload
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate blob_state: %w", err)
	}
	s.mu.Lock()
	for key := range raw {
		s.saved[key] = true
	}
	s.mu.Unlock()
	return snapshot.FromRows(raw)
}

// Save upserts one row per container and drops rows for deleted containers.
func (s *Store) Save(ctx context.Context, snap memory.Snapshot) (retErr error) {
	rows, err := snapshot.Rows(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stale := snapshot.Stale(s.saved, rows)
	for _, key := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blob_state WHERE container = ?`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	for key, payload := range rows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO blob_state(container,payload) VALUES(?,?) ON CONFLICT(container) DO UPDATE SET payload=excluded.payload`, key, payload); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, key := range stale {
		delete(s.saved, key)
	}
	for key := range rows {
		s.saved[key] = true
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
