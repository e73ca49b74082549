// Package postgres snapshots the in-memory blob simulation into a Postgres
// JSONB table. The state is loaded once at open and every save rewrites the
// rows this process knows about, so one process should own a table at a
// time; concurrent writers overwrite each other.
package postgres

import (
	"blobkit/internal/blob/core"
	"blobkit/internal/infra/blob/memory"
	"blobkit/internal/infra/persistence/snapshot"
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/rs/zerolog"
)

// Compile-time contract assertion.
var _ snapshot.Saver = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/blobkit?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store reads and writes memory snapshots in the blob_state table.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	saved map[string]bool
}

// Open connects using dsn (falls back to DefaultDSN) and ensures the
// blob_state table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, saved: make(map[string]bool)}, nil
}

// NewBackend opens dsn and returns a durable memory backend over it.
func NewBackend(ctx context.Context, dsn string, log zerolog.Logger, opts ...memory.Option) (*snapshot.Backend, error) {
	store, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	b, err := snapshot.New(ctx, core.DriverPostgres, store, log, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return b, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS blob_state (
		container TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure blob_state table: %w", err)
	}
	return nil
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
			return memory.Snapshot{}, fmt.Errorf("scan blob_state: %w", err)
		}
		raw[key] = payload
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate blob_state: %w", err)
	}
	snap, err := snapshot.FromRows(raw)
	if err != nil {
		return memory.Snapshot{}, err
	}
	s.mu.Lock()
	for key := range raw {
		s.saved[key] = true
	}
	s.mu.Unlock()
	return snap, nil
}

// Save upserts one row per container and drops rows for deleted containers
// in a single transaction.
func (s *Store) Save(ctx context.Context, snap memory.Snapshot) error {
	rows, err := snapshot.Rows(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	stale := snapshot.Stale(s.saved, rows)
	for _, key := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blob_state WHERE container = $1`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	for key, payload := range rows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO blob_state(container,payload) VALUES($1,$2) ON CONFLICT(container) DO UPDATE SET payload=EXCLUDED.payload`, key, payload); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	for _, key := range stale {
		delete(s.saved, key)
	}
	for key := range rows {
		s.saved[key] = true
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
