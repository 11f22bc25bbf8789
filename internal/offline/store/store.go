// Package store provides the durable local outbox backed by embedded SQLite.
//
// The store is the only piece of offline state that must survive a process
// restart. It holds two tables:
//
//   - outbox: pending operations, append-only with delete-by-id
//   - cache: opaque cached read views keyed by view name
//
// Every method runs as a single statement, so appends, listings and removals
// are atomic with respect to one another. No transaction spans a sync run: an
// operation disappears from the outbox only when RemoveByID for it has
// committed, which is what makes a crash mid-run safe.
//
// Workflow:
//  1. Open the database once at startup and call InitSchema
//  2. Hand the *DB to the outbox and cache consumers
//  3. Close it on shutdown
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// ErrStorage marks failures of the local database itself. An offline
// mutation that fails with ErrStorage was not queued.
var ErrStorage = errors.New("local storage failure")

// DB wraps the SQLite connection holding the outbox.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the outbox database at path.
//
// The database is opened in WAL mode so readers (pending count polls) do not
// block the writer. The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(filepath.Join(dataDir, "outbox.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %w", ErrStorage, err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrStorage, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrStorage, err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrStorage, err)
	}

	return db, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the outbox and cache tables if they do not exist.
// It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("%w: database is closed", ErrStorage)
	}

	ddl := `
	-- AUTOINCREMENT: ids are never reused, even after the newest row is removed
	CREATE TABLE IF NOT EXISTS outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		enqueued_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		cached_at INTEGER NOT NULL
	);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %w", ErrStorage, err)
	}

	return nil
}

// Append persists a new operation and returns its id.
// Ids are strictly increasing in insertion order.
func (db *DB) Append(ctx context.Context, kind schema.Kind, payload json.RawMessage, enqueuedAt time.Time) (int64, error) {
	if db.conn == nil {
		return 0, fmt.Errorf("%w: database is closed", ErrStorage)
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown operation kind %q", kind)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO outbox (kind, payload, enqueued_at) VALUES (?, ?, ?)`,
		string(kind), string(payload), enqueuedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to append %s operation: %w", ErrStorage, kind, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read id of appended operation: %w", ErrStorage, err)
	}
	return id, nil
}

// ListAll returns every pending operation ordered by id.
//
// The result is fully read before returning, so operations appended while
// the caller iterates are not part of it.
func (db *DB) ListAll(ctx context.Context) ([]schema.QueuedOperation, error) {
	if db.conn == nil {
		return nil, fmt.Errorf("%w: database is closed", ErrStorage)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, kind, payload, enqueued_at FROM outbox ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list outbox: %w", ErrStorage, err)
	}
	defer rows.Close()

	var ops []schema.QueuedOperation
	for rows.Next() {
		var (
			op         schema.QueuedOperation
			kind       string
			payload    string
			enqueuedAt int64
		)
		if err := rows.Scan(&op.ID, &kind, &payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan outbox row: %w", ErrStorage, err)
		}
		// Unknown kinds are kept as-is; the sync engine discards them.
		op.Kind = schema.Kind(kind)
		op.Payload = json.RawMessage(payload)
		op.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate outbox: %w", ErrStorage, err)
	}

	return ops, nil
}

// RemoveByID deletes an operation.
// Returns nil if the operation doesn't exist (idempotent).
func (db *DB) RemoveByID(ctx context.Context, id int64) error {
	if db.conn == nil {
		return fmt.Errorf("%w: database is closed", ErrStorage)
	}

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: failed to remove operation %d: %w", ErrStorage, id, err)
	}
	return nil
}

// Count returns the number of pending operations.
func (db *DB) Count(ctx context.Context) (int, error) {
	if db.conn == nil {
		return 0, fmt.Errorf("%w: database is closed", ErrStorage)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count outbox: %w", ErrStorage, err)
	}
	return count, nil
}
