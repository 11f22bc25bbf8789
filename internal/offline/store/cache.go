package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PutCache stores a read view under key, replacing any previous value.
func (db *DB) PutCache(ctx context.Context, key string, data []byte) error {
	if db.conn == nil {
		return fmt.Errorf("%w: database is closed", ErrStorage)
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO cache (key, data, cached_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		data = excluded.data,
		cached_at = excluded.cached_at
	`, key, data, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: failed to cache %s: %w", ErrStorage, key, err)
	}
	return nil
}

// GetCache returns the cached view for key. The boolean is false when the
// view is not cached.
func (db *DB) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	if db.conn == nil {
		return nil, false, fmt.Errorf("%w: database is closed", ErrStorage)
	}

	var data []byte
	err := db.conn.QueryRowContext(ctx, `SELECT data FROM cache WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to read cache %s: %w", ErrStorage, key, err)
	}
	return data, true, nil
}

// InvalidateCache drops key and every view nested below it ("client" also
// drops "client/acme"). It returns the number of views removed.
func (db *DB) InvalidateCache(ctx context.Context, key string) (int64, error) {
	if db.conn == nil {
		return 0, fmt.Errorf("%w: database is closed", ErrStorage)
	}

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM cache WHERE key = ? OR (key >= ? AND key < ?)`,
		key, key+"/", key+"0", // '0' sorts right after '/'
	)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to invalidate %s: %w", ErrStorage, key, err)
	}
	return res.RowsAffected()
}

// Invalidate drops every listed view. It satisfies the coordinator's
// invalidation hook.
func (db *DB) Invalidate(ctx context.Context, keys []string) error {
	var failed []string
	var errs []error
	for _, key := range keys {
		if _, err := db.InvalidateCache(ctx, key); err != nil {
			failed = append(failed, key)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to invalidate %s: %w", strings.Join(failed, ", "), errors.Join(errs...))
	}
	return nil
}
