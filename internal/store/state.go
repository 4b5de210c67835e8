package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Well-known sync_state keys.
const (
	KeyChangeCursor = "change_cursor"
	KeyRootFolder   = "folder:root"
	KeyLastSync     = "last_sync"
)

// FolderKey returns the sync_state key caching a type folder id.
func FolderKey(typeName string) string {
	return "folder:type:" + typeName
}

// GetState returns the value stored under key, or "" when unset.
func (db *DB) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get state %s: %w", key, err)
	}
	return v, nil
}

// SetState stores value under key.
func (db *DB) SetState(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: set state %s: %w", key, err)
	}
	return nil
}
