// Package store provides the SQLite-backed local cache of objects, schemas,
// tags, ingested calendar/mail data, assets and sync state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS objects (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	type            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	properties      TEXT NOT NULL DEFAULT '[]',
	tags            TEXT NOT NULL DEFAULT '[]',
	updated_at      TEXT NOT NULL,
	remote_file_id  TEXT NOT NULL DEFAULT '',
	remote_revision TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_objects_type ON objects(type);
CREATE INDEX IF NOT EXISTS idx_objects_remote ON objects(remote_file_id);

CREATE TABLE IF NOT EXISTS type_schemas (
	name       TEXT PRIMARY KEY,
	color      TEXT NOT NULL DEFAULT '',
	properties TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS tag_configs (
	name  TEXT PRIMARY KEY,
	color TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS calendar_events (
	id          TEXT PRIMARY KEY,
	calendar_id TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	start_at    TEXT NOT NULL,
	end_at      TEXT NOT NULL,
	location    TEXT NOT NULL DEFAULT '',
	attendees   TEXT NOT NULL DEFAULT '[]',
	object_id   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS mail_messages (
	id          TEXT PRIMARY KEY,
	thread_id   TEXT NOT NULL DEFAULT '',
	sender      TEXT NOT NULL DEFAULT '',
	recipients  TEXT NOT NULL DEFAULT '[]',
	subject     TEXT NOT NULL DEFAULT '',
	snippet     TEXT NOT NULL DEFAULT '',
	received_at TEXT NOT NULL,
	object_id   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assets (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	mime_type      TEXT NOT NULL DEFAULT '',
	checksum       TEXT NOT NULL DEFAULT '',
	data           BLOB,
	remote_file_id TEXT NOT NULL DEFAULT '',
	remote_url     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_assets_checksum ON assets(checksum);

CREATE TABLE IF NOT EXISTS sync_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);
`

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps a sql.DB with store-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database, applies the schema and seeds
// the default type schemas on first run.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.SeedSchemas(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Wipe clears every cached table, including sync state, and re-seeds the
// default type schemas. Used for explicit cache-clear recovery.
func (db *DB) Wipe(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"objects", "type_schemas", "tag_configs", "calendar_events", "mail_messages", "assets", "sync_state"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("store: wipe %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: wipe commit: %w", err)
	}
	return db.SeedSchemas(ctx)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Unix(0, 0)
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
