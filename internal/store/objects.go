package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
)

// ObjectFilter narrows ListObjects. Zero values mean "no filter".
type ObjectFilter struct {
	Type   string
	Tag    string
	Query  string
	Sort   string // "updated_at" (default, newest first), "title"
	Limit  int
	Offset int
}

// SearchResult represents one substring search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Type    string `json:"type"`
	Snippet string `json:"snippet"`
}

const objectColumns = `id, title, type, content, properties, tags, updated_at, remote_file_id, remote_revision`

// UpsertObject validates obj and inserts or replaces it.
func (db *DB) UpsertObject(ctx context.Context, obj *models.Object) error {
	if err := obj.Validate(); err != nil {
		return fmt.Errorf("store: %w: %w", apperr.ErrInvalid, err)
	}
	props, err := json.Marshal(nonNil(obj.Properties))
	if err != nil {
		return fmt.Errorf("store: marshal properties: %w", err)
	}
	tags, _ := json.Marshal(nonNil(obj.Tags))

	var fileID, revision string
	if obj.Remote != nil {
		fileID, revision = obj.Remote.FileID, obj.Remote.Revision
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO objects (`+objectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title           = excluded.title,
			type            = excluded.type,
			content         = excluded.content,
			properties      = excluded.properties,
			tags            = excluded.tags,
			updated_at      = excluded.updated_at,
			remote_file_id  = excluded.remote_file_id,
			remote_revision = excluded.remote_revision
	`, obj.ID, obj.Title, obj.Type, obj.Content, string(props), string(tags),
		formatTime(obj.UpdatedAt), fileID, revision)
	if err != nil {
		return fmt.Errorf("store: upsert object: %w", err)
	}
	return nil
}

// SetRemote records the remote reference of an already stored object
// without touching its content.
func (db *DB) SetRemote(ctx context.Context, id string, ref models.RemoteRef) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE objects SET remote_file_id = ?, remote_revision = ? WHERE id = ?`,
		ref.FileID, ref.Revision, id)
	if err != nil {
		return fmt.Errorf("store: set remote: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// GetObject returns the object with the given id or apperr.ErrNotFound.
func (db *DB) GetObject(ctx context.Context, id string) (*models.Object, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return obj, err
}

// FindByRemoteID returns the object whose remote reference matches fileID.
func (db *DB) FindByRemoteID(ctx context.Context, fileID string) (*models.Object, error) {
	if fileID == "" {
		return nil, apperr.ErrNotFound
	}
	row := db.conn.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE remote_file_id = ?`, fileID)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return obj, err
}

// DeleteObject removes an object. Deleting a missing object is not an error.
func (db *DB) DeleteObject(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete object: %w", err)
	}
	return nil
}

// AllObjects returns every stored object, newest first.
func (db *DB) AllObjects(ctx context.Context) ([]*models.Object, error) {
	objs, _, err := db.ListObjects(ctx, ObjectFilter{Limit: -1})
	return objs, err
}

// ListObjects returns a filtered page of objects and the total match count.
func (db *DB) ListObjects(ctx context.Context, f ObjectFilter) ([]*models.Object, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, `type = ?`)
		args = append(args, f.Type)
	}
	if f.Tag != "" {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(objects.tags) WHERE json_each.value = ?)`)
		args = append(args, f.Tag)
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		where = append(where, `(title LIKE ? OR content LIKE ?)`)
		args = append(args, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM objects`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count objects: %w", err)
	}

	order := ` ORDER BY updated_at DESC, id`
	if f.Sort == "title" {
		order = ` ORDER BY title COLLATE NOCASE, id`
	}
	limit := f.Limit
	if limit == 0 {
		limit = 50
	}
	query := `SELECT ` + objectColumns + ` FROM objects` + clause + order + ` LIMIT ? OFFSET ?`
	rows, err := db.conn.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list objects: %w", err)
	}
	defer rows.Close()

	var out []*models.Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, obj)
	}
	return out, total, rows.Err()
}

// Search performs a case-insensitive substring search over titles, content
// and tags.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, type, substr(content, 1, 200)
		FROM objects
		WHERE title LIKE ? OR content LIKE ? OR tags LIKE ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Title, &r.Type, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (*models.Object, error) {
	var (
		obj                      models.Object
		props, tags, updated     string
		remoteFileID, remoteRevs string
	)
	if err := row.Scan(&obj.ID, &obj.Title, &obj.Type, &obj.Content, &props, &tags, &updated, &remoteFileID, &remoteRevs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(props), &obj.Properties); err != nil {
		return nil, fmt.Errorf("store: decode properties of %s: %w", obj.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &obj.Tags); err != nil {
		return nil, fmt.Errorf("store: decode tags of %s: %w", obj.ID, err)
	}
	obj.UpdatedAt = parseTime(updated)
	if remoteFileID != "" {
		obj.Remote = &models.RemoteRef{FileID: remoteFileID, Revision: remoteRevs}
	}
	return &obj, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
