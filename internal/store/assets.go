package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/checksum"
	"github.com/starford/loom/internal/models"
)

// PutAsset stores a local-only asset and returns it. Identical content is
// deduplicated by checksum and the existing asset is returned.
func (db *DB) PutAsset(ctx context.Context, name, mimeType string, data []byte) (*models.Asset, error) {
	sum := checksum.Sum(data)
	if existing, err := db.assetBy(ctx, `checksum = ?`, sum); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	a := &models.Asset{
		ID:       uuid.NewString(),
		Name:     name,
		MIMEType: mimeType,
		Checksum: sum,
		Data:     data,
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO assets (id, name, mime_type, checksum, data) VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.MIMEType, a.Checksum, a.Data)
	if err != nil {
		return nil, fmt.Errorf("store: put asset: %w", err)
	}
	return a, nil
}

// GetAsset returns an asset by id or apperr.ErrNotFound.
func (db *DB) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return db.assetBy(ctx, `id = ?`, id)
}

// MarkAssetUploaded records the remote location of an asset.
func (db *DB) MarkAssetUploaded(ctx context.Context, id, fileID, url string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE assets SET remote_file_id = ?, remote_url = ? WHERE id = ?`, fileID, url, id)
	if err != nil {
		return fmt.Errorf("store: mark asset uploaded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (db *DB) assetBy(ctx context.Context, cond string, arg any) (*models.Asset, error) {
	var a models.Asset
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, name, mime_type, checksum, data, remote_file_id, remote_url
		FROM assets WHERE `+cond+` LIMIT 1
	`, arg).Scan(&a.ID, &a.Name, &a.MIMEType, &a.Checksum, &a.Data, &a.RemoteFileID, &a.RemoteURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get asset: %w", err)
	}
	return &a, nil
}
