package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
)

//go:embed default_schemas.yaml
var defaultSchemasYAML []byte

// DefaultSchemas returns the built-in type schemas seeded at first run.
func DefaultSchemas() ([]models.TypeSchema, error) {
	var out []models.TypeSchema
	if err := yaml.Unmarshal(defaultSchemasYAML, &out); err != nil {
		return nil, fmt.Errorf("store: parse default schemas: %w", err)
	}
	return out, nil
}

// SeedSchemas inserts the default schemas that do not exist yet. Existing
// (possibly user-edited) schemas are left untouched.
func (db *DB) SeedSchemas(ctx context.Context) error {
	defaults, err := DefaultSchemas()
	if err != nil {
		return err
	}
	for _, s := range defaults {
		props, _ := json.Marshal(nonNil(s.Properties))
		if _, err := db.conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO type_schemas (name, color, properties) VALUES (?, ?, ?)`,
			s.Name, s.Color, string(props)); err != nil {
			return fmt.Errorf("store: seed schema %s: %w", s.Name, err)
		}
	}
	return nil
}

// PutSchema inserts or replaces a type schema.
func (db *DB) PutSchema(ctx context.Context, s models.TypeSchema) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("store: %w: %w", apperr.ErrInvalid, err)
	}
	props, _ := json.Marshal(nonNil(s.Properties))
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO type_schemas (name, color, properties) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET color = excluded.color, properties = excluded.properties
	`, s.Name, s.Color, string(props))
	if err != nil {
		return fmt.Errorf("store: put schema: %w", err)
	}
	return nil
}

// GetSchema returns the schema for a type name or apperr.ErrNotFound.
func (db *DB) GetSchema(ctx context.Context, name string) (*models.TypeSchema, error) {
	var (
		s     models.TypeSchema
		props string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT name, color, properties FROM type_schemas WHERE name = ?`, name).
		Scan(&s.Name, &s.Color, &props)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get schema: %w", err)
	}
	if err := json.Unmarshal([]byte(props), &s.Properties); err != nil {
		return nil, fmt.Errorf("store: decode schema %s: %w", name, err)
	}
	return &s, nil
}

// ListSchemas returns every type schema ordered by name.
func (db *DB) ListSchemas(ctx context.Context) ([]models.TypeSchema, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT name, color, properties FROM type_schemas ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list schemas: %w", err)
	}
	defer rows.Close()

	var out []models.TypeSchema
	for rows.Next() {
		var (
			s     models.TypeSchema
			props string
		)
		if err := rows.Scan(&s.Name, &s.Color, &props); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(props), &s.Properties); err != nil {
			return nil, fmt.Errorf("store: decode schema %s: %w", s.Name, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
