package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starford/loom/internal/models"
)

// PutTag inserts or replaces a tag configuration.
func (db *DB) PutTag(ctx context.Context, t models.TagConfig) error {
	if t.Name == "" {
		return fmt.Errorf("store: tag name is required")
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tag_configs (name, color) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET color = excluded.color
	`, t.Name, t.Color)
	if err != nil {
		return fmt.Errorf("store: put tag: %w", err)
	}
	return nil
}

// ListTags returns every tag configuration ordered by name.
func (db *DB) ListTags(ctx context.Context) ([]models.TagConfig, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT name, color FROM tag_configs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list tags: %w", err)
	}
	defer rows.Close()

	var out []models.TagConfig
	for rows.Next() {
		var t models.TagConfig
		if err := rows.Scan(&t.Name, &t.Color); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertCalendarEvent stores an ingested calendar event.
func (db *DB) UpsertCalendarEvent(ctx context.Context, e models.CalendarEvent) error {
	attendees, _ := json.Marshal(nonNil(e.Attendees))
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO calendar_events
			(id, calendar_id, title, start_at, end_at, location, attendees, object_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CalendarID, e.Title, formatTime(e.Start), formatTime(e.End), e.Location, string(attendees), e.ObjectID)
	if err != nil {
		return fmt.Errorf("store: upsert calendar event: %w", err)
	}
	return nil
}

// ListCalendarEvents returns events ordered by start time.
func (db *DB) ListCalendarEvents(ctx context.Context) ([]models.CalendarEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, calendar_id, title, start_at, end_at, location, attendees, object_id
		FROM calendar_events ORDER BY start_at
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list calendar events: %w", err)
	}
	defer rows.Close()

	var out []models.CalendarEvent
	for rows.Next() {
		var (
			e                        models.CalendarEvent
			start, end, attendeesRaw string
		)
		if err := rows.Scan(&e.ID, &e.CalendarID, &e.Title, &start, &end, &e.Location, &attendeesRaw, &e.ObjectID); err != nil {
			return nil, err
		}
		e.Start, e.End = parseTime(start), parseTime(end)
		_ = json.Unmarshal([]byte(attendeesRaw), &e.Attendees)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertMailMessage stores an ingested mail message.
func (db *DB) UpsertMailMessage(ctx context.Context, m models.MailMessage) error {
	to, _ := json.Marshal(nonNil(m.To))
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO mail_messages
			(id, thread_id, sender, recipients, subject, snippet, received_at, object_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ThreadID, m.From, string(to), m.Subject, m.Snippet, formatTime(m.ReceivedAt), m.ObjectID)
	if err != nil {
		return fmt.Errorf("store: upsert mail message: %w", err)
	}
	return nil
}

// ListMailMessages returns messages newest first.
func (db *DB) ListMailMessages(ctx context.Context) ([]models.MailMessage, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, thread_id, sender, recipients, subject, snippet, received_at, object_id
		FROM mail_messages ORDER BY received_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list mail messages: %w", err)
	}
	defer rows.Close()

	var out []models.MailMessage
	for rows.Next() {
		var (
			m            models.MailMessage
			to, received string
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.From, &to, &m.Subject, &m.Snippet, &received, &m.ObjectID); err != nil {
			return nil, err
		}
		m.ReceivedAt = parseTime(received)
		_ = json.Unmarshal([]byte(to), &m.To)
		out = append(out, m)
	}
	return out, rows.Err()
}
