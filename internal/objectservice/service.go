// Package objectservice is the application layer shared by the REST API and
// the MCP server. Reads go to the local store; writes go through the sync
// engine.
package objectservice

import (
	"context"
	"errors"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/checksum"
	"github.com/starford/loom/internal/graph"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/store"
	"github.com/starford/loom/internal/syncengine"
)

// ObjectDetail is the full representation of an object.
type ObjectDetail struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Type       string            `json:"type"`
	Content    string            `json:"content"`
	Properties []models.Property `json:"properties"`
	Tags       []string          `json:"tags"`
	Remote     *models.RemoteRef `json:"remote,omitempty"`
	Checksum   string            `json:"checksum"`
	Backlinks  []links.Group     `json:"backlinks"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ObjectListItem is a lightweight item in a list response.
type ObjectListItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Tags      []string  `json:"tags"`
	Synced    bool      `json:"synced"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ObjectInput carries the user-editable fields of an object.
type ObjectInput struct {
	ID         string            `json:"id,omitempty"`
	Title      string            `json:"title"`
	Type       string            `json:"type"`
	Content    string            `json:"content"`
	Properties []models.Property `json:"properties,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
}

// Service coordinates the store and the sync engine.
type Service struct {
	db     *store.DB
	engine *syncengine.Engine
}

// NewService creates a new object service.
func NewService(db *store.DB, engine *syncengine.Engine) *Service {
	return &Service{db: db, engine: engine}
}

// Checksum returns the optimistic-concurrency tag of an object. Only the
// user-editable fields take part, so a push that merely records the remote
// revision does not invalidate a client's ETag.
func Checksum(obj *models.Object) string {
	sum, _ := checksum.JSON(struct {
		Title      string            `json:"title"`
		Type       string            `json:"type"`
		Content    string            `json:"content"`
		Properties []models.Property `json:"properties"`
		Tags       []string          `json:"tags"`
	}{obj.Title, obj.Type, obj.Content, obj.Properties, obj.Tags})
	return sum
}

// GetObject reads an object and enriches it with backlinks.
func (s *Service) GetObject(ctx context.Context, id string) (*ObjectDetail, error) {
	obj, err := s.db.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.buildDetail(ctx, obj)
}

// CreateObject saves a new object. Properties default to the type schema's.
// A *syncengine.DegradedError is returned alongside the detail when the
// push failed after the local write.
func (s *Service) CreateObject(ctx context.Context, in ObjectInput) (*ObjectDetail, error) {
	if in.ID != "" {
		if _, err := s.db.GetObject(ctx, in.ID); err == nil {
			return nil, apperr.ErrAlreadyExists
		}
	}
	if in.Type == "" {
		in.Type = "Note"
	}
	obj := &models.Object{
		ID:         in.ID,
		Title:      in.Title,
		Type:       in.Type,
		Content:    in.Content,
		Properties: in.Properties,
		Tags:       in.Tags,
	}
	if len(obj.Properties) == 0 {
		schema, err := s.db.GetSchema(ctx, in.Type)
		if err == nil {
			obj.Properties = schema.NewProperties()
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}
	return s.save(ctx, obj)
}

// UpdateObject replaces the editable fields with optimistic concurrency.
func (s *Service) UpdateObject(ctx context.Context, id string, in ObjectInput, ifMatch string) (*ObjectDetail, error) {
	existing, err := s.db.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != Checksum(existing) {
		return nil, apperr.ErrConflict
	}
	obj := existing.Clone()
	obj.Title = in.Title
	obj.Content = in.Content
	obj.Tags = in.Tags
	if in.Type != "" {
		obj.Type = in.Type
	}
	if in.Properties != nil {
		obj.Properties = in.Properties
	}
	return s.save(ctx, obj)
}

func (s *Service) save(ctx context.Context, obj *models.Object) (*ObjectDetail, error) {
	saved, err := s.engine.Save(ctx, obj)
	var degraded *syncengine.DegradedError
	if err != nil && !errors.As(err, &degraded) {
		return nil, err
	}
	detail, buildErr := s.buildDetail(ctx, saved)
	if buildErr != nil {
		return nil, buildErr
	}
	return detail, err
}

// DeleteObject removes an object locally and, best effort, remotely.
func (s *Service) DeleteObject(ctx context.Context, id string) error {
	return s.engine.Delete(ctx, id)
}

// ListObjects returns a filtered page of objects.
func (s *Service) ListObjects(ctx context.Context, f store.ObjectFilter) ([]ObjectListItem, int, error) {
	rows, total, err := s.db.ListObjects(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	items := make([]ObjectListItem, len(rows))
	for i, o := range rows {
		items[i] = ObjectListItem{
			ID:        o.ID,
			Title:     o.Title,
			Type:      o.Type,
			Tags:      nonNilSlice(o.Tags),
			Synced:    o.Synced(),
			Checksum:  Checksum(o),
			UpdatedAt: o.UpdatedAt,
		}
	}
	return items, total, nil
}

// Search delegates substring search to the store.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	return s.db.Search(ctx, query, limit)
}

// Backlinks returns the objects mentioning id.
func (s *Service) Backlinks(ctx context.Context, id string) ([]links.Group, error) {
	if _, err := s.db.GetObject(ctx, id); err != nil {
		return nil, err
	}
	groups, err := s.engine.Backlinks(ctx, id)
	return nonNilSlice(groups), err
}

// Graph returns the relationship graph.
func (s *Service) Graph(ctx context.Context) (graph.Graph, error) {
	return s.engine.Graph(ctx)
}

// Schemas lists every type schema.
func (s *Service) Schemas(ctx context.Context) ([]models.TypeSchema, error) {
	return s.db.ListSchemas(ctx)
}

// PutSchema creates or replaces a type schema.
func (s *Service) PutSchema(ctx context.Context, schema models.TypeSchema) error {
	return s.db.PutSchema(ctx, schema)
}

// Tags lists tag configurations.
func (s *Service) Tags(ctx context.Context) ([]models.TagConfig, error) {
	return s.db.ListTags(ctx)
}

// PutTag creates or replaces a tag configuration.
func (s *Service) PutTag(ctx context.Context, tag models.TagConfig) error {
	return s.db.PutTag(ctx, tag)
}

// CalendarEvents lists ingested calendar events.
func (s *Service) CalendarEvents(ctx context.Context) ([]models.CalendarEvent, error) {
	return s.db.ListCalendarEvents(ctx)
}

// MailMessages lists ingested mail messages.
func (s *Service) MailMessages(ctx context.Context) ([]models.MailMessage, error) {
	return s.db.ListMailMessages(ctx)
}

// PutAsset stores a local asset; it is uploaded on the next push of an
// object that references it.
func (s *Service) PutAsset(ctx context.Context, name, mimeType string, data []byte) (*models.Asset, error) {
	return s.db.PutAsset(ctx, name, mimeType, data)
}

// GetAsset returns a stored asset.
func (s *Service) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return s.db.GetAsset(ctx, id)
}

// Sync runs an incremental sync pass.
func (s *Service) Sync(ctx context.Context) (syncengine.Report, error) {
	return s.engine.IncrementalSync(ctx)
}

// Resync wipes the local cache and rebuilds it from the remote.
func (s *Service) Resync(ctx context.Context) error {
	return s.engine.ClearCache(ctx)
}

// Status reports the sync engine status.
func (s *Service) Status(ctx context.Context) (syncengine.Status, error) {
	return s.engine.Status(ctx)
}

func (s *Service) buildDetail(ctx context.Context, obj *models.Object) (*ObjectDetail, error) {
	groups, err := s.engine.Backlinks(ctx, obj.ID)
	if err != nil {
		return nil, err
	}
	return &ObjectDetail{
		ID:         obj.ID,
		Title:      obj.Title,
		Type:       obj.Type,
		Content:    obj.Content,
		Properties: nonNilSlice(obj.Properties),
		Tags:       nonNilSlice(obj.Tags),
		Remote:     obj.Remote,
		Checksum:   Checksum(obj),
		Backlinks:  nonNilSlice(groups),
		UpdatedAt:  obj.UpdatedAt,
	}, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
