package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/graph"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/models"
)

// NewObject creates and saves an object of the given type, seeded with the
// type schema's properties. Types without a schema get no properties.
func (e *Engine) NewObject(ctx context.Context, typ, title string) (*models.Object, error) {
	if strings.TrimSpace(typ) == "" {
		typ = "Note"
	}
	obj := &models.Object{ID: uuid.NewString(), Title: title, Type: typ}
	schema, err := e.store.GetSchema(ctx, typ)
	switch {
	case err == nil:
		obj.Properties = schema.NewProperties()
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	return e.Save(ctx, obj)
}

// Save writes obj to the local store and then, unless offline, pushes it to
// the remote: create when it has no remote reference, update otherwise.
//
// The local write is never rolled back. A push failure is returned as a
// *DegradedError together with the saved object.
func (e *Engine) Save(ctx context.Context, obj *models.Object) (*models.Object, error) {
	obj = obj.Clone()
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}
	if obj.Remote == nil {
		existing, err := e.store.GetObject(ctx, obj.ID)
		switch {
		case err == nil:
			obj.Remote = existing.Remote
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}
	obj.UpdatedAt = e.opts.Now().UTC()

	if err := e.store.UpsertObject(ctx, obj); err != nil {
		return nil, err
	}
	e.notify(EventObjectSaved, map[string]string{"id": obj.ID})

	if e.Offline() {
		return obj, nil
	}

	op := "update"
	if obj.Remote == nil {
		op = "create"
	}
	ref, err := e.push(ctx, obj)
	if err != nil {
		e.logger.Warn("sync: push failed",
			slog.String("id", obj.ID),
			slog.String("op", op),
			slog.String("error", err.Error()))
		e.notify(EventSyncDegraded, map[string]string{"id": obj.ID, "op": op, "error": err.Error()})
		return obj, &DegradedError{Op: op, ObjectID: obj.ID, Err: err}
	}

	if err := e.store.SetRemote(ctx, obj.ID, ref); err != nil {
		return obj, &DegradedError{Op: op, ObjectID: obj.ID, Err: err}
	}
	obj.Remote = &ref
	e.logger.Debug("sync: pushed",
		slog.String("id", obj.ID),
		slog.String("op", op),
		slog.String("file_id", ref.FileID))
	return obj, nil
}

// push rewrites the content for upload and sends it. Mention rewriting runs
// sequentially over the markup tree; asset failures are logged and the
// image keeps its local marker.
func (e *Engine) push(ctx context.Context, obj *models.Object) (models.RemoteRef, error) {
	prepared := obj.Clone()
	content, err := e.rewriter.Rewrite(ctx, obj.Content, e.uploadAsset)
	if err != nil {
		e.logger.Warn("sync: content rewrite incomplete",
			slog.String("id", obj.ID),
			slog.String("error", err.Error()))
	}
	prepared.Content = content

	var ref models.RemoteRef
	err = e.withBootstrap(ctx, func() error {
		var pushErr error
		if prepared.Remote == nil {
			ref, pushErr = e.remote.CreateObject(ctx, prepared)
		} else {
			ref, pushErr = e.remote.UpdateObject(ctx, *prepared.Remote, prepared)
		}
		return pushErr
	})
	return ref, err
}

// uploadAsset uploads a local asset once and returns its public URL.
func (e *Engine) uploadAsset(ctx context.Context, id string) (string, error) {
	a, err := e.store.GetAsset(ctx, id)
	if err != nil {
		return "", err
	}
	if a.Uploaded() {
		return a.RemoteURL, nil
	}
	var fileID, url string
	err = e.withBootstrap(ctx, func() error {
		var upErr error
		fileID, url, upErr = e.remote.UploadAsset(ctx, a)
		return upErr
	})
	if err != nil {
		return "", err
	}
	if err := e.store.MarkAssetUploaded(ctx, id, fileID, url); err != nil {
		return "", err
	}
	e.logger.Debug("sync: asset uploaded", slog.String("asset_id", id), slog.String("file_id", fileID))
	return url, nil
}

// Delete removes the object locally and then makes a best-effort attempt to
// delete its remote document. Remote failures are logged, never returned.
func (e *Engine) Delete(ctx context.Context, id string) error {
	obj, err := e.store.GetObject(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteObject(ctx, id); err != nil {
		return fmt.Errorf("sync: delete %s: %w", id, err)
	}
	e.notify(EventObjectDeleted, map[string]string{"id": id})

	if obj.Remote == nil || e.Offline() {
		return nil
	}
	if err := e.remote.DeleteFile(ctx, obj.Remote.FileID); err != nil {
		e.logger.Warn("sync: remote delete failed",
			slog.String("id", id),
			slog.String("file_id", obj.Remote.FileID),
			slog.String("error", err.Error()))
		e.notify(EventSyncDegraded, map[string]string{"id": id, "op": "delete", "error": err.Error()})
	}
	return nil
}

// Backlinks returns the objects mentioning id, grouped by source.
func (e *Engine) Backlinks(ctx context.Context, id string) ([]links.Group, error) {
	objects, err := e.store.AllObjects(ctx)
	if err != nil {
		return nil, err
	}
	return links.Backlinks(id, objects, e.opts.Window), nil
}

// Graph projects the current store into a node/edge graph.
func (e *Engine) Graph(ctx context.Context) (graph.Graph, error) {
	objects, err := e.store.AllObjects(ctx)
	if err != nil {
		return graph.Graph{}, err
	}
	return graph.Build(objects), nil
}
