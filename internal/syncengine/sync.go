package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/store"
)

// Report summarises a sync pass.
type Report struct {
	Imported int    `json:"imported"`
	Deleted  int    `json:"deleted"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Cursor   string `json:"cursor"`
}

func (r Report) data() map[string]string {
	return map[string]string{
		"imported": strconv.Itoa(r.Imported),
		"deleted":  strconv.Itoa(r.Deleted),
		"failed":   strconv.Itoa(r.Failed),
	}
}

// FullResync imports every remote document under the root folder and then
// stores a fresh change cursor. Objects already imported stay in place if
// it fails partway. It aborts once ResyncErrorThreshold documents in a row
// have failed.
func (e *Engine) FullResync(ctx context.Context) (Report, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	var rep Report
	if e.Offline() {
		return rep, apperr.ErrOffline
	}
	if e.remote.RootFolderID() == "" {
		if err := e.Bootstrap(ctx); err != nil {
			return rep, err
		}
	}

	files, err := e.remote.ListAllRecursive(ctx, e.remote.RootFolderID())
	if err != nil {
		return rep, fmt.Errorf("sync: full resync: %w", err)
	}

	consecutive := 0
	for _, f := range files {
		if f.IsFolder() {
			continue
		}
		imported, err := e.importFile(ctx, f.ID)
		if err != nil {
			rep.Failed++
			consecutive++
			e.logger.Warn("sync: import failed",
				slog.String("file_id", f.ID),
				slog.String("error", err.Error()))
			if consecutive >= e.opts.ResyncErrorThreshold {
				return rep, fmt.Errorf("sync: full resync aborted after %d consecutive failures: %w", consecutive, err)
			}
			continue
		}
		consecutive = 0
		if imported {
			rep.Imported++
		} else {
			rep.Skipped++
		}
	}

	cursor, err := e.remote.StartCursor(ctx)
	if err != nil {
		return rep, err
	}
	if err := e.saveCursor(ctx, cursor); err != nil {
		return rep, err
	}
	rep.Cursor = cursor

	e.logger.Info("sync: full resync complete",
		slog.Int("imported", rep.Imported),
		slog.Int("failed", rep.Failed))
	e.notify(EventSyncCompleted, rep.data())
	return rep, nil
}

// IncrementalSync applies the changes recorded since the stored cursor.
// Without a stored cursor it falls back to a full resync. The cursor
// advances to the feed's next position even when individual records fail;
// it stays unchanged only when the feed itself cannot be fetched.
func (e *Engine) IncrementalSync(ctx context.Context) (Report, error) {
	if e.Offline() {
		return Report{}, apperr.ErrOffline
	}
	e.syncMu.Lock()
	cursor, err := e.store.GetState(ctx, store.KeyChangeCursor)
	if err != nil {
		e.syncMu.Unlock()
		return Report{}, err
	}
	if cursor == "" {
		e.syncMu.Unlock()
		e.logger.Info("sync: no change cursor, running full resync")
		return e.FullResync(ctx)
	}
	defer e.syncMu.Unlock()

	rep := Report{Cursor: cursor}
	feed, err := e.remote.FetchChanges(ctx, cursor)
	if err != nil {
		return rep, fmt.Errorf("sync: fetch changes: %w", err)
	}

	for _, ch := range feed.Changes {
		if err := e.applyChange(ctx, ch.FileID, ch.Removed, ch.File != nil && ch.File.IsFolder(), &rep); err != nil {
			rep.Failed++
			e.logger.Warn("sync: change failed",
				slog.String("file_id", ch.FileID),
				slog.Bool("removed", ch.Removed),
				slog.String("error", err.Error()))
		}
	}

	if err := e.saveCursor(ctx, feed.NextCursor); err != nil {
		return rep, err
	}
	rep.Cursor = feed.NextCursor

	if rep.Failed > 0 {
		e.notify(EventSyncDegraded, rep.data())
	}
	e.notify(EventSyncCompleted, rep.data())
	e.logger.Info("sync: incremental sync complete",
		slog.Int("changes", len(feed.Changes)),
		slog.Int("imported", rep.Imported),
		slog.Int("deleted", rep.Deleted),
		slog.Int("failed", rep.Failed))
	return rep, nil
}

func (e *Engine) applyChange(ctx context.Context, fileID string, removed, folder bool, rep *Report) error {
	if removed {
		obj, err := e.store.FindByRemoteID(ctx, fileID)
		if errors.Is(err, apperr.ErrNotFound) {
			rep.Skipped++
			return nil
		}
		if err != nil {
			return err
		}
		if err := e.store.DeleteObject(ctx, obj.ID); err != nil {
			return err
		}
		rep.Deleted++
		e.notify(EventObjectDeleted, map[string]string{"id": obj.ID})
		return nil
	}
	if folder {
		rep.Skipped++
		return nil
	}
	imported, err := e.importFile(ctx, fileID)
	if err != nil {
		return err
	}
	if imported {
		rep.Imported++
	} else {
		rep.Skipped++
	}
	return nil
}

// importFile reads one remote document and upserts it. It reports false for
// non-document files.
func (e *Engine) importFile(ctx context.Context, fileID string) (bool, error) {
	obj, err := e.remote.ReadObject(ctx, fileID)
	if err != nil {
		return false, err
	}
	if obj == nil {
		return false, nil
	}
	if err := e.upsertRemote(ctx, obj); err != nil {
		return false, err
	}
	e.notify(EventObjectSaved, map[string]string{"id": obj.ID})
	return true, nil
}

// upsertRemote stores a remote object. A different local object already
// bound to the same file is replaced so one file never maps to two ids.
func (e *Engine) upsertRemote(ctx context.Context, obj *models.Object) error {
	if existing, err := e.store.FindByRemoteID(ctx, obj.Remote.FileID); err == nil && existing.ID != obj.ID {
		if err := e.store.DeleteObject(ctx, existing.ID); err != nil {
			return err
		}
	}
	if obj.UpdatedAt.IsZero() {
		obj.UpdatedAt = e.opts.Now().UTC()
	}
	return e.store.UpsertObject(ctx, obj)
}

// saveCursor records the sync position. Concurrent sessions overwrite each
// other's cursor; the last write wins.
func (e *Engine) saveCursor(ctx context.Context, cursor string) error {
	if err := e.store.SetState(ctx, store.KeyChangeCursor, cursor); err != nil {
		return err
	}
	return e.store.SetState(ctx, store.KeyLastSync, e.opts.Now().UTC().Format(time.RFC3339Nano))
}
