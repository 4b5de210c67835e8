// Package syncengine keeps the local store and the remote document provider
// consistent: it bootstraps the remote folder layout, pushes local saves,
// imports the full remote tree and applies the change feed.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/codec"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/remote"
	"github.com/starford/loom/internal/store"
)

// State of the engine's connection to the remote provider.
type State int32

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	}
	return "uninitialized"
}

// Event kinds sent to the Notifier.
const (
	EventObjectSaved   = "object.saved"
	EventObjectDeleted = "object.deleted"
	EventSyncCompleted = "sync.completed"
	EventSyncDegraded  = "sync.degraded"
)

// Store is the part of the local store the engine uses.
type Store interface {
	store.ObjectStore
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	GetSchema(ctx context.Context, name string) (*models.TypeSchema, error)
	ListSchemas(ctx context.Context) ([]models.TypeSchema, error)
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	MarkAssetUploaded(ctx context.Context, id, fileID, url string) error
	Wipe(ctx context.Context) error
}

// Remote is the document provider client.
type Remote interface {
	EnsureFolderStructure(ctx context.Context, types []string) error
	RootFolderID() string
	Folders() map[string]string
	Reset()
	CreateObject(ctx context.Context, obj *models.Object) (models.RemoteRef, error)
	UpdateObject(ctx context.Context, ref models.RemoteRef, obj *models.Object) (models.RemoteRef, error)
	ReadObject(ctx context.Context, fileID string) (*models.Object, error)
	DeleteFile(ctx context.Context, fileID string) error
	ListAllRecursive(ctx context.Context, folderID string) ([]remote.File, error)
	StartCursor(ctx context.Context) (string, error)
	FetchChanges(ctx context.Context, cursor string) (remote.ChangeFeed, error)
	UploadAsset(ctx context.Context, a *models.Asset) (fileID, url string, err error)
}

// Rewriter prepares content for upload.
type Rewriter interface {
	Rewrite(ctx context.Context, content string, upload codec.AssetUploader) (string, error)
}

// Notifier receives engine events.
type Notifier interface {
	Notify(kind string, data map[string]string)
}

// Options configure an Engine.
type Options struct {
	// Offline reports whether remote calls are disabled. It is consulted on
	// every operation.
	Offline func() bool
	// ResyncErrorThreshold is the number of consecutive document failures
	// after which a full resync aborts.
	ResyncErrorThreshold int
	// Window is the backlink context size in runes.
	Window   int
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine coordinates local writes with the remote provider.
type Engine struct {
	store    Store
	remote   Remote
	rewriter Rewriter
	opts     Options
	logger   *slog.Logger

	state atomic.Int32
	// syncMu serialises sync passes; bootMu serialises bootstraps.
	syncMu sync.Mutex
	bootMu sync.Mutex
}

// New creates an Engine.
func New(s Store, r Remote, rw Rewriter, opts Options) *Engine {
	if opts.Offline == nil {
		opts.Offline = func() bool { return false }
	}
	if opts.ResyncErrorThreshold <= 0 {
		opts.ResyncErrorThreshold = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{store: s, remote: r, rewriter: rw, opts: opts, logger: opts.Logger}
}

// State returns the current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Offline reports whether the engine is running without the remote.
func (e *Engine) Offline() bool {
	return e.opts.Offline()
}

func (e *Engine) notify(kind string, data map[string]string) {
	if e.opts.Notifier != nil {
		e.opts.Notifier.Notify(kind, data)
	}
}

// Start bootstraps the remote folder layout and runs one sync pass: a full
// resync when no change cursor is stored yet, an incremental one otherwise.
// It does nothing in offline mode. No polling loop is started.
func (e *Engine) Start(ctx context.Context) error {
	if e.Offline() {
		e.logger.Info("sync: offline mode, remote sync disabled")
		return nil
	}
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	cursor, err := e.store.GetState(ctx, store.KeyChangeCursor)
	if err != nil {
		return err
	}
	if cursor == "" {
		_, err = e.FullResync(ctx)
	} else {
		_, err = e.IncrementalSync(ctx)
	}
	return err
}

// Bootstrap finds or creates the root folder and one folder per known
// type, then enters the ready state.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.bootMu.Lock()
	defer e.bootMu.Unlock()

	prev := e.State()
	e.state.Store(int32(StateBootstrapping))
	if err := e.bootstrap(ctx); err != nil {
		if prev == StateBootstrapping {
			prev = StateUninitialized
		}
		e.state.Store(int32(prev))
		return fmt.Errorf("sync: bootstrap: %w", err)
	}
	e.state.Store(int32(StateReady))
	e.logger.Info("sync: ready", slog.String("root_folder", e.remote.RootFolderID()))
	return nil
}

func (e *Engine) bootstrap(ctx context.Context) error {
	schemas, err := e.store.ListSchemas(ctx)
	if err != nil {
		return err
	}
	types := make([]string, 0, len(schemas))
	for _, s := range schemas {
		types = append(types, s.Name)
	}
	if err := e.remote.EnsureFolderStructure(ctx, types); err != nil {
		return err
	}

	if err := e.store.SetState(ctx, store.KeyRootFolder, e.remote.RootFolderID()); err != nil {
		return err
	}
	for typ, id := range e.remote.Folders() {
		if err := e.store.SetState(ctx, store.FolderKey(typ), id); err != nil {
			return err
		}
	}
	return nil
}

// withBootstrap runs fn and, if it failed because the remote folders were
// not resolved yet, bootstraps once and runs it again.
func (e *Engine) withBootstrap(ctx context.Context, fn func() error) error {
	err := fn()
	if !errors.Is(err, apperr.ErrNotInitialized) {
		return err
	}
	e.logger.Info("sync: remote not initialised, bootstrapping")
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	return fn()
}

// ClearCache wipes the local store and, unless offline, rebuilds it from
// the remote with a fresh bootstrap and full resync.
func (e *Engine) ClearCache(ctx context.Context) error {
	e.syncMu.Lock()
	if err := e.store.Wipe(ctx); err != nil {
		e.syncMu.Unlock()
		return fmt.Errorf("sync: clear cache: %w", err)
	}
	e.remote.Reset()
	e.state.Store(int32(StateUninitialized))
	e.syncMu.Unlock()

	e.logger.Info("sync: local cache cleared")
	return e.Start(ctx)
}

// Status is a snapshot of the engine for status endpoints.
type Status struct {
	State      string    `json:"state"`
	Offline    bool      `json:"offline"`
	Cursor     string    `json:"cursor,omitempty"`
	RootFolder string    `json:"root_folder,omitempty"`
	LastSync   time.Time `json:"last_sync,omitzero"`
}

// Status reports the engine state and the persisted sync position.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st := Status{State: e.State().String(), Offline: e.Offline()}
	var err error
	if st.Cursor, err = e.store.GetState(ctx, store.KeyChangeCursor); err != nil {
		return st, err
	}
	if st.RootFolder, err = e.store.GetState(ctx, store.KeyRootFolder); err != nil {
		return st, err
	}
	last, err := e.store.GetState(ctx, store.KeyLastSync)
	if err != nil {
		return st, err
	}
	if last != "" {
		st.LastSync, _ = time.Parse(time.RFC3339Nano, last)
	}
	return st, nil
}
