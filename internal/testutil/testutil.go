// Package testutil provides shared test helpers: a temporary store, a quiet
// logger and an in-memory document provider.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/remote"
	"github.com/starford/loom/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "loom-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// FakeRemote is an in-memory document provider. ReadErr is keyed by file
// id; the other error fields fail every matching call.
type FakeRemote struct {
	mu sync.Mutex

	Docs      map[string]*models.Object
	FolderMap map[string]string
	Root      string
	Feed      remote.ChangeFeed
	Cursor    string

	CreateErr error
	UpdateErr error
	DeleteErr error
	FetchErr  error
	ReadErr   map[string]error
	// Uninitialized makes the next create fail with ErrNotInitialized.
	Uninitialized bool

	Creates, Updates, Deletes, Uploads, Bootstraps int

	Pushed []*models.Object

	seq int
}

// NewFakeRemote creates an empty FakeRemote.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		Docs:      map[string]*models.Object{},
		FolderMap: map[string]string{},
		ReadErr:   map[string]error{},
		Cursor:    "start",
	}
}

func (f *FakeRemote) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

// Put stores a document as if it had been created remotely.
func (f *FakeRemote) Put(fileID string, obj *models.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := obj.Clone()
	c.Remote = &models.RemoteRef{FileID: fileID, Revision: "1"}
	f.Docs[fileID] = c
}

// Calls returns the create/update/delete counters.
func (f *FakeRemote) Calls() (creates, updates, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Creates, f.Updates, f.Deletes
}

func (f *FakeRemote) EnsureFolderStructure(_ context.Context, types []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bootstraps++
	f.Uninitialized = false
	if f.Root == "" {
		f.Root = "root"
	}
	for _, typ := range types {
		if f.FolderMap[typ] == "" {
			f.FolderMap[typ] = "folder-" + typ
		}
	}
	return nil
}

func (f *FakeRemote) RootFolderID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Root
}

func (f *FakeRemote) Folders() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.FolderMap))
	for k, v := range f.FolderMap {
		out[k] = v
	}
	return out
}

func (f *FakeRemote) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Root = ""
	f.FolderMap = map[string]string{}
}

func (f *FakeRemote) CreateObject(_ context.Context, obj *models.Object) (models.RemoteRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Uninitialized || f.Root == "" {
		return models.RemoteRef{}, apperr.ErrNotInitialized
	}
	if f.CreateErr != nil {
		return models.RemoteRef{}, f.CreateErr
	}
	f.Creates++
	ref := models.RemoteRef{FileID: f.nextID("file-"), Revision: "1"}
	c := obj.Clone()
	c.Remote = &ref
	f.Docs[ref.FileID] = c
	f.Pushed = append(f.Pushed, c)
	return ref, nil
}

func (f *FakeRemote) UpdateObject(_ context.Context, ref models.RemoteRef, obj *models.Object) (models.RemoteRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return ref, f.UpdateErr
	}
	f.Updates++
	ref.Revision = fmt.Sprint(f.Updates + 1)
	c := obj.Clone()
	c.Remote = &ref
	f.Docs[ref.FileID] = c
	f.Pushed = append(f.Pushed, c)
	return ref, nil
}

func (f *FakeRemote) ReadObject(_ context.Context, fileID string) (*models.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ReadErr[fileID]; err != nil {
		return nil, err
	}
	obj, ok := f.Docs[fileID]
	if !ok {
		for _, id := range f.FolderMap {
			if id == fileID {
				return nil, nil
			}
		}
		return nil, apperr.ErrNotFound
	}
	return obj.Clone(), nil
}

func (f *FakeRemote) DeleteFile(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deletes++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.Docs, fileID)
	return nil
}

// ListAllRecursive returns every folder followed by every document, in id
// order.
func (f *FakeRemote) ListAllRecursive(context.Context, string) ([]remote.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.File
	for typ, id := range f.FolderMap {
		out = append(out, remote.File{ID: id, Name: typ, MimeType: remote.MimeFolder})
	}
	ids := make([]string, 0, len(f.Docs))
	for id := range f.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, remote.File{ID: id, Name: f.Docs[id].Title, MimeType: remote.MimeDocument})
	}
	return out, nil
}

func (f *FakeRemote) StartCursor(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Cursor, nil
}

func (f *FakeRemote) FetchChanges(_ context.Context, cursor string) (remote.ChangeFeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return remote.ChangeFeed{}, f.FetchErr
	}
	feed := f.Feed
	if feed.NextCursor == "" {
		feed.NextCursor = cursor
	}
	return feed, nil
}

func (f *FakeRemote) UploadAsset(_ context.Context, a *models.Asset) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Root == "" {
		return "", "", apperr.ErrNotInitialized
	}
	f.Uploads++
	id := f.nextID("asset-")
	return id, "https://cdn.test/" + id, nil
}
