package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/starford/loom/internal/apperr"
)

// Provider MIME kinds.
const (
	MimeFolder   = "application/vnd.loom.folder"
	MimeDocument = "application/vnd.loom.document"

	PropObjectID = "objectId"
	PropType     = "type"
)

// File is the provider's metadata record for a document, folder or asset.
type File struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	MimeType      string            `json:"mimeType"`
	Parents       []string          `json:"parents,omitempty"`
	AppProperties map[string]string `json:"appProperties,omitempty"`
	Version       string            `json:"version,omitempty"`
	ModifiedTime  time.Time         `json:"modifiedTime,omitzero"`
	WebLink       string            `json:"webContentLink,omitempty"`
}

// IsFolder reports whether f is a container rather than a document.
func (f File) IsFolder() bool {
	return f.MimeType == MimeFolder
}

// Change is one record of the change feed: either a removal (FileID only)
// or an upsert carrying the file's metadata.
type Change struct {
	FileID  string `json:"fileId"`
	Removed bool   `json:"removed"`
	File    *File  `json:"file,omitempty"`
}

// ChangeFeed is a page of changes and the cursor to resume from.
type ChangeFeed struct {
	NextCursor string   `json:"nextCursor"`
	Changes    []Change `json:"changes"`
}

type fileList struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// EnsureFolderStructure finds or creates the root folder and one folder per
// object type, caching the ids for the session. Only a failure to resolve
// the root is fatal; type folders are resolved again lazily on first use.
func (c *Client) EnsureFolderStructure(ctx context.Context, types []string) error {
	root, err := c.findOrCreateFolder(ctx, c.opts.RootFolder, "")
	if err != nil {
		c.logger.Warn("remote: root folder failed, retrying", slog.String("error", err.Error()))
		if root, err = c.findOrCreateFolder(ctx, c.opts.RootFolder, ""); err != nil {
			return fmt.Errorf("remote: ensure root folder: %w", err)
		}
	}
	c.mu.Lock()
	c.rootID = root
	c.mu.Unlock()

	for _, typ := range types {
		if _, err := c.FolderFor(ctx, typ); err != nil {
			c.logger.Warn("remote: type folder failed",
				slog.String("type", typ),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// RootFolderID returns the resolved root folder id, or "" before
// EnsureFolderStructure succeeded.
func (c *Client) RootFolderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rootID
}

// Folders returns a copy of the resolved type folder ids.
func (c *Client) Folders() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.folders))
	for k, v := range c.folders {
		out[k] = v
	}
	return out
}

// Reset forgets every cached folder id.
func (c *Client) Reset() {
	c.mu.Lock()
	c.rootID = ""
	c.folders = make(map[string]string)
	c.mu.Unlock()
}

// FolderFor returns the folder for an object type, creating it if needed.
// It fails with ErrNotInitialized before the root folder is known.
func (c *Client) FolderFor(ctx context.Context, typ string) (string, error) {
	c.mu.Lock()
	root, id := c.rootID, c.folders[typ]
	c.mu.Unlock()
	if root == "" {
		return "", apperr.ErrNotInitialized
	}
	if id != "" {
		return id, nil
	}
	id, err := c.findOrCreateFolder(ctx, typ, root)
	if err != nil {
		return "", fmt.Errorf("remote: folder %s: %w", typ, err)
	}
	c.mu.Lock()
	c.folders[typ] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) findOrCreateFolder(ctx context.Context, name, parent string) (string, error) {
	q := url.Values{"name": {name}, "mimeType": {MimeFolder}}
	if parent != "" {
		q.Set("parent", parent)
	}
	var list fileList
	if err := c.callJSON(ctx, request{method: http.MethodGet, path: "/files", query: q}, &list); err != nil {
		return "", err
	}
	for _, f := range list.Files {
		if f.IsFolder() && f.Name == name {
			return f.ID, nil
		}
	}

	meta := File{Name: name, MimeType: MimeFolder}
	if parent != "" {
		meta.Parents = []string{parent}
	}
	r, err := jsonRequest(http.MethodPost, "/files", meta)
	if err != nil {
		return "", err
	}
	var created File
	if err := c.callJSON(ctx, r, &created); err != nil {
		return "", err
	}
	c.logger.Info("remote: folder created", slog.String("name", name), slog.String("id", created.ID))
	return created.ID, nil
}

// ListChildren returns every direct child of a folder, following pages.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]File, error) {
	var out []File
	token := ""
	for {
		q := url.Values{"parent": {folderID}, "pageSize": {"100"}}
		if token != "" {
			q.Set("pageToken", token)
		}
		var page fileList
		if err := c.callJSON(ctx, request{method: http.MethodGet, path: "/files", query: q}, &page); err != nil {
			return nil, fmt.Errorf("remote: list %s: %w", folderID, err)
		}
		out = append(out, page.Files...)
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

// ListAllRecursive enumerates a folder depth-first. Folders are included in
// the result; callers skip them. Each file is listed once even when it is
// reachable through more than one parent.
func (c *Client) ListAllRecursive(ctx context.Context, folderID string) ([]File, error) {
	seen := map[string]bool{folderID: true}
	return c.listAll(ctx, folderID, seen)
}

func (c *Client) listAll(ctx context.Context, folderID string, seen map[string]bool) ([]File, error) {
	children, err := c.ListChildren(ctx, folderID)
	if err != nil {
		return nil, err
	}
	var out []File
	for _, f := range children {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		out = append(out, f)
		if !f.IsFolder() {
			continue
		}
		nested, err := c.listAll(ctx, f.ID, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// GetFile fetches a file's metadata.
func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	var f File
	err := c.callJSON(ctx, request{method: http.MethodGet, path: "/files/" + url.PathEscape(fileID)}, &f)
	if err != nil {
		return File{}, fmt.Errorf("remote: get %s: %w", fileID, err)
	}
	return f, nil
}

// DeleteFile deletes a file. A file that is already gone counts as deleted.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	_, err := c.call(ctx, request{method: http.MethodDelete, path: "/files/" + url.PathEscape(fileID)})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("remote: delete %s: %w", fileID, err)
	}
	return nil
}

// MakePublic grants read access to anyone holding the link.
func (c *Client) MakePublic(ctx context.Context, fileID string) error {
	r, err := jsonRequest(http.MethodPost, "/files/"+url.PathEscape(fileID)+"/permissions",
		map[string]string{"role": "reader", "type": "anyone"})
	if err != nil {
		return err
	}
	if _, err := c.call(ctx, r); err != nil {
		return fmt.Errorf("remote: share %s: %w", fileID, err)
	}
	return nil
}

// StartCursor returns a change cursor positioned at "now".
func (c *Client) StartCursor(ctx context.Context) (string, error) {
	var out struct {
		StartCursor string `json:"startCursor"`
	}
	if err := c.callJSON(ctx, request{method: http.MethodGet, path: "/changes/startCursor"}, &out); err != nil {
		return "", fmt.Errorf("remote: start cursor: %w", err)
	}
	return out.StartCursor, nil
}

// FetchChanges returns the changes recorded since cursor.
func (c *Client) FetchChanges(ctx context.Context, cursor string) (ChangeFeed, error) {
	var feed ChangeFeed
	q := url.Values{"cursor": {cursor}}
	if err := c.callJSON(ctx, request{method: http.MethodGet, path: "/changes", query: q}, &feed); err != nil {
		return ChangeFeed{}, fmt.Errorf("remote: changes: %w", err)
	}
	if feed.NextCursor == "" {
		feed.NextCursor = cursor
	}
	return feed, nil
}
