package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"slices"
	"strings"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
)

// CreateObject encodes obj and uploads it into its type folder.
func (c *Client) CreateObject(ctx context.Context, obj *models.Object) (models.RemoteRef, error) {
	folder, err := c.FolderFor(ctx, obj.Type)
	if err != nil {
		return models.RemoteRef{}, err
	}
	body, err := c.codec.Encode(ctx, obj)
	if err != nil {
		return models.RemoteRef{}, err
	}
	meta := documentMeta(obj)
	meta.Parents = []string{folder}

	r, err := multipartRequest(http.MethodPost, "/upload/files", meta, "text/html; charset=utf-8", []byte(body))
	if err != nil {
		return models.RemoteRef{}, err
	}
	var created File
	if err := c.callJSON(ctx, r, &created); err != nil {
		return models.RemoteRef{}, fmt.Errorf("remote: create %s: %w", obj.ID, err)
	}
	return models.RemoteRef{FileID: created.ID, Revision: created.Version}, nil
}

// UpdateObject patches the document's name and application properties,
// moves it when its type folder changed and then replaces its body. A
// failure between the phases leaves the metadata updated and the body stale
// until the next update.
func (c *Client) UpdateObject(ctx context.Context, ref models.RemoteRef, obj *models.Object) (models.RemoteRef, error) {
	folder, err := c.FolderFor(ctx, obj.Type)
	if err != nil {
		return ref, err
	}
	body, err := c.codec.Encode(ctx, obj)
	if err != nil {
		return ref, err
	}
	path := "/files/" + url.PathEscape(ref.FileID)

	r, err := jsonRequest(http.MethodPatch, path, documentMeta(obj))
	if err != nil {
		return ref, err
	}
	var patched File
	if err := c.callJSON(ctx, r, &patched); err != nil {
		return ref, fmt.Errorf("remote: update %s metadata: %w", obj.ID, err)
	}
	if err := c.move(ctx, path, patched.Parents, folder); err != nil {
		return ref, fmt.Errorf("remote: move %s: %w", obj.ID, err)
	}

	var updated File
	r = request{
		method:      http.MethodPut,
		path:        "/upload" + path,
		contentType: "text/html; charset=utf-8",
		body:        []byte(body),
	}
	if err := c.callJSON(ctx, r, &updated); err != nil {
		return ref, fmt.Errorf("remote: update %s body: %w", obj.ID, err)
	}
	out := models.RemoteRef{FileID: ref.FileID, Revision: updated.Version}
	if out.Revision == "" {
		out.Revision = ref.Revision
	}
	return out, nil
}

// move reparents a file into folder unless that is already its only parent.
func (c *Client) move(ctx context.Context, path string, parents []string, folder string) error {
	if len(parents) == 1 && parents[0] == folder {
		return nil
	}
	var remove []string
	for _, p := range parents {
		if p != folder {
			remove = append(remove, p)
		}
	}
	q := url.Values{}
	if !slices.Contains(parents, folder) {
		q.Set("addParents", folder)
	}
	if len(remove) > 0 {
		q.Set("removeParents", strings.Join(remove, ","))
	}
	if len(q) == 0 {
		return nil
	}
	r, err := jsonRequest(http.MethodPatch, path, struct{}{})
	if err != nil {
		return err
	}
	r.query = q
	_, err = c.call(ctx, r)
	if err == nil {
		c.logger.Info("remote: document moved", slog.String("path", path), slog.String("folder", folder))
	}
	return err
}

// ReadObject fetches and decodes a document. Folders and other
// non-document kinds yield a nil object and no error.
func (c *Client) ReadObject(ctx context.Context, fileID string) (*models.Object, error) {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.MimeType != MimeDocument {
		return nil, nil
	}
	q := url.Values{"mimeType": {"text/html"}}
	body, err := c.call(ctx, request{method: http.MethodGet, path: "/files/" + url.PathEscape(fileID) + "/export", query: q})
	if err != nil {
		return nil, fmt.Errorf("remote: export %s: %w", fileID, err)
	}
	return c.objectFrom(f, string(body)), nil
}

// objectFrom merges file metadata and the decoded body. Application
// properties win over frontmatter for id and type.
func (c *Client) objectFrom(f File, body string) *models.Object {
	d := c.codec.Decode(body)
	if d.Degraded {
		c.logger.Debug("remote: document without frontmatter", slog.String("file_id", f.ID))
	}
	obj := &models.Object{
		ID:         firstNonEmpty(f.AppProperties[PropObjectID], d.ID, f.ID),
		Title:      f.Name,
		Type:       firstNonEmpty(f.AppProperties[PropType], d.Type, "Note"),
		Content:    d.Content,
		Properties: d.Properties,
		Tags:       d.Tags,
		UpdatedAt:  d.UpdatedAt,
		Remote:     &models.RemoteRef{FileID: f.ID, Revision: f.Version},
	}
	if obj.UpdatedAt.IsZero() || f.ModifiedTime.After(obj.UpdatedAt) {
		obj.UpdatedAt = f.ModifiedTime
	}
	return obj
}

// UploadAsset uploads binary data into the root folder, shares it and
// returns the file id and its public URL.
func (c *Client) UploadAsset(ctx context.Context, a *models.Asset) (string, string, error) {
	root := c.RootFolderID()
	if root == "" {
		return "", "", apperr.ErrNotInitialized
	}
	meta := File{Name: a.Name, MimeType: a.MIMEType, Parents: []string{root}}
	r, err := multipartRequest(http.MethodPost, "/upload/files", meta, a.MIMEType, a.Data)
	if err != nil {
		return "", "", err
	}
	var created File
	if err := c.callJSON(ctx, r, &created); err != nil {
		return "", "", fmt.Errorf("remote: upload asset %s: %w", a.ID, err)
	}
	if err := c.MakePublic(ctx, created.ID); err != nil {
		return created.ID, "", err
	}
	link := created.WebLink
	if c.opts.AssetURL != "" {
		link = fmt.Sprintf(c.opts.AssetURL, created.ID)
	}
	if link == "" {
		return created.ID, "", errors.New("remote: provider returned no asset link")
	}
	return created.ID, link, nil
}

// documentMeta carries the object id and type as application properties;
// they are set on every create and update.
func documentMeta(obj *models.Object) File {
	title := obj.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}
	return File{
		Name:     title,
		MimeType: MimeDocument,
		AppProperties: map[string]string{
			PropObjectID: obj.ID,
			PropType:     obj.Type,
		},
	}
}

func multipartRequest(method, path string, meta File, contentType string, content []byte) (request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return request{}, err
	}
	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=utf-8"}})
	if err != nil {
		return request{}, err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return request{}, err
	}

	part, err = w.CreatePart(textproto.MIMEHeader{"Content-Type": {contentType}})
	if err != nil {
		return request{}, err
	}
	if _, err := part.Write(content); err != nil {
		return request{}, err
	}
	if err := w.Close(); err != nil {
		return request{}, err
	}
	return request{
		method:      method,
		path:        path,
		query:       url.Values{"uploadType": {"multipart"}},
		contentType: "multipart/related; boundary=" + w.Boundary(),
		body:        buf.Bytes(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
