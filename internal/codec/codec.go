package codec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/models"
)

// Lookup is the read side of the local store the codec needs.
type Lookup interface {
	GetObject(ctx context.Context, id string) (*models.Object, error)
	AllObjects(ctx context.Context) ([]*models.Object, error)
}

// Options configure a Codec.
type Options struct {
	// DocumentURL is a format string with a single %s for the remote file
	// id, e.g. "https://docs.example.com/d/%s/edit".
	DocumentURL string
	// Window is the backlink context size in runes.
	Window int
}

// Codec encodes objects against the current state of the local store.
type Codec struct {
	lookup Lookup
	opts   Options
}

// New creates a Codec.
func New(lookup Lookup, opts Options) *Codec {
	if opts.DocumentURL == "" {
		opts.DocumentURL = "%s"
	}
	if opts.Window <= 0 {
		opts.Window = links.DefaultWindow
	}
	return &Codec{lookup: lookup, opts: opts}
}

// DocumentURL returns the link to a remote document.
func (c *Codec) DocumentURL(fileID string) string {
	if !strings.Contains(c.opts.DocumentURL, "%s") {
		return c.opts.DocumentURL + fileID
	}
	return fmt.Sprintf(c.opts.DocumentURL, fileID)
}

// Encode renders the full document body for obj, including references
// resolved against the store and backlinks computed from every other
// object.
func (c *Codec) Encode(ctx context.Context, obj *models.Object) (string, error) {
	objects, err := c.lookup.AllObjects(ctx)
	if err != nil {
		return "", fmt.Errorf("codec: encode %s: %w", obj.ID, err)
	}
	byID := make(map[string]*models.Object, len(objects))
	for _, o := range objects {
		byID[o.ID] = o
	}
	resolve := func(id string) Reference {
		o, ok := byID[id]
		if !ok {
			return Reference{ID: id}
		}
		return reference(o)
	}
	return EncodeDocument(obj, EncodeOptions{
		Resolve:     resolve,
		Backlinks:   links.Backlinks(obj.ID, objects, c.opts.Window),
		DocumentURL: c.DocumentURL,
	}), nil
}

// Decode parses a fetched document body.
func (c *Codec) Decode(body string) Decoded {
	return Decode(body)
}

// Rewrite prepares content for upload, resolving each mention against the
// store one at a time.
func (c *Codec) Rewrite(ctx context.Context, content string, upload AssetUploader) (string, error) {
	var lookupErr error
	resolve := func(id string) Reference {
		o, err := c.lookup.GetObject(ctx, id)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				lookupErr = errors.Join(lookupErr, err)
			}
			return Reference{ID: id}
		}
		return reference(o)
	}
	out, err := RewriteContent(ctx, content, resolve, c.DocumentURL, upload)
	return out, errors.Join(lookupErr, err)
}

func reference(o *models.Object) Reference {
	ref := Reference{ID: o.ID, Title: o.Title, Found: true}
	if o.Remote != nil {
		ref.FileID = o.Remote.FileID
	}
	return ref
}
