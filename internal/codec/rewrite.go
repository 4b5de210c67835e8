package codec

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/loom/internal/document"
)

// AssetUploader uploads a locally stored asset if needed and returns its
// publicly reachable URL.
type AssetUploader func(ctx context.Context, assetID string) (string, error)

// RewriteContent prepares content for upload. Mentions of synced objects
// become links to their documents, mentions of local-only objects become
// de-emphasised text and unresolved mentions become plain text. Legacy
// markers are normalised to the current attribute. Asset images are
// uploaded one at a time and pointed at their remote URL.
//
// Failures on individual assets leave that image untouched; they are
// joined into the returned error while the rest of the content is still
// rewritten.
func RewriteContent(ctx context.Context, content string, resolve Resolver, docURL func(string) string, upload AssetUploader) (string, error) {
	root, err := document.Parse(content)
	if err != nil {
		return content, fmt.Errorf("codec: parse content: %w", err)
	}

	for _, m := range document.Mentions(root) {
		rewriteMention(m, resolve(m.TargetID), docURL)
	}

	var errs []error
	if upload != nil {
		for _, img := range document.AssetImages(root) {
			src, _ := document.Attr(img, "src")
			id := document.AssetID(src)
			url, err := upload(ctx, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("asset %s: %w", id, err))
				continue
			}
			document.SetAttr(img, "src", url)
			document.SetAttr(img, "data-asset-id", id)
		}
	}
	return document.Render(root), errors.Join(errs...)
}

func rewriteMention(m document.Mention, ref Reference, docURL func(string) string) {
	n := m.Node
	if m.Legacy {
		document.RemoveAttr(n, document.AttrLegacyMention)
		document.SetAttr(n, document.AttrMention, m.TargetID)
	}
	document.RemoveAttr(n, "href")
	document.RemoveAttr(n, "style")

	switch {
	case ref.Found && ref.FileID != "":
		setElement(n, atom.A)
		document.SetAttr(n, "href", docURL(ref.FileID))
	case ref.Found:
		setElement(n, atom.Span)
		document.SetAttr(n, "style", deemphasisStyle)
	default:
		setElement(n, atom.Span)
	}
}

func setElement(n *html.Node, a atom.Atom) {
	n.DataAtom = a
	n.Data = a.String()
}
