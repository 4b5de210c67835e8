// Package codec translates between objects and the HTML document bodies
// stored remotely: a frontmatter table, a divider, the user content and a
// generated backlink section.
package codec

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/starford/loom/internal/document"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/models"
)

// Frontmatter row labels. The decoder's boundary detection depends on
// this exact table shape.
const (
	LabelType     = "Type"
	LabelID       = "Id"
	LabelModified = "Last-Modified"
	LabelTags     = "Tags"

	BacklinksHeading = "Backlinks"
	NotSyncedMarker  = " (not synced)"

	sectionAttr     = "data-loom"
	sectionFront    = "frontmatter"
	sectionBack     = "backmatter"
	sourceAttr      = "data-source-id"
	keyAttr         = "data-key"
	typeAttr        = "data-type"
	valueAttr       = "data-value"
	deemphasisStyle = "color:#9ca3af"
)

// Reference is what the encoder knows about a referenced object.
type Reference struct {
	ID     string
	Title  string
	FileID string
	Found  bool
}

// Resolver looks up a referenced object by id.
type Resolver func(id string) Reference

// EncodeOptions carries the context an encoding needs beyond the object.
type EncodeOptions struct {
	Resolve     Resolver
	Backlinks   []links.Group
	DocumentURL func(fileID string) string
}

// EncodeDocument emits frontmatter, divider, content and backmatter.
func EncodeDocument(obj *models.Object, opts EncodeOptions) string {
	if opts.Resolve == nil {
		opts.Resolve = func(id string) Reference { return Reference{ID: id} }
	}
	if opts.DocumentURL == nil {
		opts.DocumentURL = func(fileID string) string { return fileID }
	}
	var b strings.Builder
	writeFrontmatter(&b, obj, opts)
	b.WriteString("<hr>\n")
	b.WriteString(obj.Content)
	writeBackmatter(&b, opts.Backlinks, opts.DocumentURL)
	return b.String()
}

func writeFrontmatter(b *strings.Builder, obj *models.Object, opts EncodeOptions) {
	fmt.Fprintf(b, "<table %s=%q>\n", sectionAttr, sectionFront)
	row(b, "", "", "", LabelType, html.EscapeString(obj.Type))
	row(b, "", "", "", LabelID, html.EscapeString(obj.ID))
	row(b, "", "", "", LabelModified, obj.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if len(obj.Tags) > 0 {
		exact, _ := json.Marshal(obj.Tags)
		row(b, "", "", string(exact), LabelTags, html.EscapeString(strings.Join(obj.Tags, ", ")))
	}
	for _, p := range obj.Properties {
		exact := ""
		if !p.Type.IsReference() {
			if raw, err := p.MarshalValue(); err == nil {
				exact = string(raw)
			}
		}
		row(b, p.Key, string(p.Type), exact, p.Label, propertyHTML(p, opts))
	}
	b.WriteString("</table>\n")
}

// row writes one frontmatter row. The visible cell is for readers; exact,
// when set, carries the value as JSON so it survives commas and whitespace.
func row(b *strings.Builder, key, typ, exact, label, valueHTML string) {
	b.WriteString("<tr")
	if key != "" {
		fmt.Fprintf(b, " %s=\"%s\" %s=\"%s\"", keyAttr, html.EscapeString(key), typeAttr, html.EscapeString(typ))
	}
	if exact != "" {
		fmt.Fprintf(b, " %s=\"%s\"", valueAttr, html.EscapeString(exact))
	}
	fmt.Fprintf(b, "><td>%s</td><td>%s</td></tr>\n", html.EscapeString(label), valueHTML)
}

func propertyHTML(p models.Property, opts EncodeOptions) string {
	if !p.Type.IsReference() {
		return html.EscapeString(p.String())
	}
	ids := p.ReferenceIDs()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, referenceHTML(opts.Resolve(id), opts.DocumentURL))
	}
	return strings.Join(parts, ", ")
}

// referenceHTML renders a reference as a link when synced, as de-emphasised
// text when only local, and as the bare id when unresolved.
func referenceHTML(ref Reference, docURL func(string) string) string {
	id := html.EscapeString(ref.ID)
	switch {
	case ref.Found && ref.FileID != "":
		return fmt.Sprintf(`<a href="%s" %s="%s">%s</a>`,
			html.EscapeString(docURL(ref.FileID)), document.AttrMention, id, html.EscapeString(ref.Title))
	case ref.Found:
		return fmt.Sprintf(`<span %s="%s" style="%s">%s%s</span>`,
			document.AttrMention, id, deemphasisStyle, html.EscapeString(ref.Title), NotSyncedMarker)
	default:
		return fmt.Sprintf(`<span %s="%s">%s</span>`, document.AttrMention, id, id)
	}
}

// writeBackmatter emits nothing when there are no backlinks.
func writeBackmatter(b *strings.Builder, groups []links.Group, docURL func(string) string) {
	if len(groups) == 0 {
		return
	}
	fmt.Fprintf(b, "\n<div %s=%q>\n<h2>%s</h2>\n", sectionAttr, sectionBack, BacklinksHeading)
	for _, g := range groups {
		fmt.Fprintf(b, "<div %s=\"%s\">", sourceAttr, html.EscapeString(g.SourceID))
		title := html.EscapeString(g.SourceTitle)
		if g.SourceRemote != nil && g.SourceRemote.FileID != "" {
			fmt.Fprintf(b, `<h3><a href="%s">%s</a></h3>`, html.EscapeString(docURL(g.SourceRemote.FileID)), title)
		} else {
			fmt.Fprintf(b, "<h3>%s</h3>", title)
		}
		b.WriteString("<ul>")
		for _, m := range g.Mentions {
			fmt.Fprintf(b, "<li>%s</li>", html.EscapeString(m.Context))
		}
		b.WriteString("</ul></div>\n")
	}
	b.WriteString("</div>\n")
}
