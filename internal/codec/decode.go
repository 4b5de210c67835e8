package codec

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/loom/internal/document"
	"github.com/starford/loom/internal/models"
)

// Decoded is the structured view of a fetched document body.
type Decoded struct {
	Type       string
	ID         string
	UpdatedAt  time.Time
	Tags       []string
	Properties []models.Property
	Content    string
	// Degraded is set when no frontmatter boundary was found and the whole
	// body was taken as content.
	Degraded bool
}

// Decode splits a document body into frontmatter fields and content. It
// never fails: a body without a frontmatter table followed by a divider is
// returned whole as content with Degraded set.
func Decode(body string) Decoded {
	root, err := document.Parse(body)
	if err != nil {
		return Decoded{Content: body, Degraded: true}
	}

	table, rule := findBoundary(root)
	if rule == nil {
		stripBackmatter(root)
		return Decoded{Content: strings.TrimSpace(document.Render(root)), Degraded: true}
	}

	var d Decoded
	parseFrontmatter(table, &d)

	rest := document.After(root, rule)
	document.Detach(rest)
	content := &html.Node{Type: html.DocumentNode}
	for _, n := range rest {
		content.AppendChild(n)
	}
	stripBackmatter(content)
	d.Content = strings.TrimSpace(document.Render(content))
	return d
}

// findBoundary returns the first table and the first <hr> after it. The
// divider only counts as the frontmatter boundary when a table precedes it.
func findBoundary(root *html.Node) (table, rule *html.Node) {
	document.Walk(root, func(n *html.Node) bool {
		if rule != nil {
			return false
		}
		switch {
		case table == nil && document.IsElement(n, atom.Table):
			table = n
			return false
		case document.IsElement(n, atom.Hr):
			if table != nil {
				rule = n
			}
			return false
		}
		return true
	})
	return table, rule
}

func parseFrontmatter(table *html.Node, d *Decoded) {
	document.Walk(table, func(n *html.Node) bool {
		if !document.IsElement(n, atom.Tr) {
			return true
		}
		var cells []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if document.IsElement(c, atom.Td) || document.IsElement(c, atom.Th) {
				cells = append(cells, c)
			}
		}
		if len(cells) < 2 {
			return false
		}
		label := document.CollapseSpace(document.Text(cells[0]))
		value := document.CollapseSpace(document.Text(cells[1]))
		key, hasKey := document.Attr(n, keyAttr)

		switch {
		case !hasKey && label == LabelType:
			d.Type = value
		case !hasKey && label == LabelID:
			d.ID = value
		case !hasKey && label == LabelModified:
			if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
				d.UpdatedAt = t
			}
		case !hasKey && label == LabelTags:
			d.Tags = parseTags(n, value)
		default:
			d.Properties = append(d.Properties, parseProperty(n, cells[1], key, label, value))
		}
		return false
	})
}

func parseProperty(tr, cell *html.Node, key, label, value string) models.Property {
	if key == "" {
		key = Slug(label)
	}
	typ, _ := document.Attr(tr, typeAttr)
	p := models.Property{Key: key, Label: label, Type: models.PropertyType(typ)}
	if p.Type == "" {
		p.Type = models.PropText
	}
	if p.Type.IsReference() {
		if ids := referenceIDs(cell); len(ids) > 0 {
			if p.Type == models.PropReference {
				p.Value = models.TextValue(ids[0])
			} else {
				p.Value = models.ListValue(ids...)
			}
			return p
		}
	}
	if raw, ok := document.Attr(tr, valueAttr); ok {
		exact := p
		if exact.UnmarshalValue([]byte(raw)) == nil && document.CollapseSpace(exact.String()) == value {
			return exact
		}
	}
	if err := p.ParseValue(value); err != nil {
		p.Type = models.PropText
		p.Value = models.TextValue(value)
	}
	return p
}

// parseTags prefers the exact list in the row's value attribute unless the
// visible text was edited since it was written.
func parseTags(tr *html.Node, visible string) []string {
	if raw, ok := document.Attr(tr, valueAttr); ok {
		var tags []string
		if json.Unmarshal([]byte(raw), &tags) == nil && document.CollapseSpace(strings.Join(tags, ", ")) == visible {
			return tags
		}
	}
	var tags []string
	for _, tag := range strings.Split(visible, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func referenceIDs(cell *html.Node) []string {
	var ids []string
	for _, m := range document.Mentions(cell) {
		ids = append(ids, m.TargetID)
	}
	return ids
}

// stripBackmatter removes the generated backlink section so it is never
// read back as user content. Sections that lost their marker attribute are
// recognised by a top-level Backlinks heading.
func stripBackmatter(root *html.Node) {
	var marked []*html.Node
	document.Walk(root, func(n *html.Node) bool {
		if v, ok := document.Attr(n, sectionAttr); ok && v == sectionBack {
			marked = append(marked, n)
			return false
		}
		return true
	})
	if len(marked) > 0 {
		document.Detach(marked)
		return
	}

	var heading *html.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if document.IsElement(c, atom.H2) && document.CollapseSpace(document.Text(c)) == BacklinksHeading {
			heading = c
		}
	}
	if heading == nil {
		return
	}
	document.Detach(append([]*html.Node{heading}, document.After(root, heading)...))
}

// Slug derives a property key from a display label.
func Slug(label string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
