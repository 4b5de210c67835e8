// Package document provides the structural model of object bodies: a parsed
// HTML node tree plus pure traversal helpers for mentions, assets, blocks
// and text.
package document

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Marker attributes. AttrMention is the only one written; AttrLegacyMention
// is still recognised in older content.
const (
	AttrMention       = "data-object-id"
	AttrLegacyMention = "data-mention-id"

	// AssetScheme prefixes image sources that point at a local-only asset.
	AssetScheme = "asset:"
)

// Parse parses an HTML fragment into a tree rooted at a document node.
// Malformed markup is repaired by the HTML5 parsing algorithm, so the only
// errors are reader failures.
func Parse(markup string) (*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

// Render serialises the children of root back to markup.
func Render(root *html.Node) string {
	var b strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}

// RenderNodes serialises a list of sibling-independent nodes.
func RenderNodes(nodes []*html.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		_ = html.Render(&b, n)
	}
	return b.String()
}

// Walk visits n and its descendants in document order. Returning false from
// fn skips the node's children.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, fn)
		c = next
	}
}

// Find returns the first node in document order matching pred.
func Find(root *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// IsElement reports whether n is an element with the given tag.
func IsElement(n *html.Node, a atom.Atom) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == a
}

// Attr returns the value of an attribute and whether it is present.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	var b strings.Builder
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// CollapseSpace folds runs of whitespace into single spaces and trims.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// After returns the nodes following n in document order that are not its
// descendants: n's next siblings, then its parent's next siblings, and so
// on up to (but excluding) root.
func After(root, n *html.Node) []*html.Node {
	var out []*html.Node
	for cur := n; cur != nil && cur != root; cur = cur.Parent {
		for s := cur.NextSibling; s != nil; s = s.NextSibling {
			out = append(out, s)
		}
	}
	return out
}

// Detach removes nodes from their parents so they can be re-rooted.
func Detach(nodes []*html.Node) {
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}
