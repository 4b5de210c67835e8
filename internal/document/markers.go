package document

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Mention is an inline marker referencing another object.
type Mention struct {
	Node     *html.Node
	TargetID string
	Legacy   bool
}

// Mentions returns every mention marker under root in document order.
// Mentions nested inside another mention are not reported separately.
func Mentions(root *html.Node) []Mention {
	var out []Mention
	Walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if id, ok := Attr(n, AttrMention); ok && strings.TrimSpace(id) != "" {
			out = append(out, Mention{Node: n, TargetID: strings.TrimSpace(id)})
			return false
		}
		if id, ok := Attr(n, AttrLegacyMention); ok && strings.TrimSpace(id) != "" {
			out = append(out, Mention{Node: n, TargetID: strings.TrimSpace(id), Legacy: true})
			return false
		}
		return true
	})
	return out
}

// AssetImages returns every <img> whose source uses the asset: scheme.
func AssetImages(root *html.Node) []*html.Node {
	var out []*html.Node
	Walk(root, func(n *html.Node) bool {
		if IsElement(n, atom.Img) {
			if src, ok := Attr(n, "src"); ok && strings.HasPrefix(src, AssetScheme) {
				out = append(out, n)
			}
		}
		return true
	})
	return out
}

// AssetID returns the id part of an asset: source.
func AssetID(src string) string {
	return strings.TrimSpace(strings.TrimPrefix(src, AssetScheme))
}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Li: true, atom.Div: true, atom.Blockquote: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Td: true, atom.Th: true, atom.Pre: true,
}

// EnclosingBlock returns the nearest block-level ancestor of n, or the
// topmost ancestor when n sits directly under the root.
func EnclosingBlock(n *html.Node) *html.Node {
	top := n
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && blockAtoms[cur.DataAtom] {
			return cur
		}
		if cur.Type == html.DocumentNode {
			return cur
		}
		top = cur
	}
	return top
}

// TextOffset returns the text of block and the rune offset at which target's
// text begins within it.
func TextOffset(block, target *html.Node) (string, int) {
	var (
		b      strings.Builder
		offset = -1
		runes  int
	)
	Walk(block, func(n *html.Node) bool {
		if n == target && offset < 0 {
			offset = runes
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			runes += len([]rune(n.Data))
		}
		return true
	})
	if offset < 0 {
		offset = 0
	}
	return b.String(), offset
}
