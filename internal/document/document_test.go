package document

import (
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func mustParse(t *testing.T, markup string) *html.Node {
	t.Helper()
	root, err := Parse(markup)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func TestMentions_CurrentAndLegacy(t *testing.T) {
	root := mustParse(t, `<p>See <span data-object-id="a">A</span> and <span data-mention-id=" b ">B</span>.</p>`+
		`<p><span data-object-id="c"><span data-object-id="nested">x</span></span></p>`)

	got := Mentions(root)
	if len(got) != 3 {
		t.Fatalf("mentions = %d, want 3", len(got))
	}
	if got[0].TargetID != "a" || got[0].Legacy {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].TargetID != "b" || !got[1].Legacy {
		t.Errorf("second = %+v", got[1])
	}
	if got[2].TargetID != "c" {
		t.Errorf("nested mention reported: %+v", got[2])
	}
}

func TestAssetImages(t *testing.T) {
	root := mustParse(t, `<p><img src="asset:42"><img src="https://cdn/x.png"></p>`)
	imgs := AssetImages(root)
	if len(imgs) != 1 {
		t.Fatalf("images = %d, want 1", len(imgs))
	}
	src, _ := Attr(imgs[0], "src")
	if AssetID(src) != "42" {
		t.Errorf("asset id = %q", AssetID(src))
	}
}

func TestEnclosingBlockAndOffset(t *testing.T) {
	root := mustParse(t, `<ul><li>call <b>with</b> <span data-object-id="p1">Ada</span> today</li></ul>`)
	m := Mentions(root)[0]

	block := EnclosingBlock(m.Node)
	if !IsElement(block, atom.Li) {
		t.Fatalf("block = %v, want li", block.Data)
	}
	text, off := TextOffset(block, m.Node)
	if text != "call with Ada today" {
		t.Errorf("text = %q", text)
	}
	if off != len("call with ") {
		t.Errorf("offset = %d", off)
	}
}

func TestAttrHelpers(t *testing.T) {
	root := mustParse(t, `<a href="x" data-mention-id="1">t</a>`)
	a := Find(root, func(n *html.Node) bool { return IsElement(n, atom.A) })
	SetAttr(a, "href", "y")
	SetAttr(a, AttrMention, "1")
	RemoveAttr(a, AttrLegacyMention)

	if got := Render(root); got != `<a href="y" data-object-id="1">t</a>` {
		t.Errorf("render = %q", got)
	}
}

func TestAfterAndDetach(t *testing.T) {
	root := mustParse(t, `<div><p>one</p><hr><p>two</p></div><p>three</p>`)
	hr := Find(root, func(n *html.Node) bool { return IsElement(n, atom.Hr) })

	rest := After(root, hr)
	Detach(rest)
	if got := CollapseSpace(Text(root)); got != "one" {
		t.Errorf("remaining text = %q", got)
	}
	if got := CollapseSpace(Text(rest[0]) + " " + Text(rest[1])); got != "two three" {
		t.Errorf("detached text = %q", got)
	}
}
