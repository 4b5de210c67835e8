package graph

import (
	"testing"

	"github.com/starford/loom/internal/models"
)

func TestBuild_EdgeSourcesAndTypes(t *testing.T) {
	objects := []*models.Object{
		{ID: "a", Type: "Note", Content: `<p><span data-object-id="b">B</span> and <a data-mention-id="c">C</a></p>`},
		{ID: "b", Type: "Person"},
		{ID: "c", Type: "Project", Properties: []models.Property{
			{Key: "owner", Type: models.PropReference, Value: models.TextValue("b")},
			{Key: "members", Type: models.PropMultiReference, Value: models.ListValue("a", "b")},
		}},
	}
	g := Build(objects)
	if len(g.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(g.Nodes))
	}
	want := map[models.Link]bool{
		{Source: "a", Target: "b", Type: EdgeMention}:       true,
		{Source: "a", Target: "c", Type: EdgeLegacyMention}: true,
		{Source: "c", Target: "b", Type: EdgeReference}:     true,
		{Source: "c", Target: "a", Type: EdgeReference}:     true,
	}
	if len(g.Edges) != len(want) {
		t.Fatalf("edges = %+v", g.Edges)
	}
	for _, e := range g.Edges {
		if !want[e] {
			t.Errorf("unexpected edge %+v", e)
		}
	}
}

func TestBuild_DropsDanglingAndDuplicateEdges(t *testing.T) {
	objects := []*models.Object{
		{ID: "a", Content: `<p><span data-object-id="ghost">?</span><span data-object-id="b">B</span><span data-object-id="b">B</span></p>`,
			Properties: []models.Property{{Key: "r", Type: models.PropReference, Value: models.TextValue("missing")}}},
		{ID: "b"},
	}
	g := Build(objects)
	if len(g.Edges) != 1 || g.Edges[0].Target != "b" {
		t.Fatalf("edges = %+v", g.Edges)
	}
	ids := map[string]bool{"a": true, "b": true}
	for _, e := range g.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			t.Errorf("edge with unknown endpoint: %+v", e)
		}
	}
}

func TestNeighbors(t *testing.T) {
	g := Graph{Edges: []models.Link{
		{Source: "a", Target: "b", Type: EdgeMention},
		{Source: "c", Target: "a", Type: EdgeReference},
		{Source: "a", Target: "b", Type: EdgeReference},
	}}
	n := g.Neighbors("a")
	if len(n) != 2 || n[0] != "b" || n[1] != "c" {
		t.Errorf("neighbors = %v", n)
	}
}
