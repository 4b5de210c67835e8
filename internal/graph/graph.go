// Package graph projects objects into a node/edge graph for relationship
// queries.
package graph

import (
	"github.com/starford/loom/internal/document"
	"github.com/starford/loom/internal/models"
)

// Edge types.
const (
	EdgeMention       = "mention"
	EdgeLegacyMention = "legacy_mention"
	EdgeReference     = "reference"
)

// Node is one object in the graph.
type Node struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type"`
}

// Graph is the derived projection. Edges reuse models.Link.
type Graph struct {
	Nodes []Node        `json:"nodes"`
	Edges []models.Link `json:"edges"`
}

// Build derives the graph from objects. Edges whose endpoints are not both
// known objects are dropped, as are self-edges and duplicates of the same
// (source, target, type).
func Build(objects []*models.Object) Graph {
	g := Graph{
		Nodes: make([]Node, 0, len(objects)),
		Edges: []models.Link{},
	}
	known := make(map[string]struct{}, len(objects))
	for _, o := range objects {
		known[o.ID] = struct{}{}
		g.Nodes = append(g.Nodes, Node{ID: o.ID, Title: o.Title, Type: o.Type})
	}

	seen := make(map[models.Link]struct{})
	add := func(source, target, kind string) {
		if source == target {
			return
		}
		if _, ok := known[target]; !ok {
			return
		}
		l := models.Link{Source: source, Target: target, Type: kind}
		if _, dup := seen[l]; dup {
			return
		}
		seen[l] = struct{}{}
		g.Edges = append(g.Edges, l)
	}

	for _, o := range objects {
		for _, target := range ContentLinks(o) {
			add(o.ID, target.Target, target.Type)
		}
		for _, p := range o.Properties {
			for _, id := range p.ReferenceIDs() {
				add(o.ID, id, EdgeReference)
			}
		}
	}
	return g
}

// ContentLinks returns the mention markers in an object's content as
// unfiltered links.
func ContentLinks(o *models.Object) []models.Link {
	if o.Content == "" {
		return nil
	}
	root, err := document.Parse(o.Content)
	if err != nil {
		return nil
	}
	var out []models.Link
	for _, m := range document.Mentions(root) {
		kind := EdgeMention
		if m.Legacy {
			kind = EdgeLegacyMention
		}
		out = append(out, models.Link{Source: o.ID, Target: m.TargetID, Type: kind})
	}
	return out
}

// Neighbors returns the ids directly connected to id in either direction.
func (g Graph) Neighbors(id string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range g.Edges {
		var other string
		switch id {
		case e.Source:
			other = e.Target
		case e.Target:
			other = e.Source
		default:
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out
}
