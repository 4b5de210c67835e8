// Package links resolves mention markers across the object corpus and builds
// per-target backlink contexts.
package links

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/starford/loom/internal/document"
	"github.com/starford/loom/internal/models"
)

// DefaultWindow is the longest context, in runes, kept around a mention
// before windowing kicks in.
const DefaultWindow = 200

// Ellipsis marks a truncated context boundary.
const Ellipsis = "…"

// Mention is one extracted mention of the target inside a source object.
type Mention struct {
	Ordinal int    `json:"ordinal"`
	Context string `json:"context"`
}

// Group collects every mention of the target made by one source object.
type Group struct {
	SourceID      string            `json:"source_id"`
	SourceTitle   string            `json:"source_title"`
	SourceUpdated time.Time         `json:"source_updated"`
	SourceRemote  *models.RemoteRef `json:"source_remote,omitempty"`
	Mentions      []Mention         `json:"mentions"`
}

// Backlinks scans every object other than the target for mention markers
// pointing at targetID. Groups are ordered by source recency, newest first.
// A target nobody mentions yields an empty slice.
func Backlinks(targetID string, objects []*models.Object, window int) []Group {
	if window <= 0 {
		window = DefaultWindow
	}
	var out []Group
	for _, obj := range objects {
		if obj.ID == targetID || !strings.Contains(obj.Content, targetID) {
			continue
		}
		root, err := document.Parse(obj.Content)
		if err != nil {
			continue
		}
		var mentions []Mention
		for _, m := range document.Mentions(root) {
			if m.TargetID != targetID {
				continue
			}
			mentions = append(mentions, Mention{
				Ordinal: len(mentions),
				Context: ExtractContext(m, window),
			})
		}
		if len(mentions) == 0 {
			continue
		}
		out = append(out, Group{
			SourceID:      obj.ID,
			SourceTitle:   obj.Title,
			SourceUpdated: obj.UpdatedAt,
			SourceRemote:  obj.Remote,
			Mentions:      mentions,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SourceUpdated.Equal(out[j].SourceUpdated) {
			return out[i].SourceUpdated.After(out[j].SourceUpdated)
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

// ExtractContext returns the collapsed text of the block enclosing the
// mention, windowed around the mention when longer than window runes.
func ExtractContext(m document.Mention, window int) string {
	block := document.EnclosingBlock(m.Node)
	raw, offset := document.TextOffset(block, m.Node)
	text, pos := collapse(raw, offset)
	mentionLen := len([]rune(document.CollapseSpace(document.Text(m.Node))))
	return Window(text, pos, mentionLen, window)
}

// Window centres a window of at most size runes on the span
// [offset, offset+length) of text, marking truncated ends with an ellipsis.
func Window(text string, offset, length, size int) string {
	runes := []rune(text)
	if len(runes) <= size {
		return text
	}
	start := offset + length/2 - size/2
	if length > size {
		start = offset
	}
	if start < 0 {
		start = 0
	}
	if start > len(runes)-size {
		start = len(runes) - size
	}
	end := start + size

	var b strings.Builder
	if start > 0 {
		b.WriteString(Ellipsis)
	}
	b.WriteString(string(runes[start:end]))
	if end < len(runes) {
		b.WriteString(Ellipsis)
	}
	return b.String()
}

// collapse folds whitespace runs like document.CollapseSpace and maps a
// rune offset in s to the corresponding offset in the result.
func collapse(s string, offset int) (string, int) {
	var (
		b       strings.Builder
		out     int
		mapped  = -1
		pending bool
	)
	for i, r := range []rune(s) {
		if i == offset {
			mapped = out
			if pending && out > 0 {
				mapped++
			}
		}
		if unicode.IsSpace(r) {
			pending = true
			continue
		}
		if pending && out > 0 {
			b.WriteRune(' ')
			out++
		}
		pending = false
		b.WriteRune(r)
		out++
	}
	if mapped < 0 || mapped > out {
		mapped = out
	}
	return b.String(), mapped
}
