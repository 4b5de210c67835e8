package codec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/models"
)

func docURL(fileID string) string { return "https://docs.test/d/" + fileID }

func resolver(refs ...Reference) Resolver {
	byID := map[string]Reference{}
	for _, r := range refs {
		byID[r.ID] = r
	}
	return func(id string) Reference {
		if r, ok := byID[id]; ok {
			return r
		}
		return Reference{ID: id}
	}
}

func sampleObject() *models.Object {
	return &models.Object{
		ID:        "m1",
		Title:     "Kickoff",
		Type:      "Meeting",
		Content:   "<p>Hello <b>world</b></p>",
		Tags:      []string{"work", "q3"},
		UpdatedAt: time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC),
		Properties: []models.Property{
			{Key: "date", Label: "Date", Type: models.PropDate, Value: models.TextValue("2024-03-01")},
			{Key: "cost", Label: "Cost", Type: models.PropNumber, Value: models.NumberValue(1.5)},
			{Key: "done", Label: "Done", Type: models.PropCheckbox, Value: models.BoolValue(true)},
			{Key: "project", Label: "Project", Type: models.PropReference, Value: models.TextValue("p1")},
			{Key: "attendees", Label: "Attendees", Type: models.PropMultiReference, Value: models.ListValue("p2", "p3")},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	obj := sampleObject()
	body := EncodeDocument(obj, EncodeOptions{
		Resolve: resolver(
			Reference{ID: "p1", Title: "Apollo", FileID: "f-p1", Found: true},
			Reference{ID: "p2", Title: "Ann", Found: true},
		),
		Backlinks: []links.Group{{
			SourceID:    "n1",
			SourceTitle: "Notes",
			Mentions:    []links.Mention{{Ordinal: 1, Context: "see Kickoff"}},
		}},
		DocumentURL: docURL,
	})

	if !strings.Contains(body, `href="https://docs.test/d/f-p1"`) {
		t.Errorf("synced reference not linked: %s", body)
	}
	if !strings.Contains(body, "Ann"+NotSyncedMarker) {
		t.Errorf("local reference not marked: %s", body)
	}

	d := Decode(body)
	if d.Degraded {
		t.Fatal("unexpected degraded decode")
	}
	if d.Type != "Meeting" || d.ID != "m1" {
		t.Errorf("type/id = %q/%q", d.Type, d.ID)
	}
	if !d.UpdatedAt.Equal(obj.UpdatedAt) {
		t.Errorf("updated = %v, want %v", d.UpdatedAt, obj.UpdatedAt)
	}
	if strings.Join(d.Tags, ",") != "work,q3" {
		t.Errorf("tags = %v", d.Tags)
	}
	if d.Content != obj.Content {
		t.Errorf("content = %q, want %q", d.Content, obj.Content)
	}
	if len(d.Properties) != len(obj.Properties) {
		t.Fatalf("got %d properties, want %d", len(d.Properties), len(obj.Properties))
	}
	for i, want := range obj.Properties {
		got := d.Properties[i]
		if got.Key != want.Key || got.Type != want.Type || got.Label != want.Label {
			t.Errorf("property %d = %+v, want %+v", i, got, want)
		}
		if got.String() != want.String() {
			t.Errorf("property %s value = %q, want %q", want.Key, got.String(), want.String())
		}
	}
}

func TestEncodeDecode_RoundTripKeepsCommasAndLineBreaks(t *testing.T) {
	obj := &models.Object{
		ID:        "n1",
		Type:      "Note",
		Content:   "<p>x</p>",
		Tags:      []string{"work, q3", "x"},
		UpdatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Properties: []models.Property{
			{Key: "colors", Label: "Colors", Type: models.PropMultiSelect, Value: models.ListValue("red, blue", "green")},
			{Key: "summary", Label: "Summary", Type: models.PropText, Value: models.TextValue("line one\n\nline  two")},
			{Key: "stage", Label: "Stage", Type: models.PropSelect, Value: models.TextValue("a, b")},
		},
	}

	d := Decode(EncodeDocument(obj, EncodeOptions{}))
	if got := strings.Join(d.Tags, "|"); got != "work, q3|x" {
		t.Errorf("tags = %q, want %q", got, "work, q3|x")
	}
	if len(d.Properties) != 3 {
		t.Fatalf("got %d properties, want 3", len(d.Properties))
	}
	if got := strings.Join(d.Properties[0].Value.Items, "|"); got != "red, blue|green" {
		t.Errorf("items = %q", got)
	}
	if got := d.Properties[1].Value.Text; got != "line one\n\nline  two" {
		t.Errorf("text = %q", got)
	}
	if got := d.Properties[2].Value.Text; got != "a, b" {
		t.Errorf("select = %q", got)
	}
}

func TestDecode_EditedCellOverridesStoredValue(t *testing.T) {
	body := `<table data-loom="frontmatter">` +
		`<tr><td>Type</td><td>Note</td></tr>` +
		`<tr><td>Id</td><td>n1</td></tr>` +
		`<tr data-value="[&#34;old&#34;]"><td>Tags</td><td>fresh, other</td></tr>` +
		`<tr data-key="summary" data-type="text" data-value="&#34;before&#34;"><td>Summary</td><td>after</td></tr>` +
		`</table><hr><p>body</p>`

	d := Decode(body)
	if got := strings.Join(d.Tags, "|"); got != "fresh|other" {
		t.Errorf("tags = %q, want fresh|other", got)
	}
	if len(d.Properties) != 1 || d.Properties[0].Value.Text != "after" {
		t.Errorf("properties = %+v, want summary=after", d.Properties)
	}
}

func TestEncode_NoBackmatterWithoutBacklinks(t *testing.T) {
	body := EncodeDocument(sampleObject(), EncodeOptions{})
	if strings.Contains(body, `data-loom="backmatter"`) {
		t.Errorf("unexpected backmatter: %s", body)
	}
	if !strings.Contains(body, `<span data-object-id="p1">p1</span>`) {
		t.Errorf("unresolved reference should render its id: %s", body)
	}
}

func TestDecode_NoDividerIsDegraded(t *testing.T) {
	body := `<table><tr><td>Type</td><td>Note</td></tr><tr><td>Id</td><td>x</td></tr></table><p>Body</p>`
	d := Decode(body)
	if !d.Degraded {
		t.Fatal("expected degraded decode")
	}
	if d.ID != "" {
		t.Errorf("id = %q, want empty", d.ID)
	}
	if !strings.Contains(d.Content, "<p>Body</p>") || !strings.Contains(d.Content, "Note") {
		t.Errorf("whole body should be content, got %q", d.Content)
	}
}

func TestDecode_DividerWithoutTableIsContent(t *testing.T) {
	d := Decode(`<p>one</p><hr/><p>two</p>`)
	if !d.Degraded {
		t.Fatal("expected degraded decode")
	}
	if !strings.Contains(d.Content, "one") || !strings.Contains(d.Content, "two") {
		t.Errorf("content = %q", d.Content)
	}
}

func TestDecode_StripsUnmarkedBackmatter(t *testing.T) {
	body := `<table><tr><td>Type</td><td>Note</td></tr></table><hr/>` +
		`<p>Text</p><h2>Backlinks</h2><h3>Other</h3><ul><li>ctx</li></ul>`
	d := Decode(body)
	if d.Content != "<p>Text</p>" {
		t.Errorf("content = %q", d.Content)
	}
	if d.Type != "Note" {
		t.Errorf("type = %q", d.Type)
	}
}

func TestDecode_LabelFallback(t *testing.T) {
	body := `<table><tr><td>Type</td><td>Task</td></tr><tr><td>Due Date</td><td>2024-05-01</td></tr></table><hr/><p>x</p>`
	d := Decode(body)
	if len(d.Properties) != 1 {
		t.Fatalf("properties = %+v", d.Properties)
	}
	p := d.Properties[0]
	if p.Key != "due_date" || p.Type != models.PropText || p.Value.Text != "2024-05-01" {
		t.Errorf("property = %+v", p)
	}
}

func TestRewriteContent(t *testing.T) {
	content := `<p>See <span data-object-id="a">A</span>, <span data-mention-id="b">B</span> and <span data-object-id="c">C</span>.</p><p><img src="asset:img1"/></p>`
	resolve := resolver(
		Reference{ID: "a", Title: "A", FileID: "f-a", Found: true},
		Reference{ID: "b", Title: "B", Found: true},
	)
	var uploaded []string
	upload := func(_ context.Context, id string) (string, error) {
		uploaded = append(uploaded, id)
		return "https://cdn.test/" + id, nil
	}

	out, err := RewriteContent(context.Background(), content, resolve, docURL, upload)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`<a data-object-id="a" href="https://docs.test/d/f-a">A</a>`,
		`<span data-object-id="b" style="color:#9ca3af">B</span>`,
		`<span data-object-id="c">C</span>`,
		`src="https://cdn.test/img1"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "data-mention-id") {
		t.Errorf("legacy marker not normalised: %s", out)
	}
	if len(uploaded) != 1 || uploaded[0] != "img1" {
		t.Errorf("uploaded = %v", uploaded)
	}
}

func TestRewriteContent_AssetFailureContinues(t *testing.T) {
	content := `<p><img src="asset:bad"/><img src="asset:good"/></p>`
	upload := func(_ context.Context, id string) (string, error) {
		if id == "bad" {
			return "", errors.New("boom")
		}
		return "https://cdn.test/" + id, nil
	}
	out, err := RewriteContent(context.Background(), content, resolver(), docURL, upload)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(out, `src="asset:bad"`) || !strings.Contains(out, `src="https://cdn.test/good"`) {
		t.Errorf("output = %s", out)
	}
}

type fakeLookup map[string]*models.Object

func (f fakeLookup) GetObject(_ context.Context, id string) (*models.Object, error) {
	if o, ok := f[id]; ok {
		return o, nil
	}
	return nil, apperr.ErrNotFound
}

func (f fakeLookup) AllObjects(context.Context) ([]*models.Object, error) {
	out := make([]*models.Object, 0, len(f))
	for _, o := range f {
		out = append(out, o)
	}
	return out, nil
}

func TestCodec_EncodeUsesStore(t *testing.T) {
	lookup := fakeLookup{
		"t": {ID: "t", Title: "Target", Type: "Note", Content: "<p>body</p>"},
		"s": {
			ID: "s", Title: "Source", Type: "Note",
			Content: `<p>Talked about <span data-object-id="t">Target</span> today.</p>`,
			Remote:  &models.RemoteRef{FileID: "f-s"},
		},
	}
	c := New(lookup, Options{DocumentURL: "https://docs.test/d/%s/edit"})

	body, err := c.Encode(context.Background(), lookup["t"])
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`data-loom="backmatter"`,
		`href="https://docs.test/d/f-s/edit"`,
		"Talked about Target today.",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s:\n%s", want, body)
		}
	}

	out, err := c.Rewrite(context.Background(), lookup["t"].Content+`<p><span data-object-id="s">S</span></p>`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `href="https://docs.test/d/f-s/edit"`) {
		t.Errorf("rewrite = %s", out)
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Due Date":      "due_date",
		"  Owner  ":     "owner",
		"E-mail (work)": "e_mail_work",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}
