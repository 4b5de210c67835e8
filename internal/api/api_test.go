package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/loom/internal/codec"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/objectservice"
	"github.com/starford/loom/internal/syncengine"
	"github.com/starford/loom/internal/testutil"
)

// testEnv wires a temp SQLite store, an in-memory remote, the sync engine
// and the router. An empty authToken disables auth.
func testEnv(t *testing.T, authToken string) (*testutil.FakeRemote, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*testutil.FakeRemote, http.Handler) {
	t.Helper()
	db := testutil.TestDB(t)
	fake := testutil.NewFakeRemote()
	c := codec.New(db, codec.Options{DocumentURL: "https://docs.test/%s"})
	engine := syncengine.New(db, fake, c, syncengine.Options{Logger: testutil.Logger()})
	svc := objectservice.NewService(db, engine)
	return fake, NewRouter(svc, authEnabled, token, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestCreateAndGetObject(t *testing.T) {
	fake, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/objects",
		map[string]string{"id": "m1", "title": "Kickoff", "type": "Meeting", "content": "<p>agenda</p>"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[SaveResponse](t, w)
	if created.Remote == nil || created.Remote.FileID == "" {
		t.Errorf("remote = %+v, want pushed", created.Remote)
	}
	if len(created.Properties) != 3 {
		t.Errorf("properties = %d, want Meeting schema defaults", len(created.Properties))
	}
	if creates, _, _ := fake.Calls(); creates != 1 {
		t.Errorf("remote creates = %d, want 1", creates)
	}

	w = do(t, router, http.MethodGet, "/objects/m1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decode[ObjectDetail](t, w)
	if got.Title != "Kickoff" || got.Type != "Meeting" {
		t.Errorf("got %q/%q", got.Title, got.Type)
	}
	if etag := w.Header().Get("ETag"); etag != `"`+got.Checksum+`"` {
		t.Errorf("ETag = %q, checksum = %q", etag, got.Checksum)
	}
}

func TestCreateDuplicate(t *testing.T) {
	_, router := testEnv(t, "")

	body := map[string]string{"id": "dup", "title": "Dup"}
	if w := do(t, router, http.MethodPost, "/objects", body, nil); w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/objects", body, nil); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateInvalidJSON(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/objects", strings.NewReader("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreate_PushFailureIsAccepted(t *testing.T) {
	fake, router := testEnv(t, "")
	fake.CreateErr = errors.New("provider down")

	w := do(t, router, http.MethodPost, "/objects", map[string]string{"id": "n1", "title": "Draft"}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body = %s", w.Code, w.Body.String())
	}
	resp := decode[SaveResponse](t, w)
	if resp.SyncError == "" {
		t.Error("expected sync_error")
	}
	if resp.ObjectDetail == nil || resp.ID != "n1" || resp.Remote != nil {
		t.Errorf("resp = %+v", resp.ObjectDetail)
	}

	if w := do(t, router, http.MethodGet, "/objects/n1", nil, nil); w.Code != http.StatusOK {
		t.Errorf("local copy missing: %d", w.Code)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	fake, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/objects", map[string]string{"id": "n1", "title": "v1"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	created := decode[SaveResponse](t, w)

	update := map[string]string{"title": "v2", "content": "<p>two</p>"}
	w = do(t, router, http.MethodPut, "/objects/n1", update, map[string]string{"If-Match": `"` + created.Checksum + `"`})
	if w.Code != http.StatusOK {
		t.Fatalf("update with correct checksum = %d, body = %s", w.Code, w.Body.String())
	}
	if _, updates, _ := fake.Calls(); updates != 1 {
		t.Errorf("remote updates = %d, want 1", updates)
	}

	w = do(t, router, http.MethodPut, "/objects/n1", update, map[string]string{"If-Match": created.Checksum})
	if w.Code != http.StatusConflict {
		t.Errorf("stale checksum = %d, want 409", w.Code)
	}
}

func TestUpdateWithoutIfMatch(t *testing.T) {
	_, router := testEnv(t, "")

	do(t, router, http.MethodPost, "/objects", map[string]string{"id": "n1", "title": "v1"}, nil)
	w := do(t, router, http.MethodPut, "/objects/n1", map[string]string{"title": "v2"}, nil)
	if w.Code != http.StatusOK {
		t.Errorf("update without If-Match = %d, want 200", w.Code)
	}
	if got := decode[SaveResponse](t, w); got.Title != "v2" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestUpdateObject_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/objects/missing", map[string]string{"title": "x"}, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteObject(t *testing.T) {
	fake, router := testEnv(t, "")

	do(t, router, http.MethodPost, "/objects", map[string]string{"id": "n1", "title": "bye"}, nil)
	fake.DeleteErr = errors.New("provider down")

	if w := do(t, router, http.MethodDelete, "/objects/n1", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/objects/n1", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("after delete = %d, want 404", w.Code)
	}
}

func TestListObjects(t *testing.T) {
	_, router := testEnv(t, "")

	do(t, router, http.MethodPost, "/objects", map[string]any{"id": "a", "title": "Alpha", "type": "Note", "tags": []string{"work"}}, nil)
	do(t, router, http.MethodPost, "/objects", map[string]any{"id": "b", "title": "Beta", "type": "Person"}, nil)

	w := do(t, router, http.MethodGet, "/objects", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	if resp := decode[ObjectListResponse](t, w); resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}

	w = do(t, router, http.MethodGet, "/objects?tag=work", nil, nil)
	resp := decode[ObjectListResponse](t, w)
	if resp.Total != 1 || resp.Objects[0].ID != "a" {
		t.Errorf("tag filter = %+v", resp)
	}

	w = do(t, router, http.MethodGet, "/objects?type=Person", nil, nil)
	resp = decode[ObjectListResponse](t, w)
	if resp.Total != 1 || resp.Objects[0].ID != "b" {
		t.Errorf("type filter = %+v", resp)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	do(t, router, http.MethodPost, "/objects", map[string]string{"id": "n1", "title": "Roadmap", "content": "<p>quarterly planning</p>"}, nil)

	w := do(t, router, http.MethodGet, "/search?q=planning", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	resp := decode[SearchResponse](t, w)
	if len(resp.Results) != 1 || resp.Results[0].ID != "n1" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/search", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestBacklinksAndGraph(t *testing.T) {
	_, router := testEnv(t, "")

	do(t, router, http.MethodPost, "/objects", map[string]string{"id": "p1", "title": "Ada", "type": "Person"}, nil)
	do(t, router, http.MethodPost, "/objects", map[string]any{
		"id":      "m1",
		"title":   "Kickoff",
		"type":    "Meeting",
		"content": `<p>with <span data-object-id="p1">Ada</span></p>`,
		"properties": []models.Property{
			{Key: "attendees", Label: "Attendees", Type: models.PropMultiReference, Value: models.ListValue("p1")},
		},
	}, nil)

	w := do(t, router, http.MethodGet, "/objects/p1/backlinks", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("backlinks = %d", w.Code)
	}
	bl := decode[BacklinksResponse](t, w)
	if bl.Target != "p1" || len(bl.Backlinks) != 1 || bl.Backlinks[0].SourceID != "m1" {
		t.Errorf("backlinks = %+v", bl)
	}

	if w := do(t, router, http.MethodGet, "/objects/nope/backlinks", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing target = %d, want 404", w.Code)
	}

	w = do(t, router, http.MethodGet, "/graph", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("graph = %d", w.Code)
	}
	g := decode[GraphResponse](t, w)
	if len(g.Nodes) != 2 || len(g.Edges) == 0 {
		t.Errorf("graph nodes=%d edges=%d", len(g.Nodes), len(g.Edges))
	}
}

func TestSchemasAndTags(t *testing.T) {
	_, router := testEnv(t, "")

	schema := models.TypeSchema{Properties: []models.PropertyDef{{Key: "isbn", Label: "ISBN", Type: models.PropText}}}
	if w := do(t, router, http.MethodPut, "/schemas/Book", schema, nil); w.Code != http.StatusOK {
		t.Fatalf("put schema = %d, body = %s", w.Code, w.Body.String())
	}
	w := do(t, router, http.MethodGet, "/schemas", nil, nil)
	resp := decode[struct {
		Schemas []models.TypeSchema `json:"schemas"`
	}](t, w)
	found := false
	for _, s := range resp.Schemas {
		found = found || s.Name == "Book"
	}
	if !found {
		t.Errorf("Book schema not listed: %+v", resp.Schemas)
	}

	w = do(t, router, http.MethodPost, "/objects", map[string]string{"id": "b1", "title": "Dune", "type": "Book"}, nil)
	if got := decode[SaveResponse](t, w); len(got.Properties) != 1 || got.Properties[0].Key != "isbn" {
		t.Errorf("properties = %+v", got.Properties)
	}

	if w := do(t, router, http.MethodPut, "/tags/work", models.TagConfig{Color: "#ff0000"}, nil); w.Code != http.StatusOK {
		t.Fatalf("put tag = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/tags", nil, nil)
	tags := decode[struct {
		Tags []models.TagConfig `json:"tags"`
	}](t, w)
	if len(tags.Tags) != 1 || tags.Tags[0].Name != "work" {
		t.Errorf("tags = %+v", tags.Tags)
	}
}

func TestSyncAndStatus(t *testing.T) {
	fake, router := testEnv(t, "")
	fake.Put("f1", &models.Object{ID: "r1", Title: "From remote", Type: "Note"})

	w := do(t, router, http.MethodPost, "/sync", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/objects/r1", nil, nil); w.Code != http.StatusOK {
		t.Errorf("imported object = %d", w.Code)
	}

	w = do(t, router, http.MethodGet, "/status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	st := decode[syncengine.Status](t, w)
	if st.Cursor == "" {
		t.Errorf("cursor not recorded: %+v", st)
	}
}

// Auth tests.

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodPost, "/objects", map[string]string{"title": "auth"},
		map[string]string{"Authorization": "Bearer secret123"})
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	if w := do(t, router, http.MethodGet, "/objects", nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/objects", nil, map[string]string{"Authorization": "Bearer wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/objects", nil, nil); w.Code != http.StatusOK {
		t.Errorf("disabled auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func blockingSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", blockingSSE())

	if w := do(t, router, http.MethodGet, "/events", nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", blockingSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

// Asset tests.

func uploadAsset(t *testing.T, router http.Handler, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/assets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadAndServeAsset(t *testing.T) {
	fake, router := testEnv(t, "")

	w := uploadAsset(t, router, "diagram.png", []byte("fake-png-data"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[AssetUploadResponse](t, w)
	if resp.Name != "diagram.png" || resp.Size != len("fake-png-data") {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Marker != "asset:"+resp.ID {
		t.Errorf("marker = %q", resp.Marker)
	}

	w = do(t, router, http.MethodGet, "/assets/"+resp.ID, nil, nil)
	if w.Code != http.StatusOK || w.Body.String() != "fake-png-data" {
		t.Fatalf("serve = %d %q", w.Code, w.Body.String())
	}

	// Saving an object that embeds the asset uploads it; afterwards the
	// asset route redirects to the remote copy.
	content := `<p><img src="` + resp.Marker + `"></p>`
	w = do(t, router, http.MethodPost, "/objects", map[string]string{"id": "n1", "title": "With image", "content": content}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	if fake.Uploads != 1 {
		t.Errorf("uploads = %d, want 1", fake.Uploads)
	}
	w = do(t, router, http.MethodGet, "/assets/"+resp.ID, nil, nil)
	if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), "https://cdn.test/") {
		t.Errorf("after upload = %d %q", w.Code, w.Header().Get("Location"))
	}
}

func TestServeAsset_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/assets/missing", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestUploadAsset_MissingFileField(t *testing.T) {
	_, router := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "x")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/assets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_QueryTokenOnGet(t *testing.T) {
	_, router := testEnv(t, "secret123")

	if w := do(t, router, http.MethodGet, "/objects?access_token=secret123", nil, nil); w.Code != http.StatusOK {
		t.Errorf("query token GET = %d, want 200", w.Code)
	}
	w := do(t, router, http.MethodPost, "/objects?access_token=secret123", map[string]string{"title": "x"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token POST = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}
}
