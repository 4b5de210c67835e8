package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/objectservice"
	"github.com/starford/loom/internal/store"
	"github.com/starford/loom/internal/syncengine"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *objectservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *objectservice.Service) *Handler {
	return &Handler{svc: svc}
}

func setETag(w http.ResponseWriter, sum string) {
	w.Header().Set("ETag", `"`+sum+`"`)
}

// writeSaved writes a create/update result. A degraded push still returns
// the saved object, with 202 and the sync error attached.
func writeSaved(w http.ResponseWriter, okStatus int, detail *ObjectDetail, err error) {
	var degraded *syncengine.DegradedError
	switch {
	case err == nil:
		setETag(w, detail.Checksum)
		writeJSON(w, okStatus, SaveResponse{ObjectDetail: detail})
	case errors.As(err, &degraded) && detail != nil:
		setETag(w, detail.Checksum)
		writeJSON(w, http.StatusAccepted, SaveResponse{ObjectDetail: detail, SyncError: degraded.Err.Error()})
	default:
		writeError(w, "save object", err)
	}
}

// ListObjects handles GET /api/objects.
//
//	@Summary		List objects with optional pagination and filtering
//	@Tags			objects
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			type	query		string	false	"Filter by type"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Param			q		query		string	false	"Substring filter on title and content"
//	@Param			sort	query		string	false	"Sort field"	Enums(updated_at, title)
//	@Success		200		{object}	ObjectListResponse
//	@Security		BearerAuth
//	@Router			/objects [get]
func (h *Handler) ListObjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListObjects(r.Context(), store.ObjectFilter{
		Type:   q.Get("type"),
		Tag:    q.Get("tag"),
		Query:  q.Get("q"),
		Sort:   q.Get("sort"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, "list objects", err)
		return
	}
	writeJSON(w, http.StatusOK, ObjectListResponse{Objects: items, Total: total})
}

// GetObject handles GET /api/objects/{id}.
//
//	@Summary		Get a single object with its backlinks
//	@Tags			objects
//	@Produce		json
//	@Param			id	path		string	true	"Object id"
//	@Success		200	{object}	ObjectDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id} [get]
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	obj, err := h.svc.GetObject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get object", err)
		return
	}
	setETag(w, obj.Checksum)
	writeJSON(w, http.StatusOK, obj)
}

// CreateObject handles POST /api/objects.
//
//	@Summary		Create an object and push it to the remote
//	@Tags			objects
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ObjectRequest	true	"Object to create"
//	@Success		201		{object}	SaveResponse
//	@Success		202		{object}	SaveResponse	"Saved locally, push failed"
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects [post]
func (h *Handler) CreateObject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	detail, err := h.svc.CreateObject(r.Context(), req)
	writeSaved(w, http.StatusCreated, detail, err)
}

// UpdateObject handles PUT /api/objects/{id}.
//
//	@Summary		Update an object with optimistic concurrency
//	@Tags			objects
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string			true	"Object id"
//	@Param			If-Match	header		string			false	"Checksum from a previous read"
//	@Param			body		body		ObjectRequest	true	"Updated fields"
//	@Success		200			{object}	SaveResponse
//	@Success		202			{object}	SaveResponse	"Saved locally, push failed"
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id} [put]
func (h *Handler) UpdateObject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	detail, err := h.svc.UpdateObject(r.Context(), chi.URLParam(r, "id"), req, ifMatch)
	writeSaved(w, http.StatusOK, detail, err)
}

// DeleteObject handles DELETE /api/objects/{id}. The remote copy is deleted
// best effort; its failure does not fail the request.
//
//	@Summary		Delete an object
//	@Tags			objects
//	@Param			id	path	string	true	"Object id"
//	@Success		204	"Object deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/objects/{id} [delete]
func (h *Handler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteObject(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete object", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backlinks handles GET /api/objects/{id}/backlinks.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	groups, err := h.svc.Backlinks(r.Context(), id)
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{Target: id, Backlinks: groups})
}

// Search handles GET /api/search.
//
//	@Summary		Substring search across object titles and content
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the relationship graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Graph(r.Context())
	if err != nil {
		writeError(w, "graph", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ListSchemas handles GET /api/schemas.
func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.svc.Schemas(r.Context())
	if err != nil {
		writeError(w, "list schemas", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": schemas})
}

// PutSchema handles PUT /api/schemas/{name}.
func (h *Handler) PutSchema(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var schema models.TypeSchema
	if err := json.NewDecoder(r.Body).Decode(&schema); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	schema.Name = chi.URLParam(r, "name")
	if err := h.svc.PutSchema(r.Context(), schema); err != nil {
		writeError(w, "put schema", err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// ListTags handles GET /api/tags.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Tags(r.Context())
	if err != nil {
		writeError(w, "list tags", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// PutTag handles PUT /api/tags/{name}.
func (h *Handler) PutTag(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var tag models.TagConfig
	if err := json.NewDecoder(r.Body).Decode(&tag); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	tag.Name = chi.URLParam(r, "name")
	if err := h.svc.PutTag(r.Context(), tag); err != nil {
		writeError(w, "put tag", err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// ListCalendarEvents handles GET /api/calendar.
func (h *Handler) ListCalendarEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.CalendarEvents(r.Context())
	if err != nil {
		writeError(w, "list calendar", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ListMailMessages handles GET /api/mail.
func (h *Handler) ListMailMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.MailMessages(r.Context())
	if err != nil {
		writeError(w, "list mail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// Sync handles POST /api/sync: one incremental pass over the change feed.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Sync(r.Context())
	if err != nil {
		writeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Resync handles POST /api/resync: clear the local cache and re-import.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Resync(r.Context()); err != nil {
		writeError(w, "resync", err)
		return
	}
	h.Status(w, r)
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writeError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
