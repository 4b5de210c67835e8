package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/loom/internal/objectservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *objectservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	ah := NewAssetHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/objects", h.ListObjects)
	r.Post("/objects", h.CreateObject)
	r.Get("/objects/{id}", h.GetObject)
	r.Put("/objects/{id}", h.UpdateObject)
	r.Delete("/objects/{id}", h.DeleteObject)
	r.Get("/objects/{id}/backlinks", h.Backlinks)

	r.Get("/search", h.Search)
	r.Get("/graph", h.Graph)

	r.Get("/schemas", h.ListSchemas)
	r.Put("/schemas/{name}", h.PutSchema)
	r.Get("/tags", h.ListTags)
	r.Put("/tags/{name}", h.PutTag)
	r.Get("/calendar", h.ListCalendarEvents)
	r.Get("/mail", h.ListMailMessages)

	r.Post("/sync", h.Sync)
	r.Post("/resync", h.Resync)
	r.Get("/status", h.Status)

	r.Post("/assets", ah.Upload)
	r.Get("/assets/{id}", ah.Serve)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
