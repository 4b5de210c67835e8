package api

import (
	"github.com/starford/loom/internal/graph"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/objectservice"
	"github.com/starford/loom/internal/store"
)

// ObjectRequest is the request body for creating or updating an object.
type ObjectRequest = objectservice.ObjectInput

// ObjectDetail is the full object response type (aliased from the domain layer).
type ObjectDetail = objectservice.ObjectDetail

// ObjectListItem is a lightweight item in a list response (aliased from the domain layer).
type ObjectListItem = objectservice.ObjectListItem

// SaveResponse is returned by create and update. SyncError is set, with
// status 202, when the object was saved locally but could not be pushed.
type SaveResponse struct {
	*ObjectDetail
	SyncError string `json:"sync_error,omitempty"`
}

// ObjectListResponse wraps paginated object listings.
type ObjectListResponse struct {
	Objects []ObjectListItem `json:"objects" validate:"required"`
	Total   int              `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []store.SearchResult `json:"results" validate:"required"`
}

// BacklinksResponse wraps backlink groups for one target.
type BacklinksResponse struct {
	Target    string        `json:"target" validate:"required"`
	Backlinks []links.Group `json:"backlinks" validate:"required"`
}

// GraphResponse is the relationship graph.
type GraphResponse = graph.Graph

// AssetUploadResponse is returned after a successful asset upload.
type AssetUploadResponse struct {
	ID       string `json:"id" example:"3f1c..." validate:"required"`
	Name     string `json:"name" example:"image.png" validate:"required"`
	Size     int    `json:"size" example:"12345" validate:"required"`
	Marker   string `json:"marker" example:"asset:3f1c..." validate:"required"`
	URL      string `json:"url" example:"/api/assets/3f1c..." validate:"required"`
	MIMEType string `json:"mime_type" example:"image/png"`
}
