package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/loom/internal/document"
	"github.com/starford/loom/internal/objectservice"
)

const maxUploadBytes = 50 << 20 // 50 MB

// AssetHandler accepts and serves local assets. Uploaded assets are
// referenced from content with an asset:<id> image source and pushed to the
// remote when an object using them is saved.
type AssetHandler struct {
	svc *objectservice.Service
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(svc *objectservice.Service) *AssetHandler {
	return &AssetHandler{svc: svc}
}

// Upload handles POST /api/assets (multipart/form-data, field "file").
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	asset, err := h.svc.PutAsset(r.Context(), filepath.Base(header.Filename), mimeType, data)
	if err != nil {
		writeError(w, "upload asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, AssetUploadResponse{
		ID:       asset.ID,
		Name:     asset.Name,
		Size:     len(data),
		Marker:   document.AssetScheme + asset.ID,
		URL:      "/api/assets/" + asset.ID,
		MIMEType: asset.MIMEType,
	})
}

// Serve handles GET /api/assets/{id}. Assets already uploaded redirect to
// their remote URL.
func (h *AssetHandler) Serve(w http.ResponseWriter, r *http.Request) {
	asset, err := h.svc.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get asset", err)
		return
	}
	if asset.Uploaded() && r.URL.Query().Get("local") == "" {
		http.Redirect(w, r, asset.RemoteURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", asset.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	_, _ = w.Write(asset.Data)
}
