package kernel

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/manthysbr/templaterelay/internal/adapters/blob"
)

type uploadRequest struct {
	FileName string `json:"file_name"`
	Title    string `json:"title"`
	Data     string `json:"data"` // base64
}

type uploadResponse struct {
	DownloadURL string `json:"download_url"`
	FileName    string `json:"file_name"`
}

// handleUploadImage stores a rendered template.
// POST /v1/images
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.FileName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "file_name is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "data must be base64: "+err.Error())
		return
	}

	obj, err := s.images.Put(req.FileName, req.Title, data)
	switch {
	case errors.Is(err, blob.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.logger.InfoContext(r.Context(), "image uploaded", "file_name", obj.Name, "title", obj.Title, "bytes", len(data))
	writeJSON(w, http.StatusCreated, uploadResponse{DownloadURL: s.images.URL(obj.Name), FileName: obj.Name})
}

// GET /v1/images/{name}
func (s *Server) handleDownloadImage(w http.ResponseWriter, r *http.Request) {
	obj, err := s.images.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}
