package http

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"fieldops/internal/model"
	"fieldops/internal/storage"
)

// MaxPhotoBytes bounds an odometer photo upload.
const MaxPhotoBytes = 10 << 20

// handleUploadOdometerPhoto stores a photo under the caller's own folder.
// Existing objects are never replaced.
func (s *Server) handleUploadOdometerPhoto(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	key := chi.URLParam(r, "*")
	if !storage.ValidKey(key) {
		writeError(w, http.StatusBadRequest, "invalid_path")
		return
	}
	if !strings.HasPrefix(key, claims.UserID+"/") {
		writeError(w, http.StatusForbidden, "foreign_path")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusUnsupportedMediaType, "not_an_image")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPhotoBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "photo_too_large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty_photo")
		return
	}

	if err := s.photos.PutNew(r.Context(), key, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		if errors.Is(err, model.ErrConflict) {
			writeError(w, http.StatusConflict, "object_exists")
			return
		}
		s.logger.Error("store odometer photo", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusBadGateway, "storage_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": key})
}
