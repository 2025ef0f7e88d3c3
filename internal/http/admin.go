package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"fieldops/internal/model"
)

// heartbeat keeps idle event streams open through proxies.
const heartbeat = 25 * time.Second

func (s *Server) handleCountOfficers(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CountOfficers(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

type setRoleRequest struct {
	Role model.Role `json:"role" validate:"required,oneof=admin field_officer"`
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	row, err := s.store.SetRole(r.Context(), chi.URLParam(r, "userId"), req.Role)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	s.logger.Info("role changed",
		zap.String("user_id", row.UserID),
		zap.String("role", string(row.Role)),
		zap.String("by", claimsFromContext(r.Context()).UserID))
	writeJSON(w, http.StatusOK, row)
}

// handleOdometerEvents streams recorded readings as Server-Sent Events
// until the client goes away.
func (s *Server) handleOdometerEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}
	events := make(chan model.OdometerLog, 16)
	cancel := s.odometer.Subscribe(func(entry model.OdometerLog) {
		select {
		case events <- entry:
		default:
			s.logger.Warn("odometer stream lagging, dropping event", zap.String("id", entry.ID))
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case entry := <-events:
			data, err := json.Marshal(entry)
			if err != nil {
				s.logger.Error("encode odometer event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: odometer\nid: %s\ndata: %s\n\n", entry.ID, data)
			flusher.Flush()
		}
	}
}
