// Package http serves the field-ops data API: sessions, the per-user
// collections, photo uploads and the admin endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"fieldops/internal/auth"
	"fieldops/internal/config"
	"fieldops/internal/events"
	"fieldops/internal/logger"
	"fieldops/internal/model"
	"fieldops/internal/repository"
	"fieldops/internal/storage"
)

// Publisher announces a saved odometer reading to live listeners.
type Publisher interface {
	Publish(ctx context.Context, entry model.OdometerLog)
}

type roleReader interface {
	GetRole(ctx context.Context, userID string) (*model.UserRole, error)
}

type Deps struct {
	Revoker  auth.Revoker
	Photos   storage.ObjectStore
	Odometer *events.OdometerRecorded
	// Relay defaults to publishing on Odometer only.
	Relay   Publisher
	Metrics *Metrics
	Logger  *zap.Logger
}

type Server struct {
	cfg      config.Config
	store    *repository.Store
	roles    roleReader
	revoker  auth.Revoker
	photos   storage.ObjectStore
	odometer *events.OdometerRecorded
	relay    Publisher
	metrics  *Metrics
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewServer(cfg config.Config, store *repository.Store, d Deps) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		roles:    store,
		revoker:  d.Revoker,
		photos:   d.Photos,
		odometer: d.Odometer,
		relay:    d.Relay,
		metrics:  d.Metrics,
		validate: newValidator(),
		logger:   logger.OrNop(d.Logger),
		now:      time.Now,
	}
	if s.revoker == nil {
		s.revoker = auth.NewMemoryRevoker()
	}
	if s.photos == nil {
		s.photos = storage.NewMemoryStore()
	}
	if s.odometer == nil {
		s.odometer = events.NewOdometerRecorded()
	}
	if s.relay == nil {
		s.relay = busPublisher{bus: s.odometer}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

type busPublisher struct {
	bus *events.OdometerRecorded
}

func (p busPublisher) Publish(_ context.Context, entry model.OdometerLog) { p.bus.Publish(entry) }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Post("/auth/signup", s.handleSignUp)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/session", s.handleSession)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/profiles/me", s.handleGetProfile)
		r.Get("/roles/me", s.handleGetRole)

		r.Post("/clock-logs", s.handleClockIn)
		r.Get("/clock-logs/open", s.handleOpenClockLog)
		r.Patch("/clock-logs/{id}", s.handleClockOut)

		r.Post("/work-sessions", s.handleCreateWorkSession)
		r.Get("/work-sessions", s.handleListWorkSessions)
		r.Patch("/work-sessions/{id}", s.handleCloseWorkSession)

		r.Post("/meetings", s.handleCreateMeeting)
		r.Get("/meetings", s.handleListMeetings)
		r.Post("/distributions", s.handleCreateDistribution)
		r.Get("/distributions", s.handleListDistributions)
		r.Post("/sales", s.handleCreateSale)
		r.Get("/sales", s.handleListSales)
		r.Get("/sales/total", s.handleSalesTotal)
		r.Post("/odometer-logs", s.handleCreateOdometerLog)
		r.Get("/odometer-logs", s.handleListOdometerLogs)

		for _, c := range []model.Collection{
			model.CollectionClockLogs,
			model.CollectionWorkSessions,
			model.CollectionMeetings,
			model.CollectionDistributions,
			model.CollectionSales,
			model.CollectionOdometerLogs,
		} {
			r.Get("/"+collectionPath(c)+"/count", s.handleCount(c))
		}

		r.Put("/storage/odometer-photos/*", s.handleUploadOdometerPhoto)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireAdmin)
		r.Get("/officers/count", s.handleCountOfficers)
		r.Put("/roles/{userId}", s.handleSetRole)
		r.Get("/events/odometer", s.handleOdometerEvents)
	})

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		revoked, err := s.revoker.IsRevoked(r.Context(), claims.ID)
		if err != nil {
			s.logger.Error("check token revocation", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "revocation_unavailable")
			return
		}
		if revoked {
			writeError(w, http.StatusUnauthorized, "token_revoked")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin reads the current role, not the one baked into the token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if !s.isAdmin(r.Context(), claims.UserID) {
			writeError(w, http.StatusForbidden, "admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isAdmin(ctx context.Context, userID string) bool {
	row, err := s.roles.GetRole(ctx, userID)
	if err != nil {
		s.logger.Warn("role lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return row != nil && row.Role.IsAdmin()
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

// decodeValid answers 400 itself and reports whether the handler may go on.
func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := decodeJSON(r, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid_"+verrs[0].Field())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeStoreError maps repository sentinels onto statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, conflictCode string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, conflictCode)
	case errors.Is(err, repository.ErrInvalidFilter), errors.Is(err, repository.ErrUnknownCollection):
		writeError(w, http.StatusBadRequest, "invalid_filter")
	default:
		s.logger.Error("store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}

func collectionPath(c model.Collection) string {
	return strings.ReplaceAll(string(c), "_", "-")
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
