package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fieldops/internal/model"
	"fieldops/internal/repository"
)

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	profile, err := s.store.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	role, err := s.roles.GetRole(r.Context(), claims.UserID)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleClockIn(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req model.NewClockLog
	if !s.decodeValid(w, r, &req) {
		return
	}
	saved, err := s.store.InsertClockLog(r.Context(), model.ClockLog{
		UserID:             claims.UserID,
		ClockInAt:          req.ClockInAt,
		ClockInLat:         req.ClockInLat,
		ClockInLng:         req.ClockInLng,
		ClockInOdometerURL: req.ClockInOdometerURL,
		Notes:              req.Notes,
	})
	if err != nil {
		s.writeStoreError(w, err, "clock_log_open")
		return
	}
	s.metrics.clockEvent("clock_in")
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleClockOut(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req model.ClockLogClose
	if !s.decodeValid(w, r, &req) {
		return
	}
	saved, err := s.store.CloseClockLog(r.Context(), claims.UserID, chi.URLParam(r, "id"), repository.ClockOut{
		At:          req.ClockOutAt,
		Lat:         req.ClockOutLat,
		Lng:         req.ClockOutLng,
		OdometerURL: req.ClockOutOdometerURL,
	})
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	s.metrics.clockEvent("clock_out")
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleOpenClockLog(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	open, err := s.store.OpenClockLog(r.Context(), claims.UserID)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, open)
}

func (s *Server) handleCreateWorkSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req model.NewWorkSession
	if !s.decodeValid(w, r, &req) {
		return
	}
	saved, err := s.store.InsertWorkSession(r.Context(), claims.UserID, req.LoginAt)
	if err != nil {
		s.writeStoreError(w, err, "work_session_open")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleCloseWorkSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req model.WorkSessionClose
	if !s.decodeValid(w, r, &req) {
		return
	}
	saved, err := s.store.CloseWorkSession(r.Context(), claims.UserID, chi.URLParam(r, "id"), req.LogoutAt)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListWorkSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	list, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	f := repository.WorkSessionFilter{Since: list.Since, Limit: list.Limit}
	switch r.URL.Query().Get("open") {
	case "", "false":
	case "true":
		f.OpenOnly = true
	default:
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	rows, err := s.store.ListWorkSessions(r.Context(), claims.UserID, f)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req model.NewMeeting
	if !s.decodeValid(w, r, &req) {
		return
	}
	count := req.AttendeeCount
	if req.MeetingType == model.MeetingOneOnOne {
		count = 1
	}
	saved, err := s.store.InsertMeeting(r.Context(), model.Meeting{
		UserID:        claims.UserID,
		MeetingType:   req.MeetingType,
		MeetingAt:     req.MeetingAt,
		Lat:           req.Lat,
		Lng:           req.Lng,
		AttendeeName:  req.AttendeeName,
		AttendeeCount: count,
		PhotoURL:      req.PhotoURL,
		Notes:         req.Notes,
	})
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	rows, err := s.store.ListMeetings(r.Context(), claims.UserID, f)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateDistribution(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req model.NewDistribution
	if !s.decodeValid(w, r, &req) {
		return
	}
	saved, err := s.store.InsertDistribution(r.Context(), model.Distribution{
		UserID:        claims.UserID,
		DistributedAt: req.DistributedAt,
		SampleName:    req.SampleName,
		Quantity:      req.Quantity,
		Purpose:       req.Purpose,
		RecipientName: req.RecipientName,
		Lat:           req.Lat,
		Lng:           req.Lng,
		Notes:         req.Notes,
	})
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListDistributions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	rows, err := s.store.ListDistributions(r.Context(), claims.UserID, f)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req model.NewSale
	if !s.decodeValid(w, r, &req) {
		return
	}
	if req.UnitPrice != nil && req.UnitPrice.IsNegative() {
		writeError(w, http.StatusBadRequest, "invalid_unit_price")
		return
	}
	total := req.TotalAmount
	if req.UnitPrice != nil {
		computed := req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
		total = &computed
	}
	saved, err := s.store.InsertSale(r.Context(), model.Sale{
		UserID:       claims.UserID,
		SoldAt:       req.SoldAt,
		SaleType:     req.SaleType,
		SKU:          req.SKU,
		ProductName:  req.ProductName,
		Quantity:     req.Quantity,
		UnitPrice:    req.UnitPrice,
		TotalAmount:  total,
		CustomerName: req.CustomerName,
		Lat:          req.Lat,
		Lng:          req.Lng,
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	rows, err := s.store.ListSales(r.Context(), claims.UserID, f)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateOdometerLog(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req model.NewOdometerLog
	if !s.decodeValid(w, r, &req) {
		s.metrics.odometerSubmission("invalid")
		return
	}
	saved, err := s.store.InsertOdometerLog(r.Context(), model.OdometerLog{
		UserID:     claims.UserID,
		ReadingKm:  req.ReadingKm,
		PhotoURL:   req.PhotoURL,
		RecordedAt: req.RecordedAt,
	})
	if err != nil {
		s.metrics.odometerSubmission("error")
		s.writeStoreError(w, err, "")
		return
	}
	s.metrics.odometerSubmission("ok")
	s.relay.Publish(r.Context(), saved)
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListOdometerLogs(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	rows, err := s.store.ListOdometerLogs(r.Context(), claims.UserID, f)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// countFilter answers the request itself when the filter is unusable or
// asks for every user without the admin role.
func (s *Server) countFilter(w http.ResponseWriter, r *http.Request) (model.CountFilter, bool) {
	f, err := parseCountFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return f, false
	}
	if f.All && !s.isAdmin(r.Context(), claimsFromContext(r.Context()).UserID) {
		writeError(w, http.StatusForbidden, "admin_only")
		return f, false
	}
	return f, true
}

func (s *Server) handleCount(c model.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := s.countFilter(w, r)
		if !ok {
			return
		}
		n, err := s.store.Count(r.Context(), claimsFromContext(r.Context()).UserID, c, f)
		if err != nil {
			s.writeStoreError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": n})
	}
}

func (s *Server) handleSalesTotal(w http.ResponseWriter, r *http.Request) {
	f, ok := s.countFilter(w, r)
	if !ok {
		return
	}
	total, err := s.store.SalesTotal(r.Context(), claimsFromContext(r.Context()).UserID, f)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"total": total})
}
