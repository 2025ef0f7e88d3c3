package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldops/internal/auth"
	"fieldops/internal/crypto"
	"fieldops/internal/model"
)

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	FullName string `json:"full_name" validate:"max=200"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !s.decodeValid(w, r, &req) {
		s.metrics.authAttempt("signup", "invalid")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	account, err := s.store.CreateAccount(r.Context(), req.Email, hash, strings.TrimSpace(req.FullName))
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			s.metrics.authAttempt("signup", "conflict")
			writeError(w, http.StatusConflict, "email_taken")
			return
		}
		s.logger.Error("create account", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	session, err := s.issueTokens(r.Context(), account, model.DefaultRole, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	s.metrics.authAttempt("signup", "ok")
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	account, err := s.store.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.metrics.authAttempt("login", "rejected")
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if err := crypto.CheckPassword(account.PasswordHash, req.Password); err != nil {
		s.metrics.authAttempt("login", "rejected")
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	role, err := s.roleOf(r.Context(), account.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	session, err := s.issueTokens(r.Context(), account, role, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	s.metrics.authAttempt("login", "ok")
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	tokenHash := crypto.HashToken(req.RefreshToken)
	refresh, err := s.store.GetRefreshSession(r.Context(), tokenHash)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.metrics.authAttempt("refresh", "rejected")
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	now := s.now().UTC()
	if refresh.RevokedAt != nil || refresh.ExpiresAt.Before(now) {
		s.metrics.authAttempt("refresh", "rejected")
		writeError(w, http.StatusUnauthorized, "refresh_token_expired")
		return
	}

	account, err := s.store.GetAccountByID(r.Context(), refresh.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}
	role, err := s.roleOf(r.Context(), account.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// Two racing refreshes with one token: only the first revocation wins.
	if err := s.store.RevokeRefreshSession(r.Context(), refresh.ID, now); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.metrics.authAttempt("refresh", "rejected")
			writeError(w, http.StatusUnauthorized, "refresh_token_expired")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	session, err := s.issueTokens(r.Context(), account, role, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	s.metrics.authAttempt("refresh", "ok")
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	now := s.now().UTC()
	if claims.ExpiresAt != nil {
		if err := s.revoker.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			s.logger.Warn("revoke access token", zap.String("user_id", claims.UserID), zap.Error(err))
		}
	}
	var err error
	if req.RefreshToken != "" {
		err = s.store.RevokeRefreshSessionByHash(r.Context(), claims.UserID, crypto.HashToken(req.RefreshToken), now)
	} else {
		err = s.store.RevokeRefreshSessionsByUser(r.Context(), claims.UserID, now)
	}
	if err != nil {
		s.logger.Warn("revoke refresh session", zap.String("user_id", claims.UserID), zap.Error(err))
	}
	s.metrics.authAttempt("logout", "ok")
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	User      model.User `json:"user"`
	Role      model.Role `json:"role"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	resp := sessionResponse{
		User: model.User{ID: claims.UserID, Email: claims.Email},
		Role: claims.Role,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) roleOf(ctx context.Context, userID string) (model.Role, error) {
	row, err := s.roles.GetRole(ctx, userID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return model.DefaultRole, nil
	}
	return row.Role, nil
}

func (s *Server) issueTokens(ctx context.Context, account model.Account, role model.Role, userAgent, ip string) (model.Session, error) {
	accessToken, claims, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: account.ID,
		Email:  account.Email,
		Role:   role,
	})
	if err != nil {
		return model.Session{}, err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return model.Session{}, err
	}

	now := s.now().UTC()
	refresh := model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    account.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if userAgent != "" {
		refresh.UserAgent = &userAgent
	}
	if ip != "" {
		refresh.IPAddress = &ip
	}

	if err := s.store.CreateRefreshSession(ctx, refresh); err != nil {
		return model.Session{}, err
	}

	return model.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    claims.ExpiresAt.Time,
		User:         &model.User{ID: account.ID, Email: account.Email},
	}, nil
}
