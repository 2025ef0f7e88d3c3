package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"fieldops/internal/db"
	"fieldops/internal/model"
)

// DefaultListLimit applies when a list request names no limit.
const DefaultListLimit = 50

// MaxListLimit caps any list request.
const MaxListLimit = 200

type Store struct {
	db *db.Store
}

func NewStore(store *db.Store) *Store {
	return &Store{db: store}
}

// mapErr turns driver errors into the model sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return model.ErrConflict
		case "22P02":
			// A malformed uuid can match no row.
			return model.ErrNotFound
		}
	}
	return err
}

func (s *Store) CreateAccount(ctx context.Context, email, passwordHash, fullName string) (model.Account, error) {
	var account model.Account
	err := s.db.WithTx(ctx, func(q db.Querier) error {
		row := q.QueryRow(ctx, `
			INSERT INTO users (email, password_hash)
			VALUES ($1, $2)
			RETURNING id, email, password_hash, created_at, updated_at
		`, email, passwordHash)
		if err := row.Scan(&account.ID, &account.Email, &account.PasswordHash, &account.CreatedAt, &account.UpdatedAt); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO profiles (user_id, full_name, email) VALUES ($1, $2, $3)
		`, account.ID, fullName, email); err != nil {
			return err
		}
		_, err := q.Exec(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		`, account.ID, model.DefaultRole)
		return err
	})
	return account, mapErr(err)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	return s.getAccount(ctx, `WHERE email = $1`, strings.ToLower(email))
}

func (s *Store) GetAccountByID(ctx context.Context, userID string) (model.Account, error) {
	return s.getAccount(ctx, `WHERE id = $1`, userID)
}

func (s *Store) getAccount(ctx context.Context, where string, arg string) (model.Account, error) {
	var account model.Account
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users `+where, arg)
	err := row.Scan(&account.ID, &account.Email, &account.PasswordHash, &account.CreatedAt, &account.UpdatedAt)
	return account, mapErr(err)
}

// GetProfile returns nil, nil when the user has no profile row.
func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id, user_id, full_name, email, phone, avatar_url, created_at, updated_at
		FROM profiles
		WHERE user_id = $1
	`, userID)
	err := row.Scan(&p.ID, &p.UserID, &p.FullName, &p.Email, &p.Phone, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetRole returns nil, nil when the user has no role row.
func (s *Store) GetRole(ctx context.Context, userID string) (*model.UserRole, error) {
	var r model.UserRole
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id, user_id, role, created_at FROM user_roles WHERE user_id = $1
	`, userID)
	err := row.Scan(&r.ID, &r.UserID, &r.Role, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) SetRole(ctx context.Context, userID string, role model.Role) (model.UserRole, error) {
	var r model.UserRole
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING id, user_id, role, created_at
	`, userID, role)
	err := row.Scan(&r.ID, &r.UserID, &r.Role, &r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return r, model.ErrNotFound
		}
	}
	return r, mapErr(err)
}

func (s *Store) CountOfficers(ctx context.Context) (int, error) {
	var n int
	err := s.db.Pool.QueryRow(ctx, `SELECT count(*) FROM user_roles WHERE role = $1`, model.RoleFieldOfficer).Scan(&n)
	return n, err
}

func (s *Store) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO refresh_token_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt, session.UserAgent, session.IPAddress)
	return err
}

func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
		FROM refresh_token_sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt, &session.UserAgent, &session.IPAddress)
	return session, mapErr(err)
}

// RevokeRefreshSession reports model.ErrNotFound when the session was
// already revoked, so a refresh token can be spent only once.
func (s *Store) RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE refresh_token_sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL
	`, revokedAt, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeRefreshSessionByHash(ctx context.Context, userID, tokenHash string, revokedAt time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE refresh_token_sessions SET revoked_at = $1
		WHERE user_id = $2 AND token_hash = $3 AND revoked_at IS NULL
	`, revokedAt, userID, tokenHash)
	return err
}

func (s *Store) RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE refresh_token_sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL
	`, revokedAt, userID)
	return err
}

// NUMERIC columns travel as text so decimal.Decimal never depends on a
// driver codec.

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDecimal(text *string) (*decimal.Decimal, error) {
	if text == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*text)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func limitOf(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
