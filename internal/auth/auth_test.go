package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/internal/model"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, issued, err := NewAccessToken("secret", "issuer", time.Minute, Claims{
		UserID: "user-1",
		Email:  "officer@field.test",
		Role:   model.RoleAdmin,
	})
	require.NoError(t, err)
	require.NotEmpty(t, issued.ID)

	claims, err := ParseToken("secret", "issuer", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, model.RoleAdmin, claims.Role)
	assert.Equal(t, issued.ID, claims.ID)
}

func TestParseTokenRejects(t *testing.T) {
	token, _, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: "user-1"})
	require.NoError(t, err)

	_, err = ParseToken("other-secret", "issuer", token)
	assert.Error(t, err)

	_, err = ParseToken("secret", "other-issuer", token)
	assert.Error(t, err)

	expired, _, err := NewAccessToken("secret", "issuer", -time.Minute, Claims{UserID: "user-1"})
	require.NoError(t, err)
	_, err = ParseToken("secret", "issuer", expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestMemoryRevoker(t *testing.T) {
	now := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	r := NewMemoryRevoker()
	r.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, r.Revoke(ctx, "jti-1", now.Add(time.Minute)))
	require.NoError(t, r.Revoke(ctx, "jti-old", now.Add(-time.Minute)))

	revoked, err := r.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, _ = r.IsRevoked(ctx, "jti-old")
	assert.False(t, revoked)

	now = now.Add(2 * time.Minute)
	revoked, _ = r.IsRevoked(ctx, "jti-1")
	assert.False(t, revoked)
}
