package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/internal/auth"
	"fieldops/internal/config"
	"fieldops/internal/model"
	"fieldops/internal/storage"
)

const (
	officerID = "33333333-3333-3333-3333-333333333331"
	adminID   = "33333333-3333-3333-3333-333333333332"
)

type fakeRoles map[string]model.Role

func (f fakeRoles) GetRole(_ context.Context, userID string) (*model.UserRole, error) {
	role, ok := f[userID]
	if !ok {
		return nil, nil
	}
	return &model.UserRole{UserID: userID, Role: role}, nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       "test-secret",
		JWTIssuer:       "test-issuer",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}
}

// newOfflineServer serves every route that never reaches the database.
func newOfflineServer(t *testing.T) (*Server, *httptest.Server) {
	server := NewServer(testConfig(), nil, Deps{})
	server.roles = fakeRoles{officerID: model.RoleFieldOfficer, adminID: model.RoleAdmin}
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return server, app
}

func mustToken(t *testing.T, userID string, role model.Role) (string, auth.Claims) {
	cfg := testConfig()
	token, claims, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, auth.Claims{
		UserID: userID,
		Email:  userID + "@field.test",
		Role:   role,
	})
	require.NoError(t, err)
	return token, claims
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func errorCode(t *testing.T, resp *http.Response) string {
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestHealthAndMetrics(t *testing.T) {
	_, app := newOfflineServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, http.MethodGet, app.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestAuthMiddleware(t *testing.T) {
	server, app := newOfflineServer(t)

	resp := doReq(t, http.MethodGet, app.URL+"/auth/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing_token", errorCode(t, resp))

	resp = doReq(t, http.MethodGet, app.URL+"/auth/session", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_token", errorCode(t, resp))

	token, claims := mustToken(t, officerID, model.RoleFieldOfficer)
	resp = doReq(t, http.MethodGet, app.URL+"/auth/session", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.Equal(t, officerID, session.User.ID)
	assert.Equal(t, model.RoleFieldOfficer, session.Role)

	require.NoError(t, server.revoker.Revoke(context.Background(), claims.ID, claims.ExpiresAt.Time))
	resp = doReq(t, http.MethodGet, app.URL+"/auth/session", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "token_revoked", errorCode(t, resp))
}

func TestAdminRoutesCheckCurrentRole(t *testing.T) {
	_, app := newOfflineServer(t)

	// The token claims admin, the role table disagrees.
	token, _ := mustToken(t, officerID, model.RoleAdmin)
	resp := doReq(t, http.MethodGet, app.URL+"/admin/officers/count", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "admin_only", errorCode(t, resp))

	resp = doReq(t, http.MethodGet, app.URL+"/meetings/count?scope=all", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRequestValidation(t *testing.T) {
	_, app := newOfflineServer(t)
	token, _ := mustToken(t, officerID, model.RoleFieldOfficer)

	resp := doReq(t, http.MethodPost, app.URL+"/odometer-logs", token, map[string]any{
		"reading_km":  0,
		"recorded_at": time.Now(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_reading_km", errorCode(t, resp))

	resp = doReq(t, http.MethodPost, app.URL+"/meetings", token, map[string]any{
		"meeting_type": "lunch",
		"meeting_at":   time.Now(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_meeting_type", errorCode(t, resp))

	resp = doReq(t, http.MethodPost, app.URL+"/work-sessions", token, map[string]any{
		"login_at": time.Now(),
		"user_id":  adminID,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", errorCode(t, resp))

	resp = doReq(t, http.MethodGet, app.URL+"/meetings/count?open=maybe", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_query", errorCode(t, resp))
}

func TestUploadOdometerPhoto(t *testing.T) {
	server, app := newOfflineServer(t)
	token, _ := mustToken(t, officerID, model.RoleFieldOfficer)

	put := func(path, contentType, body string) *http.Response {
		req, err := http.NewRequest(http.MethodPut, app.URL+"/storage/odometer-photos/"+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", contentType)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	path := officerID + "/1773047700000-abc.jpg"
	assert.Equal(t, http.StatusCreated, put(path, "image/jpeg", "first").StatusCode)

	resp := put(path, "image/jpeg", "second")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "object_exists", errorCode(t, resp))

	obj, ok := server.photos.(*storage.MemoryStore).Get(path)
	require.True(t, ok)
	assert.Equal(t, "first", string(obj.Data))

	assert.Equal(t, http.StatusForbidden, put(adminID+"/x.jpg", "image/jpeg", "x").StatusCode)
	assert.Equal(t, http.StatusUnsupportedMediaType, put(officerID+"/x.txt", "text/plain", "x").StatusCode)
	assert.Equal(t, http.StatusBadRequest, put(officerID+"/empty.jpg", "image/jpeg", "").StatusCode)
}

func TestOdometerEventStream(t *testing.T) {
	server, app := newOfflineServer(t)
	token, _ := mustToken(t, adminID, model.RoleAdmin)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.URL+"/admin/events/odometer", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	server.odometer.Publish(model.OdometerLog{ID: "o1", UserID: officerID, ReadingKm: 1234.5})

	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}
	var got model.OdometerLog
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, 1234.5, got.ReadingKm)
}

func TestParseCountFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/sales/count?since=2026-03-09T00:00:00Z&open=false&sale_type=b2b&scope=all", nil)
	f, err := parseCountFilter(req)
	require.NoError(t, err)
	require.NotNil(t, f.Since)
	assert.True(t, f.Since.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, f.Open)
	assert.False(t, *f.Open)
	assert.Equal(t, model.SaleB2B, f.SaleType)
	assert.True(t, f.All)

	for _, q := range []string{"since=yesterday", "sale_type=b2x", "scope=everyone", "until=3"} {
		_, err := parseCountFilter(httptest.NewRequest(http.MethodGet, "/sales/count?"+q, nil))
		assert.Error(t, err, q)
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}
