package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/internal/db"
	"fieldops/internal/db/dbtest"
	"fieldops/internal/field"
	"fieldops/internal/geo"
	"fieldops/internal/model"
	"fieldops/internal/remote"
	"fieldops/internal/repository"
	"fieldops/internal/session"
	"fieldops/internal/worksession"
)

type harness struct {
	app    *httptest.Server
	server *Server
	store  *repository.Store
}

func newHarness(t *testing.T) *harness {
	store := repository.NewStore(db.NewStore(dbtest.Open(t)))
	server := NewServer(testConfig(), store, Deps{})
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return &harness{app: app, server: server, store: store}
}

type officer struct {
	auth     *remote.AuthClient
	client   *remote.Client
	resolver *session.Resolver
	sessions *worksession.Reconciler
	field    *field.Service
}

func (h *harness) signUp(t *testing.T, name string) *officer {
	ctx := context.Background()
	auth := remote.NewAuthClient(h.app.URL, 5*time.Second, nil, nil)
	client := remote.NewClient(h.app.URL, 5*time.Second, auth)
	email := fmt.Sprintf("%s-%s@field.test", strings.ToLower(name), uuid.NewString()[:8])
	_, err := auth.SignUp(ctx, email, "correct horse", name)
	require.NoError(t, err)

	resolver := session.NewResolver(auth, client, nil)
	resolver.Start(ctx)
	t.Cleanup(resolver.Close)
	require.Eventually(t, func() bool {
		snap := resolver.Snapshot()
		return !snap.IsLoading && snap.Profile != nil
	}, 5*time.Second, 20*time.Millisecond)

	sessions := worksession.New(client, nil)
	svc := field.NewService(field.Deps{
		Store:    client,
		Photos:   client,
		Locator:  geo.NewAcquirer(geo.Static{Fix: model.GeoFix{Lat: -1.2921, Lng: 36.8219}}, nil),
		Sessions: sessions,
		UserID: func() string {
			if u := resolver.Snapshot().User; u != nil {
				return u.ID
			}
			return ""
		},
	})
	t.Cleanup(svc.Close)
	return &officer{auth: auth, client: client, resolver: resolver, sessions: sessions, field: svc}
}

func TestOfficerDayEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.signUp(t, "Amina")

	snap := o.resolver.Snapshot()
	assert.Equal(t, "Amina", snap.Profile.FullName)
	assert.Equal(t, model.RoleFieldOfficer, snap.Role)
	assert.False(t, snap.IsAdmin)

	clockLog, err := o.field.ClockIn(ctx)
	require.NoError(t, err)
	require.NotNil(t, clockLog.ClockInLat)
	assert.NotEmpty(t, o.sessions.ActiveID())

	_, err = o.field.ClockIn(ctx)
	require.ErrorIs(t, err, field.ErrAlreadyClockedIn)

	reading, err := o.field.RecordOdometer(ctx, 48210.4, &field.Photo{
		Name: "dash.JPG", ContentType: "image/jpeg", Body: strings.NewReader("jpeg bytes"),
	})
	require.NoError(t, err)
	require.NotNil(t, reading.PhotoURL)
	assert.True(t, strings.HasPrefix(*reading.PhotoURL, snap.User.ID+"/"))
	assert.True(t, strings.HasSuffix(*reading.PhotoURL, ".jpg"))
	require.NotNil(t, o.field.TodayOdometer())
	assert.Equal(t, reading.ID, o.field.TodayOdometer().ID)

	_, err = o.field.LogMeeting(ctx, field.MeetingInput{Type: model.MeetingGroup, AttendeeName: "Clinic staff", AttendeeCount: 4})
	require.NoError(t, err)
	price := decimal.RequireFromString("12.35")
	sale, err := o.field.RecordSale(ctx, field.SaleInput{Type: model.SaleB2B, SKU: "SKU-1", Quantity: 3, UnitPrice: &price})
	require.NoError(t, err)
	require.NotNil(t, sale.TotalAmount)
	assert.Equal(t, "37.05", sale.TotalAmount.StringFixed(2))

	stats := o.field.TodayStats(ctx)
	assert.Equal(t, 1, stats.Meetings)
	assert.Equal(t, 1, stats.Sales)

	closed, err := o.field.ClockOut(ctx)
	require.NoError(t, err)
	assert.False(t, closed.Open())
	require.NotNil(t, o.sessions.Today())
	assert.False(t, o.sessions.Today().Open())
	assert.Empty(t, o.sessions.ActiveID())

	// A restarted client finds nothing left open.
	o.sessions.Reset()
	ws, err := o.sessions.Complete(ctx)
	require.NoError(t, err)
	assert.Nil(t, ws)
}

func TestAdminSummaryEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	officerA := h.signUp(t, "Baraka")
	admin := h.signUp(t, "Chidi")

	adminUserID := admin.resolver.Snapshot().User.ID
	_, err := h.store.SetRole(ctx, adminUserID, model.RoleAdmin)
	require.NoError(t, err)

	// Role changes reach the resolver on the next session event.
	_, err = admin.auth.SignInWithPassword(ctx, admin.resolver.Snapshot().User.Email, "correct horse")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return admin.resolver.Snapshot().IsAdmin }, 5*time.Second, 20*time.Millisecond)

	_, err = officerA.field.ClockIn(ctx)
	require.NoError(t, err)
	_, err = officerA.field.LogMeeting(ctx, field.MeetingInput{Type: model.MeetingOneOnOne, AttendeeCount: 9})
	require.NoError(t, err)

	summary := admin.field.AdminSummary(ctx)
	assert.GreaterOrEqual(t, summary.TotalOfficers, 1)
	assert.GreaterOrEqual(t, summary.ActiveToday, 1)
	assert.GreaterOrEqual(t, summary.MeetingsToday, 1)
	assert.GreaterOrEqual(t, summary.WeeklyMeetings[field.WeekDays-1], 1)

	_, err = officerA.client.CountOfficers(ctx)
	require.Error(t, err)
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	email := fmt.Sprintf("lifecycle-%s@field.test", uuid.NewString()[:8])

	resp := doReq(t, http.MethodPost, h.app.URL+"/auth/signup", "", map[string]string{"email": email, "password": "correct horse"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doReq(t, http.MethodPost, h.app.URL+"/auth/signup", "", map[string]string{"email": email, "password": "correct horse"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "email_taken", errorCode(t, resp))

	auth := remote.NewAuthClient(h.app.URL, 5*time.Second, nil, nil)
	_, err := auth.SignInWithPassword(ctx, email, "wrong")
	require.True(t, remote.IsUnauthorized(err))

	first, err := auth.SignInWithPassword(ctx, email, "correct horse")
	require.NoError(t, err)

	resp = doReq(t, http.MethodPost, h.app.URL+"/auth/refresh", "", map[string]string{"refresh_token": first.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Refresh tokens rotate: the spent one is dead.
	resp = doReq(t, http.MethodPost, h.app.URL+"/auth/refresh", "", map[string]string{"refresh_token": first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doReq(t, http.MethodGet, h.app.URL+"/auth/session", first.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, auth.SignOut(ctx))
	resp = doReq(t, http.MethodGet, h.app.URL+"/auth/session", first.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "token_revoked", errorCode(t, resp))
}

func TestWorkSessionClosedOnAnotherDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.signUp(t, "Wanjiru")

	ws, err := o.sessions.Create(ctx)
	require.NoError(t, err)

	other := worksession.New(o.client, nil)
	other.Load(ctx)
	closed, err := other.Complete(ctx)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, ws.ID, closed.ID)

	_, err = o.client.CloseWorkSession(ctx, ws.ID, time.Now().Add(time.Hour))
	require.ErrorIs(t, err, model.ErrNotFound)

	again, err := o.sessions.Complete(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)

	list, err := o.client.ListWorkSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LogoutAt)
	assert.True(t, list[0].LogoutAt.Equal(*closed.LogoutAt))
}
