// Package remote is the typed client for the field-ops data service: the
// session API, the per-user collections and photo storage.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fieldops/internal/model"
)

// TokenSource yields the bearer for row requests.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client reads and writes the signed-in user's rows.
type Client struct {
	api    *transport
	tokens TokenSource
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{api: newTransport(baseURL, timeout), tokens: tokens}
}

func (c *Client) call(ctx context.Context, req request, out any) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	req.token = token
	return c.api.do(ctx, req, out)
}

func (c *Client) GetProfile(ctx context.Context, _ string) (*model.Profile, error) {
	var p *model.Profile
	if err := c.call(ctx, request{method: http.MethodGet, path: "/profiles/me"}, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) GetRole(ctx context.Context, _ string) (*model.Role, error) {
	var row *model.UserRole
	if err := c.call(ctx, request{method: http.MethodGet, path: "/roles/me"}, &row); err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	role := row.Role
	return &role, nil
}

// Clock logs.

func (c *Client) InsertClockLog(ctx context.Context, log model.ClockLog) (model.ClockLog, error) {
	var out model.ClockLog
	err := c.call(ctx, request{method: http.MethodPost, path: "/clock-logs", body: log.Input()}, &out)
	return out, err
}

func (c *Client) CloseClockLog(ctx context.Context, id string, at time.Time, fix model.GeoFix) (model.ClockLog, error) {
	var out model.ClockLog
	err := c.call(ctx, request{
		method: http.MethodPatch,
		path:   "/clock-logs/" + url.PathEscape(id),
		body:   model.ClockLogClose{ClockOutAt: at, ClockOutLat: &fix.Lat, ClockOutLng: &fix.Lng},
	}, &out)
	return out, err
}

func (c *Client) OpenClockLog(ctx context.Context) (*model.ClockLog, error) {
	var out *model.ClockLog
	if err := c.call(ctx, request{method: http.MethodGet, path: "/clock-logs/open"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Work sessions.

func (c *Client) InsertWorkSession(ctx context.Context, loginAt time.Time) (model.WorkSession, error) {
	var out model.WorkSession
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/work-sessions",
		body:   model.NewWorkSession{LoginAt: loginAt},
	}, &out)
	return out, err
}

func (c *Client) CloseWorkSession(ctx context.Context, id string, logoutAt time.Time) (model.WorkSession, error) {
	var out model.WorkSession
	err := c.call(ctx, request{
		method: http.MethodPatch,
		path:   "/work-sessions/" + url.PathEscape(id),
		body:   model.WorkSessionClose{LogoutAt: logoutAt},
	}, &out)
	return out, err
}

func (c *Client) LatestOpenWorkSession(ctx context.Context) (*model.WorkSession, error) {
	return c.firstWorkSession(ctx, url.Values{"open": {"true"}, "limit": {"1"}})
}

func (c *Client) LatestWorkSessionSince(ctx context.Context, since time.Time) (*model.WorkSession, error) {
	return c.firstWorkSession(ctx, url.Values{"since": {formatTime(since)}, "limit": {"1"}})
}

func (c *Client) ListWorkSessions(ctx context.Context, limit int) ([]model.WorkSession, error) {
	var out []model.WorkSession
	err := c.call(ctx, request{method: http.MethodGet, path: "/work-sessions", query: url.Values{"limit": {strconv.Itoa(limit)}}}, &out)
	return out, err
}

func (c *Client) firstWorkSession(ctx context.Context, q url.Values) (*model.WorkSession, error) {
	var out []model.WorkSession
	if err := c.call(ctx, request{method: http.MethodGet, path: "/work-sessions", query: q}, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// Records.

func (c *Client) InsertMeeting(ctx context.Context, m model.Meeting) (model.Meeting, error) {
	var out model.Meeting
	err := c.call(ctx, request{method: http.MethodPost, path: "/meetings", body: m.Input()}, &out)
	return out, err
}

func (c *Client) ListMeetings(ctx context.Context, f model.ListFilter) ([]model.Meeting, error) {
	var out []model.Meeting
	err := c.call(ctx, request{method: http.MethodGet, path: "/meetings", query: listQuery(f)}, &out)
	return out, err
}

func (c *Client) InsertDistribution(ctx context.Context, d model.Distribution) (model.Distribution, error) {
	var out model.Distribution
	err := c.call(ctx, request{method: http.MethodPost, path: "/distributions", body: d.Input()}, &out)
	return out, err
}

func (c *Client) ListDistributions(ctx context.Context, f model.ListFilter) ([]model.Distribution, error) {
	var out []model.Distribution
	err := c.call(ctx, request{method: http.MethodGet, path: "/distributions", query: listQuery(f)}, &out)
	return out, err
}

func (c *Client) InsertSale(ctx context.Context, s model.Sale) (model.Sale, error) {
	var out model.Sale
	err := c.call(ctx, request{method: http.MethodPost, path: "/sales", body: s.Input()}, &out)
	return out, err
}

func (c *Client) ListSales(ctx context.Context, f model.ListFilter) ([]model.Sale, error) {
	var out []model.Sale
	err := c.call(ctx, request{method: http.MethodGet, path: "/sales", query: listQuery(f)}, &out)
	return out, err
}

func (c *Client) InsertOdometerLog(ctx context.Context, o model.OdometerLog) (model.OdometerLog, error) {
	var out model.OdometerLog
	err := c.call(ctx, request{method: http.MethodPost, path: "/odometer-logs", body: o.Input()}, &out)
	return out, err
}

func (c *Client) ListOdometerLogs(ctx context.Context, f model.ListFilter) ([]model.OdometerLog, error) {
	var out []model.OdometerLog
	err := c.call(ctx, request{method: http.MethodGet, path: "/odometer-logs", query: listQuery(f)}, &out)
	return out, err
}

// Aggregates.

func (c *Client) Count(ctx context.Context, collection model.Collection, f model.CountFilter) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	path := "/" + strings.ReplaceAll(string(collection), "_", "-") + "/count"
	if err := c.call(ctx, request{method: http.MethodGet, path: path, query: countQuery(f)}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) SalesTotal(ctx context.Context, f model.CountFilter) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal `json:"total"`
	}
	if err := c.call(ctx, request{method: http.MethodGet, path: "/sales/total", query: countQuery(f)}, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

func (c *Client) CountOfficers(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, request{method: http.MethodGet, path: "/admin/officers/count"}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// SetRole is admin-only.
func (c *Client) SetRole(ctx context.Context, userID string, role model.Role) (model.UserRole, error) {
	var out model.UserRole
	err := c.call(ctx, request{
		method: http.MethodPut,
		path:   "/admin/roles/" + url.PathEscape(userID),
		body:   map[string]model.Role{"role": role},
	}, &out)
	return out, err
}

// UploadOdometerPhoto fails with a conflict when path already exists.
func (c *Client) UploadOdometerPhoto(ctx context.Context, path, contentType string, body io.Reader) error {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	err := c.call(ctx, request{
		method:      http.MethodPut,
		path:        "/storage/odometer-photos/" + strings.Join(segments, "/"),
		raw:         body,
		contentType: contentType,
	}, nil)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

func listQuery(f model.ListFilter) url.Values {
	q := url.Values{}
	if f.Since != nil {
		q.Set("since", formatTime(*f.Since))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

func countQuery(f model.CountFilter) url.Values {
	q := url.Values{}
	if f.Since != nil {
		q.Set("since", formatTime(*f.Since))
	}
	if f.Until != nil {
		q.Set("until", formatTime(*f.Until))
	}
	if f.Open != nil {
		q.Set("open", strconv.FormatBool(*f.Open))
	}
	if f.SaleType != "" {
		q.Set("sale_type", string(f.SaleType))
	}
	if f.All {
		q.Set("scope", "all")
	}
	return q
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
