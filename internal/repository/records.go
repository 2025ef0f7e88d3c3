package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fieldops/internal/model"
)

const clockLogColumns = `id, user_id, clock_in_at, clock_out_at, clock_in_lat, clock_in_lng,
	clock_out_lat, clock_out_lng, clock_in_odometer_url, clock_out_odometer_url, notes, created_at, updated_at`

func scanClockLog(row pgx.Row) (model.ClockLog, error) {
	var c model.ClockLog
	err := row.Scan(&c.ID, &c.UserID, &c.ClockInAt, &c.ClockOutAt, &c.ClockInLat, &c.ClockInLng,
		&c.ClockOutLat, &c.ClockOutLng, &c.ClockInOdometerURL, &c.ClockOutOdometerURL, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// InsertClockLog fails with model.ErrConflict while another log is open.
func (s *Store) InsertClockLog(ctx context.Context, c model.ClockLog) (model.ClockLog, error) {
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO clock_logs (user_id, clock_in_at, clock_in_lat, clock_in_lng, clock_in_odometer_url, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+clockLogColumns,
		c.UserID, c.ClockInAt, c.ClockInLat, c.ClockInLng, c.ClockInOdometerURL, c.Notes)
	saved, err := scanClockLog(row)
	return saved, mapErr(err)
}

type ClockOut struct {
	At          time.Time
	Lat         *float64
	Lng         *float64
	OdometerURL *string
}

func (s *Store) CloseClockLog(ctx context.Context, userID, id string, out ClockOut) (model.ClockLog, error) {
	row := s.db.Pool.QueryRow(ctx, `
		UPDATE clock_logs
		SET clock_out_at = $3, clock_out_lat = $4, clock_out_lng = $5,
			clock_out_odometer_url = COALESCE($6, clock_out_odometer_url), updated_at = now()
		WHERE id = $1 AND user_id = $2 AND clock_out_at IS NULL
		RETURNING `+clockLogColumns,
		id, userID, out.At, out.Lat, out.Lng, out.OdometerURL)
	saved, err := scanClockLog(row)
	return saved, mapErr(err)
}

// OpenClockLog returns nil, nil when the user is clocked out.
func (s *Store) OpenClockLog(ctx context.Context, userID string) (*model.ClockLog, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT `+clockLogColumns+`
		FROM clock_logs
		WHERE user_id = $1 AND clock_out_at IS NULL
		ORDER BY clock_in_at DESC
		LIMIT 1
	`, userID)
	c, err := scanClockLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const workSessionColumns = `id, user_id, login_at, logout_at, created_at, updated_at`

func scanWorkSession(row pgx.Row) (model.WorkSession, error) {
	var w model.WorkSession
	err := row.Scan(&w.ID, &w.UserID, &w.LoginAt, &w.LogoutAt, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// InsertWorkSession fails with model.ErrConflict while another session is
// open.
func (s *Store) InsertWorkSession(ctx context.Context, userID string, loginAt time.Time) (model.WorkSession, error) {
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO work_sessions (user_id, login_at) VALUES ($1, $2)
		RETURNING `+workSessionColumns, userID, loginAt)
	saved, err := scanWorkSession(row)
	return saved, mapErr(err)
}

// CloseWorkSession reports model.ErrNotFound when the session is not the
// user's or is already closed; a closed session keeps its logout time.
func (s *Store) CloseWorkSession(ctx context.Context, userID, id string, logoutAt time.Time) (model.WorkSession, error) {
	row := s.db.Pool.QueryRow(ctx, `
		UPDATE work_sessions SET logout_at = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND logout_at IS NULL
		RETURNING `+workSessionColumns, id, userID, logoutAt)
	saved, err := scanWorkSession(row)
	return saved, mapErr(err)
}

// CloseStaleWorkSessions closes every work session opened before
// openedBefore that is still open, across all users.
func (s *Store) CloseStaleWorkSessions(ctx context.Context, openedBefore, logoutAt time.Time) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE work_sessions SET logout_at = $2, updated_at = now()
		WHERE logout_at IS NULL AND login_at < $1
	`, openedBefore, logoutAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type WorkSessionFilter struct {
	Since    *time.Time
	OpenOnly bool
	Limit    int
}

// ListWorkSessions is newest first.
func (s *Store) ListWorkSessions(ctx context.Context, userID string, f WorkSessionFilter) ([]model.WorkSession, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	if f.Since != nil {
		args = append(args, *f.Since)
		where = append(where, fmt.Sprintf("login_at >= $%d", len(args)))
	}
	if f.OpenOnly {
		where = append(where, "logout_at IS NULL")
	}
	args = append(args, limitOf(f.Limit))
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+workSessionColumns+`
		FROM work_sessions
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY login_at DESC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WorkSession, error) {
		return scanWorkSession(row)
	})
}

const meetingColumns = `id, user_id, meeting_type, meeting_at, lat, lng, attendee_name, attendee_count,
	photo_url, notes, created_at, updated_at`

func scanMeeting(row pgx.Row) (model.Meeting, error) {
	var m model.Meeting
	err := row.Scan(&m.ID, &m.UserID, &m.MeetingType, &m.MeetingAt, &m.Lat, &m.Lng, &m.AttendeeName,
		&m.AttendeeCount, &m.PhotoURL, &m.Notes, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *Store) InsertMeeting(ctx context.Context, m model.Meeting) (model.Meeting, error) {
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO meetings (user_id, meeting_type, meeting_at, lat, lng, attendee_name, attendee_count, photo_url, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+meetingColumns,
		m.UserID, m.MeetingType, m.MeetingAt, m.Lat, m.Lng, m.AttendeeName, m.AttendeeCount, m.PhotoURL, m.Notes)
	saved, err := scanMeeting(row)
	return saved, mapErr(err)
}

func (s *Store) ListMeetings(ctx context.Context, userID string, f model.ListFilter) ([]model.Meeting, error) {
	rows, err := s.listRows(ctx, meetingColumns, "meetings", "meeting_at", userID, f)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Meeting, error) {
		return scanMeeting(row)
	})
}

const distributionColumns = `id, user_id, distributed_at, sample_name, quantity, purpose, recipient_name,
	lat, lng, notes, created_at, updated_at`

func scanDistribution(row pgx.Row) (model.Distribution, error) {
	var d model.Distribution
	err := row.Scan(&d.ID, &d.UserID, &d.DistributedAt, &d.SampleName, &d.Quantity, &d.Purpose, &d.RecipientName,
		&d.Lat, &d.Lng, &d.Notes, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (s *Store) InsertDistribution(ctx context.Context, d model.Distribution) (model.Distribution, error) {
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO distributions (user_id, distributed_at, sample_name, quantity, purpose, recipient_name, lat, lng, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+distributionColumns,
		d.UserID, d.DistributedAt, d.SampleName, d.Quantity, d.Purpose, d.RecipientName, d.Lat, d.Lng, d.Notes)
	saved, err := scanDistribution(row)
	return saved, mapErr(err)
}

func (s *Store) ListDistributions(ctx context.Context, userID string, f model.ListFilter) ([]model.Distribution, error) {
	rows, err := s.listRows(ctx, distributionColumns, "distributions", "distributed_at", userID, f)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Distribution, error) {
		return scanDistribution(row)
	})
}

const saleColumns = `id, user_id, sold_at, sale_type, sku, product_name, quantity, unit_price::text,
	total_amount::text, customer_name, lat, lng, notes, created_at, updated_at`

func scanSale(row pgx.Row) (model.Sale, error) {
	var (
		s            model.Sale
		price, total *string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.SoldAt, &s.SaleType, &s.SKU, &s.ProductName, &s.Quantity, &price,
		&total, &s.CustomerName, &s.Lat, &s.Lng, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	if s.UnitPrice, err = parseDecimal(price); err != nil {
		return s, fmt.Errorf("unit_price: %w", err)
	}
	if s.TotalAmount, err = parseDecimal(total); err != nil {
		return s, fmt.Errorf("total_amount: %w", err)
	}
	return s, nil
}

func (s *Store) InsertSale(ctx context.Context, sale model.Sale) (model.Sale, error) {
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO sales (user_id, sold_at, sale_type, sku, product_name, quantity, unit_price, total_amount,
			customer_name, lat, lng, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11, $12)
		RETURNING `+saleColumns,
		sale.UserID, sale.SoldAt, sale.SaleType, sale.SKU, sale.ProductName, sale.Quantity,
		decimalArg(sale.UnitPrice), decimalArg(sale.TotalAmount), sale.CustomerName, sale.Lat, sale.Lng, sale.Notes)
	saved, err := scanSale(row)
	return saved, mapErr(err)
}

func (s *Store) ListSales(ctx context.Context, userID string, f model.ListFilter) ([]model.Sale, error) {
	rows, err := s.listRows(ctx, saleColumns, "sales", "sold_at", userID, f)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Sale, error) {
		return scanSale(row)
	})
}

const odometerColumns = `id, user_id, reading_km, photo_url, recorded_at, created_at, updated_at`

func scanOdometer(row pgx.Row) (model.OdometerLog, error) {
	var o model.OdometerLog
	err := row.Scan(&o.ID, &o.UserID, &o.ReadingKm, &o.PhotoURL, &o.RecordedAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *Store) InsertOdometerLog(ctx context.Context, o model.OdometerLog) (model.OdometerLog, error) {
	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO odometer_logs (user_id, reading_km, photo_url, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+odometerColumns,
		o.UserID, o.ReadingKm, o.PhotoURL, o.RecordedAt)
	saved, err := scanOdometer(row)
	return saved, mapErr(err)
}

func (s *Store) ListOdometerLogs(ctx context.Context, userID string, f model.ListFilter) ([]model.OdometerLog, error) {
	rows, err := s.listRows(ctx, odometerColumns, "odometer_logs", "recorded_at", userID, f)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OdometerLog, error) {
		return scanOdometer(row)
	})
}

// listRows runs the shared newest-first list query. table and timeColumn
// are never caller input.
func (s *Store) listRows(ctx context.Context, columns, table, timeColumn, userID string, f model.ListFilter) (pgx.Rows, error) {
	where := "user_id = $1"
	args := []any{userID}
	if f.Since != nil {
		args = append(args, *f.Since)
		where += fmt.Sprintf(" AND %s >= $%d", timeColumn, len(args))
	}
	args = append(args, limitOf(f.Limit))
	return s.db.Pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE %s ORDER BY %s DESC LIMIT $%d
	`, columns, table, where, timeColumn, len(args)), args...)
}
