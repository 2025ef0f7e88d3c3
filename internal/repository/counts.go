package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fieldops/internal/model"
)

var ErrUnknownCollection = errors.New("unknown collection")

// ErrInvalidFilter means the filter names something the collection lacks.
var ErrInvalidFilter = errors.New("invalid filter")

type collection struct {
	table      string
	timeColumn string
	// openColumn is NULL while the row is open; empty when rows never are.
	openColumn string
	saleType   bool
}

var collections = map[model.Collection]collection{
	model.CollectionClockLogs:     {table: "clock_logs", timeColumn: "clock_in_at", openColumn: "clock_out_at"},
	model.CollectionWorkSessions:  {table: "work_sessions", timeColumn: "login_at", openColumn: "logout_at"},
	model.CollectionMeetings:      {table: "meetings", timeColumn: "meeting_at"},
	model.CollectionDistributions: {table: "distributions", timeColumn: "distributed_at"},
	model.CollectionSales:         {table: "sales", timeColumn: "sold_at", saleType: true},
	model.CollectionOdometerLogs:  {table: "odometer_logs", timeColumn: "recorded_at"},
}

// Count counts rows of c matching f. Without f.All only userID's rows count;
// for clock logs with f.All, distinct users are counted.
func (s *Store) Count(ctx context.Context, userID string, c model.Collection, f model.CountFilter) (int, error) {
	desc, ok := collections[c]
	if !ok {
		return 0, ErrUnknownCollection
	}
	where, args, err := desc.where(userID, f)
	if err != nil {
		return 0, err
	}
	expr := "count(*)"
	if c == model.CollectionClockLogs && f.All {
		expr = "count(DISTINCT user_id)"
	}
	var n int
	err = s.db.Pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s %s`, expr, desc.table, where), args...).Scan(&n)
	return n, err
}

func (s *Store) SalesTotal(ctx context.Context, userID string, f model.CountFilter) (decimal.Decimal, error) {
	desc := collections[model.CollectionSales]
	where, args, err := desc.where(userID, f)
	if err != nil {
		return decimal.Zero, err
	}
	var text string
	err = s.db.Pool.QueryRow(ctx, `SELECT COALESCE(sum(total_amount), 0)::text FROM sales `+where, args...).Scan(&text)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(text)
}

func (d collection) where(userID string, f model.CountFilter) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !f.All {
		add("user_id = $%d", userID)
	}
	if f.Since != nil {
		add(d.timeColumn+" >= $%d", *f.Since)
	}
	if f.Until != nil {
		add(d.timeColumn+" < $%d", *f.Until)
	}
	if f.Open != nil {
		if d.openColumn == "" {
			return "", nil, fmt.Errorf("%w: %s rows have no open state", ErrInvalidFilter, d.table)
		}
		if *f.Open {
			clauses = append(clauses, d.openColumn+" IS NULL")
		} else {
			clauses = append(clauses, d.openColumn+" IS NOT NULL")
		}
	}
	if f.SaleType != "" {
		if !d.saleType {
			return "", nil, fmt.Errorf("%w: %s rows have no sale type", ErrInvalidFilter, d.table)
		}
		add("sale_type = $%d", f.SaleType)
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}
