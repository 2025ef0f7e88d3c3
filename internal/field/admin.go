package field

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldops/internal/model"
	"fieldops/internal/worksession"
)

// WeekDays is how many days the meetings trend covers, oldest first.
const WeekDays = 7

type AdminSummary struct {
	TotalOfficers  int             `json:"total_officers"`
	ActiveToday    int             `json:"active_today"`
	MeetingsToday  int             `json:"meetings_today"`
	SalesToday     int             `json:"sales_today"`
	B2BRevenue     decimal.Decimal `json:"b2b_revenue"`
	B2CRevenue     decimal.Decimal `json:"b2c_revenue"`
	WeeklyMeetings [WeekDays]int   `json:"weekly_meetings"`
}

// AdminSummary issues every dashboard query at once and waits for all of
// them. A failed query contributes zero.
func (s *Service) AdminSummary(ctx context.Context) AdminSummary {
	now := s.now()
	today := worksession.StartOfDay(now)
	open := true

	var out AdminSummary
	var g errgroup.Group
	degrade := func(what string, err error) {
		s.logger.Warn("admin summary query failed", zap.String("query", what), zap.Error(err))
	}
	countInto := func(what string, c model.Collection, f model.CountFilter, dst *int) {
		g.Go(func() error {
			n, err := s.store.Count(ctx, c, f)
			if err != nil {
				degrade(what, err)
				return nil
			}
			*dst = n
			return nil
		})
	}
	totalInto := func(what string, t model.SaleType, dst *decimal.Decimal) {
		g.Go(func() error {
			sum, err := s.store.SalesTotal(ctx, model.CountFilter{Since: &today, SaleType: t, All: true})
			if err != nil {
				degrade(what, err)
				return nil
			}
			*dst = sum
			return nil
		})
	}

	g.Go(func() error {
		n, err := s.store.CountOfficers(ctx)
		if err != nil {
			degrade("officers", err)
			return nil
		}
		out.TotalOfficers = n
		return nil
	})
	countInto("active", model.CollectionClockLogs, model.CountFilter{Since: &today, Open: &open, All: true}, &out.ActiveToday)
	countInto("meetings", model.CollectionMeetings, model.CountFilter{Since: &today, All: true}, &out.MeetingsToday)
	countInto("sales", model.CollectionSales, model.CountFilter{Since: &today, All: true}, &out.SalesToday)
	totalInto("b2b", model.SaleB2B, &out.B2BRevenue)
	totalInto("b2c", model.SaleB2C, &out.B2CRevenue)

	for i := 0; i < WeekDays; i++ {
		start := today.AddDate(0, 0, i-(WeekDays-1))
		end := start.AddDate(0, 0, 1)
		countInto("weekly", model.CollectionMeetings, model.CountFilter{Since: &start, Until: &end, All: true}, &out.WeeklyMeetings[i])
	}

	_ = g.Wait()
	return out
}
