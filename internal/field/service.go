// Package field holds the officer-facing operations: clocking in and out,
// logging meetings, distributions, sales and odometer readings, and the
// dashboard aggregates for officers and admins.
package field

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldops/internal/events"
	"fieldops/internal/logger"
	"fieldops/internal/model"
	"fieldops/internal/worksession"
)

var (
	ErrNoActiveClockLog = errors.New("no active clock log")
	ErrAlreadyClockedIn = errors.New("already clocked in")
	ErrInvalidReading   = errors.New("odometer reading must be a positive number")
	ErrSignedOut        = errors.New("not signed in")
)

// Store is the remote data service scoped to the signed-in user. Lookups
// return nil, nil when nothing matches.
type Store interface {
	InsertClockLog(ctx context.Context, log model.ClockLog) (model.ClockLog, error)
	CloseClockLog(ctx context.Context, id string, at time.Time, fix model.GeoFix) (model.ClockLog, error)
	OpenClockLog(ctx context.Context) (*model.ClockLog, error)

	InsertMeeting(ctx context.Context, m model.Meeting) (model.Meeting, error)
	ListMeetings(ctx context.Context, f model.ListFilter) ([]model.Meeting, error)
	InsertDistribution(ctx context.Context, d model.Distribution) (model.Distribution, error)
	ListDistributions(ctx context.Context, f model.ListFilter) ([]model.Distribution, error)
	InsertSale(ctx context.Context, s model.Sale) (model.Sale, error)
	ListSales(ctx context.Context, f model.ListFilter) ([]model.Sale, error)
	InsertOdometerLog(ctx context.Context, o model.OdometerLog) (model.OdometerLog, error)
	ListOdometerLogs(ctx context.Context, f model.ListFilter) ([]model.OdometerLog, error)

	Count(ctx context.Context, c model.Collection, f model.CountFilter) (int, error)
	SalesTotal(ctx context.Context, f model.CountFilter) (decimal.Decimal, error)
	CountOfficers(ctx context.Context) (int, error)
}

// PhotoUploader never overwrites: an existing path is a conflict.
type PhotoUploader interface {
	UploadOdometerPhoto(ctx context.Context, path, contentType string, body io.Reader) error
}

type Locator interface {
	CurrentPosition(ctx context.Context) (model.GeoFix, error)
}

type WorkSessions interface {
	Create(ctx context.Context) (model.WorkSession, error)
	Complete(ctx context.Context) (*model.WorkSession, error)
}

var _ WorkSessions = (*worksession.Reconciler)(nil)

type Deps struct {
	Store    Store
	Photos   PhotoUploader
	Locator  Locator
	Sessions WorkSessions
	Odometer *events.OdometerRecorded
	// UserID reports the signed-in user; empty means signed out.
	UserID func() string
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

type Service struct {
	store    Store
	photos   PhotoUploader
	locator  Locator
	sessions WorkSessions
	odometer *events.OdometerRecorded
	userID   func() string
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	mu            sync.Mutex
	todayOdometer *model.OdometerLog
	unsubscribe   func()
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		photos:   d.Photos,
		locator:  d.Locator,
		sessions: d.Sessions,
		odometer: d.Odometer,
		userID:   d.UserID,
		logger:   logger.OrNop(d.Logger),
		now:      d.Now,
		newID:    d.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newUUID
	}
	if s.userID == nil {
		s.userID = func() string { return "" }
	}
	if s.odometer == nil {
		s.odometer = events.NewOdometerRecorded()
	}
	s.unsubscribe = s.odometer.Subscribe(s.onOdometerRecorded)
	return s
}

// Close stops following odometer events.
func (s *Service) Close() {
	s.unsubscribe()
}

func (s *Service) currentUser() (string, error) {
	id := s.userID()
	if id == "" {
		return "", ErrSignedOut
	}
	return id, nil
}

// ClockIn captures a fix, writes the clock log and only then opens the work
// session. A work session failure leaves the clock log in place and is only
// logged; the reconciler repairs it on the next cycle.
func (s *Service) ClockIn(ctx context.Context) (model.ClockLog, error) {
	userID, err := s.currentUser()
	if err != nil {
		return model.ClockLog{}, err
	}
	open, err := s.store.OpenClockLog(ctx)
	if err != nil {
		s.logger.Warn("check open clock log", zap.Error(err))
	} else if open != nil {
		return *open, ErrAlreadyClockedIn
	}

	fix, err := s.locator.CurrentPosition(ctx)
	if err != nil {
		return model.ClockLog{}, err
	}
	saved, err := s.store.InsertClockLog(ctx, model.ClockLog{
		UserID:     userID,
		ClockInAt:  s.now(),
		ClockInLat: &fix.Lat,
		ClockInLng: &fix.Lng,
	})
	if err != nil {
		return model.ClockLog{}, fmt.Errorf("clock in: %w", err)
	}

	if _, err := s.sessions.Create(ctx); err != nil {
		s.logger.Error("clock log saved without work session", zap.String("clock_log_id", saved.ID), zap.Error(err))
	}
	return saved, nil
}

func (s *Service) ClockOut(ctx context.Context) (model.ClockLog, error) {
	if _, err := s.currentUser(); err != nil {
		return model.ClockLog{}, err
	}
	open, err := s.store.OpenClockLog(ctx)
	if err != nil {
		return model.ClockLog{}, fmt.Errorf("find open clock log: %w", err)
	}
	if open == nil {
		return model.ClockLog{}, ErrNoActiveClockLog
	}

	fix, err := s.locator.CurrentPosition(ctx)
	if err != nil {
		return model.ClockLog{}, err
	}
	closed, err := s.store.CloseClockLog(ctx, open.ID, s.now(), fix)
	if err != nil {
		return model.ClockLog{}, fmt.Errorf("clock out: %w", err)
	}

	if _, err := s.sessions.Complete(ctx); err != nil {
		s.logger.Error("clock log closed without closing work session", zap.String("clock_log_id", closed.ID), zap.Error(err))
	}
	return closed, nil
}

// ActiveClockLog degrades to nil on read failure.
func (s *Service) ActiveClockLog(ctx context.Context) *model.ClockLog {
	open, err := s.store.OpenClockLog(ctx)
	if err != nil {
		s.logger.Warn("fetch active clock log", zap.Error(err))
		return nil
	}
	return open
}

type TodayStats struct {
	Meetings      int `json:"meetings"`
	Distributions int `json:"distributions"`
	Sales         int `json:"sales"`
}

// TodayStats counts the caller's records since local midnight. Counts that
// fail to load are zero.
func (s *Service) TodayStats(ctx context.Context) TodayStats {
	since := worksession.StartOfDay(s.now())
	filter := model.CountFilter{Since: &since}

	var stats TodayStats
	var g errgroup.Group
	count := func(c model.Collection, dst *int) {
		g.Go(func() error {
			n, err := s.store.Count(ctx, c, filter)
			if err != nil {
				s.logger.Warn("count today's records", zap.String("collection", string(c)), zap.Error(err))
				return nil
			}
			*dst = n
			return nil
		})
	}
	count(model.CollectionMeetings, &stats.Meetings)
	count(model.CollectionDistributions, &stats.Distributions)
	count(model.CollectionSales, &stats.Sales)
	_ = g.Wait()
	return stats
}
