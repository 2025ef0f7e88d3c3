package field

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fieldops/internal/model"
	"fieldops/internal/worksession"
)

// ListLimit matches what the list views show.
const ListLimit = 50

var (
	ErrSampleNameRequired = errors.New("sample name is required")
	ErrSKURequired        = errors.New("sku is required")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
)

func newUUID() string { return uuid.NewString() }

type Photo struct {
	// Name is the original file name; only its extension is kept.
	Name        string
	ContentType string
	Body        io.Reader
}

// RecordOdometer uploads the optional photo, saves the reading and then
// announces it on the odometer bus. Nothing is published unless the insert
// succeeds.
func (s *Service) RecordOdometer(ctx context.Context, readingKm float64, photo *Photo) (model.OdometerLog, error) {
	userID, err := s.currentUser()
	if err != nil {
		return model.OdometerLog{}, err
	}
	if math.IsNaN(readingKm) || math.IsInf(readingKm, 0) || readingKm <= 0 {
		return model.OdometerLog{}, ErrInvalidReading
	}

	var photoPath *string
	if photo != nil && photo.Body != nil {
		p := s.photoPath(userID, photo.Name)
		if err := s.photos.UploadOdometerPhoto(ctx, p, photo.ContentType, photo.Body); err != nil {
			return model.OdometerLog{}, fmt.Errorf("upload odometer photo: %w", err)
		}
		photoPath = &p
	}

	saved, err := s.store.InsertOdometerLog(ctx, model.OdometerLog{
		UserID:     userID,
		ReadingKm:  readingKm,
		PhotoURL:   photoPath,
		RecordedAt: s.now(),
	})
	if err != nil {
		return model.OdometerLog{}, fmt.Errorf("save odometer reading: %w", err)
	}
	s.odometer.Publish(saved)
	return saved, nil
}

// photoPath is <user_id>/<unix_ms>-<uuid>.<ext>.
func (s *Service) photoPath(userID, name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%d-%s.%s", userID, s.now().UnixMilli(), s.newID(), strings.ToLower(ext))
}

// TodayOdometer is the latest reading recorded since local midnight, kept
// current by odometer events.
func (s *Service) TodayOdometer() *model.OdometerLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.todayOdometer == nil {
		return nil
	}
	o := *s.todayOdometer
	return &o
}

// RefreshTodayOdometer re-reads today's latest reading. A failed read keeps
// what is held.
func (s *Service) RefreshTodayOdometer(ctx context.Context) *model.OdometerLog {
	since := worksession.StartOfDay(s.now())
	logs, err := s.store.ListOdometerLogs(ctx, model.ListFilter{Since: &since, Limit: 1})
	if err != nil {
		s.logger.Warn("fetch today's odometer reading", zap.Error(err))
		return s.TodayOdometer()
	}
	s.mu.Lock()
	if len(logs) == 0 {
		s.todayOdometer = nil
	} else {
		latest := logs[0]
		s.todayOdometer = &latest
	}
	s.mu.Unlock()
	return s.TodayOdometer()
}

func (s *Service) onOdometerRecorded(o model.OdometerLog) {
	if o.UserID != s.userID() {
		return
	}
	if o.RecordedAt.Before(worksession.StartOfDay(s.now())) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.todayOdometer == nil || !o.RecordedAt.Before(s.todayOdometer.RecordedAt) {
		s.todayOdometer = &o
	}
}

type MeetingInput struct {
	Type          model.MeetingType
	AttendeeName  string
	AttendeeCount int
	Notes         string
}

// LogMeeting tags the meeting with a fix when one can be had; location is
// optional here.
func (s *Service) LogMeeting(ctx context.Context, in MeetingInput) (model.Meeting, error) {
	userID, err := s.currentUser()
	if err != nil {
		return model.Meeting{}, err
	}
	if in.Type != model.MeetingGroup {
		in.Type = model.MeetingOneOnOne
	}
	count := 1
	if in.Type == model.MeetingGroup && in.AttendeeCount > 1 {
		count = in.AttendeeCount
	}

	m := model.Meeting{
		UserID:        userID,
		MeetingType:   in.Type,
		MeetingAt:     s.now(),
		AttendeeName:  optional(in.AttendeeName),
		AttendeeCount: count,
		Notes:         optional(in.Notes),
	}
	if fix, err := s.locator.CurrentPosition(ctx); err == nil {
		m.Lat, m.Lng = &fix.Lat, &fix.Lng
	} else {
		s.logger.Debug("meeting saved without location", zap.Error(err))
	}

	saved, err := s.store.InsertMeeting(ctx, m)
	if err != nil {
		return model.Meeting{}, fmt.Errorf("save meeting: %w", err)
	}
	return saved, nil
}

type DistributionInput struct {
	SampleName    string
	Quantity      int
	Purpose       string
	RecipientName string
	Notes         string
}

func (s *Service) RecordDistribution(ctx context.Context, in DistributionInput) (model.Distribution, error) {
	userID, err := s.currentUser()
	if err != nil {
		return model.Distribution{}, err
	}
	if strings.TrimSpace(in.SampleName) == "" {
		return model.Distribution{}, ErrSampleNameRequired
	}
	if in.Quantity < 1 {
		return model.Distribution{}, ErrInvalidQuantity
	}
	saved, err := s.store.InsertDistribution(ctx, model.Distribution{
		UserID:        userID,
		DistributedAt: s.now(),
		SampleName:    strings.TrimSpace(in.SampleName),
		Quantity:      in.Quantity,
		Purpose:       optional(in.Purpose),
		RecipientName: optional(in.RecipientName),
		Notes:         optional(in.Notes),
	})
	if err != nil {
		return model.Distribution{}, fmt.Errorf("save distribution: %w", err)
	}
	return saved, nil
}

type SaleInput struct {
	Type         model.SaleType
	SKU          string
	ProductName  string
	Quantity     int
	UnitPrice    *decimal.Decimal
	CustomerName string
	Notes        string
}

// RecordSale stores quantity x unit price as the total when a price is given.
func (s *Service) RecordSale(ctx context.Context, in SaleInput) (model.Sale, error) {
	userID, err := s.currentUser()
	if err != nil {
		return model.Sale{}, err
	}
	if strings.TrimSpace(in.SKU) == "" {
		return model.Sale{}, ErrSKURequired
	}
	if in.Quantity < 1 {
		return model.Sale{}, ErrInvalidQuantity
	}
	if in.Type != model.SaleB2B {
		in.Type = model.SaleB2C
	}

	sale := model.Sale{
		UserID:       userID,
		SoldAt:       s.now(),
		SaleType:     in.Type,
		SKU:          strings.TrimSpace(in.SKU),
		ProductName:  optional(in.ProductName),
		Quantity:     in.Quantity,
		CustomerName: optional(in.CustomerName),
		Notes:        optional(in.Notes),
	}
	if in.UnitPrice != nil {
		price := *in.UnitPrice
		total := price.Mul(decimal.NewFromInt(int64(in.Quantity)))
		sale.UnitPrice, sale.TotalAmount = &price, &total
	}

	saved, err := s.store.InsertSale(ctx, sale)
	if err != nil {
		return model.Sale{}, fmt.Errorf("save sale: %w", err)
	}
	return saved, nil
}

// List reads degrade to empty slices.

func (s *Service) Meetings(ctx context.Context) []model.Meeting {
	list, err := s.store.ListMeetings(ctx, model.ListFilter{Limit: ListLimit})
	if err != nil {
		s.logger.Warn("list meetings", zap.Error(err))
		return nil
	}
	return list
}

func (s *Service) Distributions(ctx context.Context) []model.Distribution {
	list, err := s.store.ListDistributions(ctx, model.ListFilter{Limit: ListLimit})
	if err != nil {
		s.logger.Warn("list distributions", zap.Error(err))
		return nil
	}
	return list
}

func (s *Service) Sales(ctx context.Context) []model.Sale {
	list, err := s.store.ListSales(ctx, model.ListFilter{Limit: ListLimit})
	if err != nil {
		s.logger.Warn("list sales", zap.Error(err))
		return nil
	}
	return list
}

func (s *Service) OdometerLogs(ctx context.Context) []model.OdometerLog {
	list, err := s.store.ListOdometerLogs(ctx, model.ListFilter{Limit: ListLimit})
	if err != nil {
		s.logger.Warn("list odometer readings", zap.Error(err))
		return nil
	}
	return list
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
