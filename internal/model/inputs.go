package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Write payloads. The server fills in id, user_id and the row timestamps.

type NewClockLog struct {
	ClockInAt          time.Time `json:"clock_in_at" validate:"required"`
	ClockInLat         *float64  `json:"clock_in_lat" validate:"omitempty,latitude"`
	ClockInLng         *float64  `json:"clock_in_lng" validate:"omitempty,longitude"`
	ClockInOdometerURL *string   `json:"clock_in_odometer_url"`
	Notes              *string   `json:"notes" validate:"omitempty,max=2000"`
}

type ClockLogClose struct {
	ClockOutAt          time.Time `json:"clock_out_at" validate:"required"`
	ClockOutLat         *float64  `json:"clock_out_lat" validate:"omitempty,latitude"`
	ClockOutLng         *float64  `json:"clock_out_lng" validate:"omitempty,longitude"`
	ClockOutOdometerURL *string   `json:"clock_out_odometer_url"`
}

type NewWorkSession struct {
	LoginAt time.Time `json:"login_at" validate:"required"`
}

type WorkSessionClose struct {
	LogoutAt time.Time `json:"logout_at" validate:"required"`
}

type NewMeeting struct {
	MeetingType   MeetingType `json:"meeting_type" validate:"required,oneof=one_on_one group"`
	MeetingAt     time.Time   `json:"meeting_at" validate:"required"`
	Lat           *float64    `json:"lat" validate:"omitempty,latitude"`
	Lng           *float64    `json:"lng" validate:"omitempty,longitude"`
	AttendeeName  *string     `json:"attendee_name" validate:"omitempty,max=200"`
	AttendeeCount int         `json:"attendee_count" validate:"min=1"`
	PhotoURL      *string     `json:"photo_url"`
	Notes         *string     `json:"notes" validate:"omitempty,max=2000"`
}

type NewDistribution struct {
	DistributedAt time.Time `json:"distributed_at" validate:"required"`
	SampleName    string    `json:"sample_name" validate:"required,max=200"`
	Quantity      int       `json:"quantity" validate:"min=1"`
	Purpose       *string   `json:"purpose" validate:"omitempty,max=500"`
	RecipientName *string   `json:"recipient_name" validate:"omitempty,max=200"`
	Lat           *float64  `json:"lat" validate:"omitempty,latitude"`
	Lng           *float64  `json:"lng" validate:"omitempty,longitude"`
	Notes         *string   `json:"notes" validate:"omitempty,max=2000"`
}

type NewSale struct {
	SoldAt       time.Time        `json:"sold_at" validate:"required"`
	SaleType     SaleType         `json:"sale_type" validate:"required,oneof=b2b b2c"`
	SKU          string           `json:"sku" validate:"required,max=100"`
	ProductName  *string          `json:"product_name" validate:"omitempty,max=200"`
	Quantity     int              `json:"quantity" validate:"min=1"`
	UnitPrice    *decimal.Decimal `json:"unit_price"`
	TotalAmount  *decimal.Decimal `json:"total_amount"`
	CustomerName *string          `json:"customer_name" validate:"omitempty,max=200"`
	Lat          *float64         `json:"lat" validate:"omitempty,latitude"`
	Lng          *float64         `json:"lng" validate:"omitempty,longitude"`
	Notes        *string          `json:"notes" validate:"omitempty,max=2000"`
}

type NewOdometerLog struct {
	ReadingKm  float64   `json:"reading_km" validate:"gt=0"`
	PhotoURL   *string   `json:"photo_url"`
	RecordedAt time.Time `json:"recorded_at" validate:"required"`
}

func (c ClockLog) Input() NewClockLog {
	return NewClockLog{
		ClockInAt:          c.ClockInAt,
		ClockInLat:         c.ClockInLat,
		ClockInLng:         c.ClockInLng,
		ClockInOdometerURL: c.ClockInOdometerURL,
		Notes:              c.Notes,
	}
}

func (m Meeting) Input() NewMeeting {
	return NewMeeting{
		MeetingType:   m.MeetingType,
		MeetingAt:     m.MeetingAt,
		Lat:           m.Lat,
		Lng:           m.Lng,
		AttendeeName:  m.AttendeeName,
		AttendeeCount: m.AttendeeCount,
		PhotoURL:      m.PhotoURL,
		Notes:         m.Notes,
	}
}

func (d Distribution) Input() NewDistribution {
	return NewDistribution{
		DistributedAt: d.DistributedAt,
		SampleName:    d.SampleName,
		Quantity:      d.Quantity,
		Purpose:       d.Purpose,
		RecipientName: d.RecipientName,
		Lat:           d.Lat,
		Lng:           d.Lng,
		Notes:         d.Notes,
	}
}

func (s Sale) Input() NewSale {
	return NewSale{
		SoldAt:       s.SoldAt,
		SaleType:     s.SaleType,
		SKU:          s.SKU,
		ProductName:  s.ProductName,
		Quantity:     s.Quantity,
		UnitPrice:    s.UnitPrice,
		TotalAmount:  s.TotalAmount,
		CustomerName: s.CustomerName,
		Lat:          s.Lat,
		Lng:          s.Lng,
		Notes:        s.Notes,
	}
}

func (o OdometerLog) Input() NewOdometerLog {
	return NewOdometerLog{ReadingKm: o.ReadingKm, PhotoURL: o.PhotoURL, RecordedAt: o.RecordedAt}
}
