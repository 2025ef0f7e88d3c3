package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleFieldOfficer Role = "field_officer"
)

// DefaultRole applies when a user has no user_roles row.
const DefaultRole = RoleFieldOfficer

func (r Role) IsAdmin() bool { return r == RoleAdmin }

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleFieldOfficer
}

type MeetingType string

const (
	MeetingOneOnOne MeetingType = "one_on_one"
	MeetingGroup    MeetingType = "group"
)

type SaleType string

const (
	SaleB2B SaleType = "b2b"
	SaleB2C SaleType = "b2c"
)

// AuthEvent names a session transition reported by the auth API.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is what the auth API hands a client after sign-in.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}

func (s *Session) HasUser() bool {
	return s != nil && s.User != nil && s.User.ID != ""
}

func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	Email     *string   `json:"email"`
	Phone     *string   `json:"phone"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UserRole struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// GeoFix is never stored on its own; it rides on the record it was captured for.
type GeoFix struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type ClockLog struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	ClockInAt           time.Time  `json:"clock_in_at"`
	ClockOutAt          *time.Time `json:"clock_out_at"`
	ClockInLat          *float64   `json:"clock_in_lat"`
	ClockInLng          *float64   `json:"clock_in_lng"`
	ClockOutLat         *float64   `json:"clock_out_lat"`
	ClockOutLng         *float64   `json:"clock_out_lng"`
	ClockInOdometerURL  *string    `json:"clock_in_odometer_url"`
	ClockOutOdometerURL *string    `json:"clock_out_odometer_url"`
	Notes               *string    `json:"notes"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (c ClockLog) Open() bool { return c.ClockOutAt == nil }

type WorkSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	LoginAt   time.Time  `json:"login_at"`
	LogoutAt  *time.Time `json:"logout_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (w WorkSession) Open() bool { return w.LogoutAt == nil }

type Meeting struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	MeetingType   MeetingType `json:"meeting_type"`
	MeetingAt     time.Time   `json:"meeting_at"`
	Lat           *float64    `json:"lat"`
	Lng           *float64    `json:"lng"`
	AttendeeName  *string     `json:"attendee_name"`
	AttendeeCount int         `json:"attendee_count"`
	PhotoURL      *string     `json:"photo_url"`
	Notes         *string     `json:"notes"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type Distribution struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	DistributedAt time.Time `json:"distributed_at"`
	SampleName    string    `json:"sample_name"`
	Quantity      int       `json:"quantity"`
	Purpose       *string   `json:"purpose"`
	RecipientName *string   `json:"recipient_name"`
	Lat           *float64  `json:"lat"`
	Lng           *float64  `json:"lng"`
	Notes         *string   `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type OdometerLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ReadingKm  float64   `json:"reading_km"`
	PhotoURL   *string   `json:"photo_url"`
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Sale struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	SoldAt       time.Time        `json:"sold_at"`
	SaleType     SaleType         `json:"sale_type"`
	SKU          string           `json:"sku"`
	ProductName  *string          `json:"product_name"`
	Quantity     int              `json:"quantity"`
	UnitPrice    *decimal.Decimal `json:"unit_price"`
	TotalAmount  *decimal.Decimal `json:"total_amount"`
	CustomerName *string          `json:"customer_name"`
	Lat          *float64         `json:"lat"`
	Lng          *float64         `json:"lng"`
	Notes        *string          `json:"notes"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Server-side only.

type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent *string
	IPAddress *string
}

// Sentinels shared by the repository, the HTTP layer and the remote client.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Collection names a countable table.
type Collection string

const (
	CollectionClockLogs     Collection = "clock_logs"
	CollectionWorkSessions  Collection = "work_sessions"
	CollectionMeetings      Collection = "meetings"
	CollectionDistributions Collection = "distributions"
	CollectionSales         Collection = "sales"
	CollectionOdometerLogs  Collection = "odometer_logs"
)

// CountFilter narrows counts and totals. All spans every user and is
// reserved for admins.
type CountFilter struct {
	Since    *time.Time
	Until    *time.Time
	Open     *bool
	SaleType SaleType
	All      bool
}

// ListFilter narrows list reads; Limit 0 means the server default.
type ListFilter struct {
	Since *time.Time
	Limit int
}
