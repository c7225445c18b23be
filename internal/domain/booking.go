package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingConfirmed  BookingStatus = "confirmed"
	BookingCheckedIn  BookingStatus = "checked_in"
	BookingCheckedOut BookingStatus = "checked_out"
	BookingCancelled  BookingStatus = "cancelled"
)

// Live reports whether guests are or were on site, in which case a remote
// cancellation must not be applied automatically.
func (s BookingStatus) Live() bool {
	return s == BookingCheckedIn || s == BookingCheckedOut
}

const (
	SourceChannel = "channel"
	// PlaceholderRoomType holds bookings whose external room code has no mapping.
	PlaceholderRoomType = "__unmapped__"
)

type Booking struct {
	ID               int64
	PropertyID       int64
	Source           string
	ExternalRef      string
	RoomType         string
	ExternalRoomCode string
	GuestName        string
	GuestEmail       string
	GuestPhone       string
	Adults           int
	CheckIn          time.Time
	CheckOut         time.Time
	TotalAmount      decimal.Decimal
	Status           BookingStatus
	NeedsReview      bool
	ReviewReason     string
}

type ReservationEventType string

const (
	EventBook   ReservationEventType = "book"
	EventModify ReservationEventType = "modify"
	EventCancel ReservationEventType = "cancel"
)

func (t ReservationEventType) SyncType() SyncType {
	switch t {
	case EventBook:
		return SyncReservationBook
	case EventModify:
		return SyncReservationModify
	case EventCancel:
		return SyncReservationCancel
	}
	return SyncReservationUnknown
}

// ReservationEvent is a decoded webhook delivery.
type ReservationEvent struct {
	Type          ReservationEventType
	ReservationID string
	HotelCode     string
	RoomCodes     []string
	GuestName     string
	GuestEmail    string
	GuestPhone    string
	Adults        int
	CheckIn       time.Time
	CheckOut      time.Time
	TotalAmount   decimal.Decimal
}

// Ack is what the webhook endpoint answers.
type Ack struct {
	HTTPStatus int        `json:"-"`
	DeliveryID string     `json:"deliveryId"`
	Status     SyncStatus `json:"status"`
	Message    string     `json:"message"`
}
