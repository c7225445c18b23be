package domain

import "time"

type SyncType string

const (
	SyncInventoryPush      SyncType = "inventory_push"
	SyncRatePush           SyncType = "rate_push"
	SyncConnectionTest     SyncType = "connection_test"
	SyncReservationBook    SyncType = "reservation_book"
	SyncReservationModify  SyncType = "reservation_modify"
	SyncReservationCancel  SyncType = "reservation_cancel"
	SyncReservationUnknown SyncType = "reservation_unknown"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

type SyncStatus string

const (
	StatusSuccess  SyncStatus = "success"
	StatusFailed   SyncStatus = "failed"
	StatusError    SyncStatus = "error"
	StatusReceived SyncStatus = "received"
)

// SyncLogEntry is one immutable ledger row. PropertyID and ConfigID are nil
// when an inbound delivery could not be resolved to a property.
type SyncLogEntry struct {
	ID              int64      `json:"id"`
	PropertyID      *int64     `json:"propertyId,omitempty"`
	ConfigID        *int64     `json:"configId,omitempty"`
	SyncType        SyncType   `json:"syncType"`
	Direction       Direction  `json:"direction"`
	Status          SyncStatus `json:"status"`
	ExternalRef     string     `json:"externalRef,omitempty"` // reservation id or idempotency key
	RequestPayload  []byte     `json:"requestPayload,omitempty"`
	ResponsePayload []byte     `json:"responsePayload,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	NeedsReview     bool       `json:"needsReview"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type LogFilter struct {
	SyncType  SyncType
	Status    SyncStatus
	Direction Direction
	Limit     int
	Cursor    *int64 // rows with id < cursor
}

type LogPage struct {
	Items      []SyncLogEntry `json:"items"`
	NextCursor *int64         `json:"nextCursor,omitempty"`
}
