package domain

import (
	"context"
	"time"
)

type MappingRepository interface {
	// Write paths
	UpsertConfig(ctx context.Context, propertyID int64, in ConfigInput) (ChannelConfig, error)
	ReplaceRoomMappings(ctx context.Context, configID int64, rooms []RoomMappingInput) error
	ReplaceRatePlans(ctx context.Context, roomMappingID int64, plans []RatePlanInput) error
	TouchLastSync(ctx context.Context, configID int64, at time.Time) error

	// Read paths
	GetConfig(ctx context.Context, propertyID int64) (ChannelConfig, error)
	GetConfigByID(ctx context.Context, configID int64) (ChannelConfig, error)
	GetConfigByHotelCode(ctx context.Context, hotelCode string) (ChannelConfig, error)
	GetRoomMapping(ctx context.Context, roomMappingID int64) (RoomMapping, error)
	LoadSnapshot(ctx context.Context, propertyID int64) (MappingSnapshot, error)
	ListActiveConfigs(ctx context.Context) ([]ChannelConfig, error)
}

type SyncLogRepository interface {
	Append(ctx context.Context, e SyncLogEntry) (SyncLogEntry, error)
	Query(ctx context.Context, propertyID int64, f LogFilter) (LogPage, error)
	HasStatus(ctx context.Context, configID int64, t SyncType, externalRef string, status SyncStatus) (bool, error)
}

// BookingStore is the internal booking collaborator.
type BookingStore interface {
	FindByExternalRef(ctx context.Context, propertyID int64, source, ref string) (*Booking, error)
	Create(ctx context.Context, b Booking) (Booking, error)
	Update(ctx context.Context, b Booking) error
	Cancel(ctx context.Context, id int64) error
	FlagForReview(ctx context.Context, id int64, reason string) error
}

// AvailabilitySource reports sellable rooms of one type on one night.
type AvailabilitySource interface {
	AvailableRooms(ctx context.Context, propertyID int64, roomType string, night time.Time) (int, error)
}

// ChannelClient talks to the channel manager. Request bodies are returned
// verbatim alongside responses so both can be written to the ledger.
type ChannelClient interface {
	TestConnection(ctx context.Context, ep Endpoint) (Exchange, error)
	PushRates(ctx context.Context, ep Endpoint, idemKey string, body []byte) (Exchange, error)
	PushInventory(ctx context.Context, ep Endpoint, idemKey string, body []byte) (Exchange, error)
}

type Exchange struct {
	Request  []byte
	Response []byte
	Message  string
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// KeyLocker serializes work per key. Lock blocks until the key is free or
// ctx ends, in which case it returns *ConcurrencyConflict.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
