package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChannelConfig is the per-property connection to the channel manager.
type ChannelConfig struct {
	ID                    int64
	PropertyID            int64
	ExternalHotelCode     string
	ExternalPMSIdentifier string
	APIBaseURL            string
	IsActive              bool
	IsSandbox             bool
	LastSyncAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type ConfigInput struct {
	HotelCode     string
	PMSIdentifier string
	APIBaseURL    string
	IsSandbox     bool
	IsActive      *bool // nil keeps the stored value (new configs default to active)
}

type RoomMapping struct {
	ID               int64
	ConfigID         int64
	InternalRoomType string
	ExternalRoomCode string
	Position         int
	RatePlans        []RatePlanMapping
}

type RoomMappingInput struct {
	InternalRoomType string
	ExternalRoomCode string
}

type RatePlanMapping struct {
	ID            int64
	RoomMappingID int64
	Name          string
	Code          string
	BaseRate      decimal.Decimal
	Occupancy     int
	Position      int
}

type RatePlanInput struct {
	Name      string
	Code      string
	BaseRate  decimal.Decimal
	Occupancy int
}

// MappingSnapshot is an immutable view of a property's config and mappings,
// ordered by insertion.
type MappingSnapshot struct {
	Config ChannelConfig
	Rooms  []RoomMapping
}

func (s MappingSnapshot) Room(id int64) (RoomMapping, bool) {
	for _, r := range s.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return RoomMapping{}, false
}

func (s MappingSnapshot) RoomByCode(code string) (RoomMapping, bool) {
	for _, r := range s.Rooms {
		if r.ExternalRoomCode == code {
			return r, true
		}
	}
	return RoomMapping{}, false
}

// Endpoint is everything the channel client needs to address one hotel.
type Endpoint struct {
	BaseURL       string
	HotelCode     string
	PMSIdentifier string
	Sandbox       bool
}

func (c ChannelConfig) Endpoint() Endpoint {
	return Endpoint{
		BaseURL:       c.APIBaseURL,
		HotelCode:     c.ExternalHotelCode,
		PMSIdentifier: c.ExternalPMSIdentifier,
		Sandbox:       c.IsSandbox,
	}
}

/********** outbound inputs **********/

const DateLayout = "2006-01-02"

// DateRange is inclusive on both ends and day-granular.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func NewDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, NewValidationError("startDate", "must be YYYY-MM-DD")
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, NewValidationError("endDate", "must be YYYY-MM-DD")
	}
	r := DateRange{Start: s, End: e}
	return r, r.Validate()
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return NewValidationError("dateRange", "start and end are required")
	}
	if r.End.Before(r.Start) {
		return NewValidationError("dateRange", "end before start")
	}
	return nil
}

// Days counts the days in the range, both ends included.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

type RateUpdate struct {
	RoomMappingID int64
	Rate          decimal.Decimal
	RatePlanCode  string // empty fans out to every plan of the room
}

type InventoryUpdate struct {
	RoomMappingID  int64
	AvailableCount int
}

// FailedRange names one sub-batch the remote did not accept.
type FailedRange struct {
	RoomCode string    `json:"roomCode"`
	Range    DateRange `json:"-"`
	Start    string    `json:"startDate"`
	End      string    `json:"endDate"`
	Error    string    `json:"error"`
}

type PushResult struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Batches  int           `json:"batches"`
	Accepted int           `json:"accepted"`
	Failed   []FailedRange `json:"failed,omitempty"`
}

type ProbeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
