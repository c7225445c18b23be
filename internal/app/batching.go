package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"ota_sync/internal/domain"
)

/********** wire payloads **********/

type rateEntry struct {
	RoomCode     string      `json:"roomCode"`
	Rate         json.Number `json:"rate"`
	RatePlanCode string      `json:"rateplanCode"`
}

type rateWindow struct {
	StartDate string      `json:"startDate"`
	EndDate   string      `json:"endDate"`
	Rates     []rateEntry `json:"rates"`
}

type ratePayload struct {
	HotelCode string       `json:"hotelCode"`
	Updates   []rateWindow `json:"updates"`
}

type roomEntry struct {
	RoomCode  string `json:"roomCode"`
	Available int    `json:"available"`
}

type inventoryWindow struct {
	StartDate string      `json:"startDate"`
	EndDate   string      `json:"endDate"`
	Rooms     []roomEntry `json:"rooms"`
}

type inventoryPayload struct {
	HotelCode string            `json:"hotelCode"`
	Updates   []inventoryWindow `json:"updates"`
}

/********** sub-batches **********/

type pushKind string

const (
	kindRates     pushKind = "rates"
	kindInventory pushKind = "inventory"
)

func (k pushKind) syncType() domain.SyncType {
	if k == kindRates {
		return domain.SyncRatePush
	}
	return domain.SyncInventoryPush
}

// subBatch is one outbound call: one room mapping over one date window.
type subBatch struct {
	RoomMappingID int64
	RoomCode      string
	Window        domain.DateRange
	Key           string
	Body          []byte
}

// partition holds every sub-batch of a single room mapping in date order.
// Partitions run concurrently; sub-batches inside one never do.
type partition []subBatch

// splitRange cuts r into consecutive windows of at most maxDays days.
func splitRange(r domain.DateRange, maxDays int) []domain.DateRange {
	if maxDays <= 0 {
		maxDays = r.Days()
	}
	var out []domain.DateRange
	for start := r.Start; !start.After(r.End); {
		end := start.AddDate(0, 0, maxDays-1)
		if end.After(r.End) {
			end = r.End
		}
		out = append(out, domain.DateRange{Start: start, End: end})
		start = end.AddDate(0, 0, 1)
	}
	return out
}

// idempotencyKey is stable for (kind, config, window, room codes, body) so a
// retry of the same sub-batch is addressed identically, while a changed
// payload for the same window gets a fresh key.
func idempotencyKey(kind pushKind, configID int64, w domain.DateRange, roomCodes []string, body []byte) string {
	codes := append([]string(nil), roomCodes...)
	sort.Strings(codes)
	digest := sha256.Sum256(body)
	sig := strings.Join([]string{
		string(kind),
		strconv.FormatInt(configID, 10),
		w.Start.Format(domain.DateLayout),
		w.End.Format(domain.DateLayout),
		strings.Join(codes, ","),
		hex.EncodeToString(digest[:]),
	}, "|")
	sum := sha256.Sum256([]byte(sig))
	return hex.EncodeToString(sum[:])
}

func buildRatePartitions(cfg domain.ChannelConfig, r domain.DateRange, maxDays int, rooms []resolvedRoom[rateEntry]) ([]partition, error) {
	windows := splitRange(r, maxDays)
	out := make([]partition, 0, len(rooms))
	for _, room := range rooms {
		p := make(partition, 0, len(windows))
		for _, w := range windows {
			body, err := json.Marshal(ratePayload{
				HotelCode: cfg.ExternalHotelCode,
				Updates: []rateWindow{{
					StartDate: w.Start.Format(domain.DateLayout),
					EndDate:   w.End.Format(domain.DateLayout),
					Rates:     room.Entries,
				}},
			})
			if err != nil {
				return nil, err
			}
			p = append(p, subBatch{
				RoomMappingID: room.Mapping.ID,
				RoomCode:      room.Mapping.ExternalRoomCode,
				Window:        w,
				Key:           idempotencyKey(kindRates, cfg.ID, w, []string{room.Mapping.ExternalRoomCode}, body),
				Body:          body,
			})
		}
		out = append(out, p)
	}
	return out, nil
}

func buildInventoryPartitions(cfg domain.ChannelConfig, r domain.DateRange, maxDays int, rooms []resolvedRoom[roomEntry]) ([]partition, error) {
	windows := splitRange(r, maxDays)
	out := make([]partition, 0, len(rooms))
	for _, room := range rooms {
		p := make(partition, 0, len(windows))
		for _, w := range windows {
			body, err := json.Marshal(inventoryPayload{
				HotelCode: cfg.ExternalHotelCode,
				Updates: []inventoryWindow{{
					StartDate: w.Start.Format(domain.DateLayout),
					EndDate:   w.End.Format(domain.DateLayout),
					Rooms:     room.Entries,
				}},
			})
			if err != nil {
				return nil, err
			}
			p = append(p, subBatch{
				RoomMappingID: room.Mapping.ID,
				RoomCode:      room.Mapping.ExternalRoomCode,
				Window:        w,
				Key:           idempotencyKey(kindInventory, cfg.ID, w, []string{room.Mapping.ExternalRoomCode}, body),
				Body:          body,
			})
		}
		out = append(out, p)
	}
	return out, nil
}

// resolvedRoom is a room mapping with its outbound entries, in snapshot order.
type resolvedRoom[E any] struct {
	Mapping domain.RoomMapping
	Entries []E
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
