package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ota_sync/internal/domain"
)

/********** alias registries (single source of truth) **********/

var reservationAliases = map[string][]string{
	"reservation_id": {"reservationId", "reservation_id", "bookingId", "booking_id", "reservation.id", "id"},
	"hotel_code":     {"hotelCode", "hotel_code", "propertyCode", "property_code", "hotel.code"},
	"event_type":     {"eventType", "event_type", "type", "action", "event"},
	"room_code":      {"roomCode", "room_code", "roomTypeCode", "room.code"},
	"guest_name":     {"guestName", "guest_name", "guest.name", "customer.name"},
	"guest_first":    {"guest.firstName", "guest.first_name", "firstName", "first_name"},
	"guest_last":     {"guest.lastName", "guest.last_name", "lastName", "last_name"},
	"guest_email":    {"guestEmail", "guest_email", "guest.email", "email"},
	"guest_phone":    {"guestPhone", "guest_phone", "guest.phone", "phone"},
	"check_in":       {"checkIn", "check_in", "checkin", "arrivalDate", "arrival_date", "stay.checkIn"},
	"check_out":      {"checkOut", "check_out", "checkout", "departureDate", "departure_date", "stay.checkOut"},
	"adults":         {"adults", "guests.adults", "occupancy.adults", "numberOfGuests"},
	"amount":         {"totalAmount", "total_amount", "amount", "price.total", "total"},
}

var eventVocabulary = map[string]domain.ReservationEventType{
	"book":         domain.EventBook,
	"booked":       domain.EventBook,
	"new":          domain.EventBook,
	"create":       domain.EventBook,
	"created":      domain.EventBook,
	"confirmed":    domain.EventBook,
	"modify":       domain.EventModify,
	"modified":     domain.EventModify,
	"modification": domain.EventModify,
	"update":       domain.EventModify,
	"updated":      domain.EventModify,
	"amend":        domain.EventModify,
	"cancel":       domain.EventCancel,
	"cancelled":    domain.EventCancel,
	"canceled":     domain.EventCancel,
	"cancellation": domain.EventCancel,
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupStr returns the value at path as a string; numbers are formatted.
func lookupStr(m map[string]any, path string) string {
	switch v := lookupAny(m, path).(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// firstAlias: first non-empty string for a named alias set.
func firstAlias(m map[string]any, key string) string {
	for _, p := range reservationAliases[key] {
		if s := lookupStr(m, p); s != "" {
			return s
		}
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, " ")
}

// parseDay accepts a bare date or an RFC 3339 timestamp.
func parseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(domain.DateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return dayOf(t), true
	}
	return time.Time{}, false
}

// roomCodes collects codes from a rooms array, falling back to a single code.
func roomCodes(m map[string]any) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(c string) {
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, k := range []string{"rooms", "roomStays", "room_stays"} {
		if raw, ok := lookupAny(m, k).([]any); ok {
			for _, it := range raw {
				switch t := it.(type) {
				case string:
					add(strings.TrimSpace(t))
				case map[string]any:
					add(firstAlias(t, "room_code"))
				}
			}
		}
	}
	if len(out) == 0 {
		add(firstAlias(m, "room_code"))
	}
	return out
}

/********** reservation decoder **********/

// decodeReservation turns a raw webhook body into a ReservationEvent.
// Problems are ValidationErrors; the event carries whatever was readable.
func decodeReservation(body []byte) (domain.ReservationEvent, error) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil || m == nil {
		return domain.ReservationEvent{}, domain.NewValidationError("body", "must be a JSON object")
	}
	// some senders wrap the reservation
	if inner, ok := m["reservation"].(map[string]any); ok {
		for k, v := range m {
			if _, exists := inner[k]; !exists && k != "reservation" {
				inner[k] = v
			}
		}
		m = inner
	}

	ev := domain.ReservationEvent{
		ReservationID: firstAlias(m, "reservation_id"),
		HotelCode:     firstAlias(m, "hotel_code"),
		RoomCodes:     roomCodes(m),
		GuestEmail:    firstAlias(m, "guest_email"),
		GuestPhone:    firstAlias(m, "guest_phone"),
	}
	if n := firstAlias(m, "guest_name"); n != "" {
		ev.GuestName = n
	} else {
		ev.GuestName = joinNonEmpty(firstAlias(m, "guest_first"), firstAlias(m, "guest_last"))
	}
	if a, err := strconv.Atoi(firstAlias(m, "adults")); err == nil && a > 0 {
		ev.Adults = a
	}
	if amt := firstAlias(m, "amount"); amt != "" {
		if d, err := decimal.NewFromString(amt); err == nil {
			ev.TotalAmount = d
		}
	}

	raw := strings.ToLower(firstAlias(m, "event_type"))
	t, ok := eventVocabulary[raw]
	if !ok {
		return ev, domain.NewValidationError("eventType", fmt.Sprintf("unknown event type %q", raw))
	}
	ev.Type = t

	if ev.ReservationID == "" {
		return ev, domain.NewValidationError("reservationId", "is required")
	}
	if ev.HotelCode == "" {
		return ev, domain.NewValidationError("hotelCode", "is required")
	}
	if ev.Type == domain.EventCancel {
		return ev, nil // stay data is optional on cancellations
	}

	in, okIn := parseDay(firstAlias(m, "check_in"))
	out, okOut := parseDay(firstAlias(m, "check_out"))
	if !okIn || !okOut {
		return ev, domain.NewValidationError("stay", "checkIn and checkOut dates are required")
	}
	if !out.After(in) {
		return ev, domain.NewValidationError("stay", "checkOut must be after checkIn")
	}
	ev.CheckIn, ev.CheckOut = in, out
	if len(ev.RoomCodes) == 0 {
		return ev, domain.NewValidationError("roomCode", "at least one room code is required")
	}
	return ev, nil
}
