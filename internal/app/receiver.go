package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ota_sync/internal/adapters/observability"
	"ota_sync/internal/domain"
)

// Receiver applies channel reservation deliveries to internal bookings.
// Delivery is at-least-once, so every path is safe to re-run.
type Receiver struct {
	mappings *MappingService
	bookings domain.BookingStore
	ledger   *Ledger
	locker   domain.KeyLocker
	lockWait time.Duration
	newID    func() string
}

func NewReceiver(m *MappingService, b domain.BookingStore, l *Ledger, locker domain.KeyLocker, lockWait time.Duration) *Receiver {
	if lockWait <= 0 {
		lockWait = 10 * time.Second
	}
	return &Receiver{mappings: m, bookings: b, ledger: l, locker: locker, lockWait: lockWait, newID: uuid.NewString}
}

// applied is the outcome of one event against the booking store.
type applied struct {
	status  domain.SyncStatus
	message string
	review  bool
	gap     *domain.MappingGapError
}

// Handle runs receive → validate → classify → apply → log → acknowledge.
func (r *Receiver) Handle(ctx context.Context, body []byte) domain.Ack {
	ack := domain.Ack{DeliveryID: r.newID()}
	entry := domain.SyncLogEntry{
		SyncType:       domain.SyncReservationUnknown,
		Direction:      domain.Inbound,
		RequestPayload: body,
	}

	ev, err := decodeReservation(body)
	entry.ExternalRef = ev.ReservationID
	if ev.Type != "" {
		entry.SyncType = ev.Type.SyncType()
	}
	if err != nil {
		return r.finish(ctx, &entry, ack, http.StatusBadRequest, applied{status: domain.StatusError, message: err.Error()})
	}

	cfg, err := r.mappings.ConfigByHotelCode(ctx, ev.HotelCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.finish(ctx, &entry, ack, http.StatusNotFound, applied{status: domain.StatusError, message: fmt.Sprintf("unknown hotel code %q", ev.HotelCode)})
		}
		return r.finish(ctx, &entry, ack, http.StatusInternalServerError, applied{status: domain.StatusError, message: err.Error()})
	}
	entry.PropertyID = &cfg.PropertyID
	entry.ConfigID = &cfg.ID

	// single writer per reservation; a later delivery waits for the earlier one
	lockCtx, cancel := context.WithTimeout(ctx, r.lockWait)
	defer cancel()
	unlock, err := r.locker.Lock(lockCtx, fmt.Sprintf("reservation:%d:%s", cfg.ID, ev.ReservationID))
	if err != nil {
		return r.finish(ctx, &entry, ack, http.StatusServiceUnavailable, applied{status: domain.StatusError, message: err.Error()})
	}
	defer unlock()

	snap, err := r.mappings.GetMappingsForProperty(ctx, cfg.PropertyID)
	if err != nil {
		return r.finish(ctx, &entry, ack, http.StatusInternalServerError, applied{status: domain.StatusError, message: err.Error()})
	}

	var res applied
	switch ev.Type {
	case domain.EventBook:
		res, err = r.book(ctx, snap, ev)
	case domain.EventModify:
		res, err = r.modify(ctx, snap, ev)
	case domain.EventCancel:
		res, err = r.cancel(ctx, cfg, ev)
	}
	if err != nil {
		return r.finish(ctx, &entry, ack, http.StatusInternalServerError, applied{status: domain.StatusError, message: "internal write failed: " + err.Error()})
	}
	return r.finish(ctx, &entry, ack, http.StatusOK, res)
}

func (r *Receiver) finish(ctx context.Context, entry *domain.SyncLogEntry, ack domain.Ack, code int, res applied) domain.Ack {
	ack.HTTPStatus = code
	ack.Status = res.status
	ack.Message = res.message

	entry.Status = res.status
	entry.NeedsReview = res.review
	if res.status == domain.StatusError {
		entry.ErrorMessage = res.message
	}
	if res.gap != nil {
		entry.ErrorMessage = res.gap.Error()
	}
	entry.ResponsePayload, _ = json.Marshal(ack)

	if _, err := r.ledger.Append(ctx, *entry); err != nil && code < 500 {
		// without the ledger row idempotency is weaker; ask for a redelivery
		ack.HTTPStatus = http.StatusInternalServerError
		ack.Status = domain.StatusError
		ack.Message = "ledger write failed"
	}
	observability.ObserveWebhook(string(entry.SyncType), string(ack.Status))
	log.Info().Str("delivery_id", ack.DeliveryID).Str("reservation_id", entry.ExternalRef).
		Str("sync_type", string(entry.SyncType)).Int("http_status", ack.HTTPStatus).
		Str("status", string(ack.Status)).Msg("reservation delivery handled")
	return ack
}

func (r *Receiver) book(ctx context.Context, snap domain.MappingSnapshot, ev domain.ReservationEvent) (applied, error) {
	seen, err := r.ledger.Seen(ctx, snap.Config.ID, domain.SyncReservationBook, ev.ReservationID, domain.StatusSuccess)
	if err != nil {
		return applied{}, err
	}
	existing, err := r.bookings.FindByExternalRef(ctx, snap.Config.PropertyID, domain.SourceChannel, ev.ReservationID)
	if err != nil {
		return applied{}, err
	}
	if seen || existing != nil {
		return applied{status: domain.StatusReceived, message: "reservation already booked; duplicate ignored"}, nil
	}
	return r.create(ctx, snap, ev, "booking created")
}

// modify upserts: a modify may overtake its book.
func (r *Receiver) modify(ctx context.Context, snap domain.MappingSnapshot, ev domain.ReservationEvent) (applied, error) {
	existing, err := r.bookings.FindByExternalRef(ctx, snap.Config.PropertyID, domain.SourceChannel, ev.ReservationID)
	if err != nil {
		return applied{}, err
	}
	if existing == nil {
		return r.create(ctx, snap, ev, "no prior booking; modification applied as new booking")
	}
	if existing.Status == domain.BookingCancelled || existing.Status.Live() {
		reason := fmt.Sprintf("channel modification received for %s booking", existing.Status)
		if err := r.bookings.FlagForReview(ctx, existing.ID, reason); err != nil {
			return applied{}, err
		}
		return applied{status: domain.StatusReceived, message: reason + "; flagged for review", review: true}, nil
	}

	roomType, roomCode, gap := resolveRoom(snap, ev)
	b := *existing
	b.RoomType = roomType
	b.ExternalRoomCode = roomCode
	if notes := reviewNotes(ev, gap); len(notes) > 0 {
		b.NeedsReview = true
		b.ReviewReason = strings.Join(notes, "; ")
	} else if b.NeedsReview && isRoomNote(b.ReviewReason) {
		// the modification resolved what the earlier delivery could not
		b.NeedsReview = false
		b.ReviewReason = ""
	}
	b.CheckIn, b.CheckOut = ev.CheckIn, ev.CheckOut
	if ev.GuestName != "" {
		b.GuestName = ev.GuestName
	}
	if ev.GuestEmail != "" {
		b.GuestEmail = ev.GuestEmail
	}
	if ev.GuestPhone != "" {
		b.GuestPhone = ev.GuestPhone
	}
	if ev.Adults > 0 {
		b.Adults = ev.Adults
	}
	if !ev.TotalAmount.IsZero() {
		b.TotalAmount = ev.TotalAmount
	}
	if err := r.bookings.Update(ctx, b); err != nil {
		return applied{}, err
	}
	return withGap(applied{status: domain.StatusSuccess, message: "booking updated", review: b.NeedsReview}, gap), nil
}

// cancel never overrides a booking whose guests are or were in house.
func (r *Receiver) cancel(ctx context.Context, cfg domain.ChannelConfig, ev domain.ReservationEvent) (applied, error) {
	existing, err := r.bookings.FindByExternalRef(ctx, cfg.PropertyID, domain.SourceChannel, ev.ReservationID)
	if err != nil {
		return applied{}, err
	}
	switch {
	case existing == nil:
		// kept as a received row so a late book or modify lands cancelled
		return applied{status: domain.StatusReceived, message: "no booking for reservation; cancellation recorded"}, nil
	case existing.Status == domain.BookingCancelled:
		return applied{status: domain.StatusReceived, message: "booking already cancelled"}, nil
	case existing.Status.Live():
		reason := fmt.Sprintf("channel cancellation received for %s booking", existing.Status)
		if err := r.bookings.FlagForReview(ctx, existing.ID, reason); err != nil {
			return applied{}, err
		}
		return applied{status: domain.StatusReceived, message: reason + "; flagged for review", review: true}, nil
	}
	if err := r.bookings.Cancel(ctx, existing.ID); err != nil {
		return applied{}, err
	}
	return applied{status: domain.StatusSuccess, message: "booking cancelled"}, nil
}

// create inserts the booking. A cancel already received for the reservation
// means the channel no longer holds it, so the booking is stored cancelled.
func (r *Receiver) create(ctx context.Context, snap domain.MappingSnapshot, ev domain.ReservationEvent, msg string) (applied, error) {
	cancelled, err := r.ledger.Seen(ctx, snap.Config.ID, domain.SyncReservationCancel, ev.ReservationID, domain.StatusReceived)
	if err != nil {
		return applied{}, err
	}
	roomType, roomCode, gap := resolveRoom(snap, ev)
	b := domain.Booking{
		PropertyID:       snap.Config.PropertyID,
		Source:           domain.SourceChannel,
		ExternalRef:      ev.ReservationID,
		RoomType:         roomType,
		ExternalRoomCode: roomCode,
		GuestName:        ev.GuestName,
		GuestEmail:       ev.GuestEmail,
		GuestPhone:       ev.GuestPhone,
		Adults:           ev.Adults,
		CheckIn:          ev.CheckIn,
		CheckOut:         ev.CheckOut,
		TotalAmount:      ev.TotalAmount,
		Status:           domain.BookingConfirmed,
	}
	notes := reviewNotes(ev, gap)
	if cancelled {
		b.Status = domain.BookingCancelled
		notes = append([]string{"channel cancellation received before this delivery"}, notes...)
	}
	if len(notes) > 0 {
		b.NeedsReview = true
		b.ReviewReason = strings.Join(notes, "; ")
	}
	if _, err := r.bookings.Create(ctx, b); err != nil {
		return applied{}, err
	}
	if cancelled {
		return applied{
			status:  domain.StatusReceived,
			message: "reservation already cancelled by channel; booking stored as cancelled and flagged for review",
			review:  true,
			gap:     gap,
		}, nil
	}
	return withGap(applied{status: domain.StatusSuccess, message: msg, review: b.NeedsReview}, gap), nil
}

const (
	gapNotePrefix       = "mapping gap:"
	multiRoomNotePrefix = "multi-room reservation:"
)

// reviewNotes lists what an operator must resolve by hand for this event.
func reviewNotes(ev domain.ReservationEvent, gap *domain.MappingGapError) []string {
	var notes []string
	if gap != nil {
		notes = append(notes, gap.Error())
	}
	if len(ev.RoomCodes) > 1 {
		notes = append(notes, fmt.Sprintf("%s only %s is booked, also requested %s",
			multiRoomNotePrefix, ev.RoomCodes[0], strings.Join(ev.RoomCodes[1:], ",")))
	}
	return notes
}

func isRoomNote(reason string) bool {
	return strings.HasPrefix(reason, gapNotePrefix) || strings.HasPrefix(reason, multiRoomNotePrefix)
}

// resolveRoom maps the first room code of the event. Any unmapped code is a
// gap; an unmapped primary code books against the placeholder room type.
func resolveRoom(snap domain.MappingSnapshot, ev domain.ReservationEvent) (roomType, roomCode string, gap *domain.MappingGapError) {
	for _, c := range ev.RoomCodes {
		if _, ok := snap.RoomByCode(c); !ok && gap == nil {
			gap = &domain.MappingGapError{HotelCode: ev.HotelCode, RoomCode: c}
		}
	}
	roomCode = ev.RoomCodes[0]
	if rm, ok := snap.RoomByCode(roomCode); ok {
		return rm.InternalRoomType, roomCode, gap
	}
	return domain.PlaceholderRoomType, roomCode, gap
}

// withGap downgrades a successful apply to received when a mapping was missing.
func withGap(a applied, gap *domain.MappingGapError) applied {
	if gap == nil {
		return a
	}
	a.status = domain.StatusReceived
	a.gap = gap
	a.message += "; " + gap.Error()
	return a
}
