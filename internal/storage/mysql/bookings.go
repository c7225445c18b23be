package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ota_sync/internal/domain"
)

func scanBooking(s rowScanner) (domain.Booking, error) {
	var (
		b       domain.Booking
		in, out sql.NullTime
		status  string
	)
	if err := s.Scan(&b.ID, &b.PropertyID, &b.Source, &b.ExternalRef, &b.RoomType, &b.ExternalRoomCode,
		&b.GuestName, &b.GuestEmail, &b.GuestPhone, &b.Adults, &in, &out,
		&b.TotalAmount, &status, &b.NeedsReview, &b.ReviewReason); err != nil {
		return domain.Booking{}, err
	}
	if in.Valid {
		b.CheckIn = in.Time.UTC()
	}
	if out.Valid {
		b.CheckOut = out.Time.UTC()
	}
	b.Status = domain.BookingStatus(status)
	return b, nil
}

// FindByExternalRef returns nil, nil when no booking matches.
func (r *Repo) FindByExternalRef(ctx context.Context, propertyID int64, source, ref string) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, findBookingSQL, propertyID, source, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repo) Create(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	res, err := r.db.ExecContext(ctx, insertBookingSQL,
		b.PropertyID, b.Source, b.ExternalRef, b.RoomType, b.ExternalRoomCode,
		b.GuestName, b.GuestEmail, b.GuestPhone, b.Adults, valDate(b.CheckIn), valDate(b.CheckOut),
		b.TotalAmount, string(b.Status), b.NeedsReview, b.ReviewReason,
	)
	if err != nil {
		return domain.Booking{}, err
	}
	b.ID, err = res.LastInsertId()
	return b, err
}

func (r *Repo) Update(ctx context.Context, b domain.Booking) error {
	_, err := r.db.ExecContext(ctx, updateBookingSQL,
		b.RoomType, b.ExternalRoomCode, b.GuestName, b.GuestEmail, b.GuestPhone, b.Adults,
		valDate(b.CheckIn), valDate(b.CheckOut), b.TotalAmount, string(b.Status),
		b.NeedsReview, b.ReviewReason, b.ID,
	)
	return err
}

func (r *Repo) Cancel(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, cancelBookingSQL, id)
	return err
}

func (r *Repo) FlagForReview(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx, flagBookingSQL, reason, id)
	return err
}

// AvailableRooms is total rooms of the type minus bookings occupying night.
// An unknown room type has no rooms to sell.
func (r *Repo) AvailableRooms(ctx context.Context, propertyID int64, roomType string, night time.Time) (int, error) {
	d := night.Format(domain.DateLayout)
	var n int
	err := r.db.QueryRowContext(ctx, availableRoomsSQL, d, d, propertyID, roomType).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
