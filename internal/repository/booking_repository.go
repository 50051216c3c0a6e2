package repository

import (
	"context"
	"database/sql"

	"github.com/intercity/bus-reservation/internal/model"
)

// BookingRepo provides persistence for confirmed bookings and their
// seats.  A booking supersedes the locks that protected its seats: once
// the booking_seats rows exist, the (schedule_id, seat_no) unique key
// makes the seats permanently unavailable for that departure no matter
// what happens to any lock.  All timestamps are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// CreateTx inserts a new booking within the scope of an existing
// transaction.  It populates the generated ID and the DB-assigned
// creation timestamp on the provided record.  The caller must commit or
// roll back the transaction.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (schedule_id, user_id, session_id, passenger_name, status, total_amount_cents)
	           VALUES (?, ?, ?, ?, ?, ?)`
	var uid interface{}
	if b.UserID != nil {
		uid = *b.UserID
	}
	result, err := tx.ExecContext(ctx, q, b.ScheduleID, uid, b.SessionID, b.PassengerName, b.Status, b.TotalAmountCents)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	// Query back the row to populate the DB-default creation timestamp.
	const sel = `SELECT created_at FROM bookings WHERE id = ?`
	return tx.QueryRowContext(ctx, sel, b.ID).Scan(&b.CreatedAt)
}

// CreateSeatsBulkTx inserts multiple booking_seats rows in a single
// statement.  The caller must supply the booking ID in each record.
// Passing an empty slice has no effect and returns nil.
func (r *BookingRepo) CreateSeatsBulkTx(ctx context.Context, tx *sql.Tx, seats []model.BookingSeat) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, schedule_id, seat_no, price_cents) VALUES `
	args := make([]interface{}, 0, len(seats)*4)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, s.BookingID, s.ScheduleID, s.SeatNo, s.PriceCents)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// BookedSeatsTx returns the subset of the requested seats that belong to
// a confirmed booking on the schedule.  The rows are read FOR UPDATE so
// that an acquisition cannot race a promotion that is committing the same
// seats.
func (r *BookingRepo) BookedSeatsTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, seatNos []string) ([]string, error) {
	if len(seatNos) == 0 {
		return nil, nil
	}
	q := `SELECT bs.seat_no FROM booking_seats bs
	      JOIN bookings b ON b.id = bs.booking_id
	      WHERE bs.schedule_id = ? AND b.status = 'CONFIRMED'
	        AND bs.seat_no IN (` + placeholders(len(seatNos)) + `)
	      FOR UPDATE`
	args := make([]interface{}, 0, len(seatNos)+1)
	args = append(args, scheduleID)
	for _, no := range seatNos {
		args = append(args, no)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var booked []string
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, err
		}
		booked = append(booked, no)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return booked, nil
}

// BookedSeats returns every seat of the schedule that belongs to a
// confirmed booking.  It backs the derived seat-availability view and the
// verification step behind client "booking-completed" announcements;
// broadcast state is advisory, so only this fresh query may decide what
// is actually booked.
func (r *BookingRepo) BookedSeats(ctx context.Context, scheduleID uint64) ([]string, error) {
	const q = `SELECT bs.seat_no FROM booking_seats bs
	           JOIN bookings b ON b.id = bs.booking_id
	           WHERE bs.schedule_id = ? AND b.status = 'CONFIRMED'`
	rows, err := r.db.QueryContext(ctx, q, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var booked []string
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, err
		}
		booked = append(booked, no)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return booked, nil
}
