package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/intercity/bus-reservation/internal/model"
)

// SeatAvailability is one seat of a schedule together with its derived
// status.  Status is computed at query time from live locks and confirmed
// bookings; it is never stored on the seat.  HeldBySession and ExpiresAt
// are populated only for HELD seats so the client can render its own
// holds differently from everyone else's.
type SeatAvailability struct {
	SeatID        uint64     `json:"seat_id"`
	SeatNo        string     `json:"seat_no"`
	SeatType      string     `json:"seat_type"`
	Status        string     `json:"status"`
	HeldBySession *string    `json:"held_by_session,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// SeatRepo provides read access to the seats of a bus and the derived
// availability view used by the seat-selection page.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo returns a new SeatRepo bound to the given database.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

// AvailabilityBySchedule returns every active seat of the schedule's bus
// with its status as of now: BOOKED when a confirmed booking references
// the seat, HELD when a live lock does, FREE otherwise.  A booking always
// wins over a lock for the same seat.
func (r *SeatRepo) AvailabilityBySchedule(ctx context.Context, scheduleID uint64, now time.Time) ([]SeatAvailability, error) {
	const q = `SELECT se.id, se.seat_no, se.seat_type,
	                  sl.session_id, sl.expires_at,
	                  b.id IS NOT NULL
	           FROM schedules sc
	           JOIN seats se ON se.bus_id = sc.bus_id
	           LEFT JOIN seat_locks sl
	             ON sl.schedule_id = sc.id AND sl.seat_no = se.seat_no AND sl.expires_at > ?
	           LEFT JOIN booking_seats bs
	             ON bs.schedule_id = sc.id AND bs.seat_no = se.seat_no
	           LEFT JOIN bookings b
	             ON b.id = bs.booking_id AND b.status = 'CONFIRMED'
	           WHERE sc.id = ? AND se.is_active = TRUE
	           ORDER BY se.seat_no`
	rows, err := r.db.QueryContext(ctx, q, now.UTC(), scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := make([]SeatAvailability, 0)
	for rows.Next() {
		var sa SeatAvailability
		var session sql.NullString
		var expires sql.NullTime
		var booked bool
		if err := rows.Scan(&sa.SeatID, &sa.SeatNo, &sa.SeatType, &session, &expires, &booked); err != nil {
			return nil, err
		}
		switch {
		case booked:
			sa.Status = model.SeatStatusBooked
		case session.Valid:
			sa.Status = model.SeatStatusHeld
			s := session.String
			sa.HeldBySession = &s
			if expires.Valid {
				t := expires.Time.UTC()
				sa.ExpiresAt = &t
			}
		default:
			sa.Status = model.SeatStatusFree
		}
		seats = append(seats, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seats, nil
}
