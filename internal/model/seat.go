package model

// Seat describes one physical seat on a bus.  A seat's availability for a
// given schedule is never stored on the seat itself; it is derived from
// live seat locks and confirmed bookings at query time.
//
// Fields:
//  ID       – primary key identifier.
//  BusID    – bus this seat belongs to.
//  SeatNo   – label printed on the seat, e.g. "12A"; unique per bus.
//  SeatType – STANDARD, PREMIUM or ACCESSIBLE.
//  IsActive – false when the seat is out of service.
type Seat struct {
	ID       uint64 // seats.id
	BusID    uint64 // seats.bus_id
	SeatNo   string // seats.seat_no
	SeatType string // seats.seat_type
	IsActive bool   // seats.is_active
}

// Seat status values derived for a schedule.  These never appear in the
// database; they are computed from seat_locks and booking_seats.
const (
	SeatStatusFree   = "FREE"
	SeatStatusHeld   = "HELD"
	SeatStatusBooked = "BOOKED"
)
