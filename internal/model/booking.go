package model

import "time"

// Booking is a confirmed, non-expiring claim on one or more seats of a
// schedule.  Once created, its seats are permanently unavailable for that
// departure regardless of any lock state.
//
// Fields:
//  ID               – primary key identifier.
//  ScheduleID       – departure the seats are booked on.
//  UserID           – user who completed the booking (nil for guests).
//  SessionID        – booking session that held the seats before promotion.
//  PassengerName    – name printed on the ticket.
//  Status           – CONFIRMED or CANCELLED.
//  TotalAmountCents – total fare in cents.
//  CreatedAt        – when the booking was confirmed.
type Booking struct {
	ID               uint64    // bookings.id
	ScheduleID       uint64    // bookings.schedule_id
	UserID           *uint64   // bookings.user_id (nullable)
	SessionID        string    // bookings.session_id
	PassengerName    string    // bookings.passenger_name
	Status           string    // bookings.status
	TotalAmountCents uint32    // bookings.total_amount_cents
	CreatedAt        time.Time // bookings.created_at
}

// BookingSeat associates one seat of a schedule with a booking.  The
// (schedule_id, seat_no) pair carries a unique key so two confirmed
// bookings can never claim the same seat.
type BookingSeat struct {
	BookingID  uint64 // booking_seats.booking_id
	ScheduleID uint64 // booking_seats.schedule_id
	SeatNo     string // booking_seats.seat_no
	PriceCents uint32 // booking_seats.price_cents
}
