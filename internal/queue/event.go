// Package queue defines message payloads exchanged over the message broker
// and the background consumer that drains them.
package queue

// BookingConfirmedEvent is published when a seat hold is successfully
// promoted into a booking.  It carries enough information for downstream
// consumers to log, notify or feed analytics without querying the primary
// database.
type BookingConfirmedEvent struct {
	BookingID        uint64   `json:"booking_id"`
	UserID           uint64   `json:"user_id,omitempty"`
	ScheduleID       uint64   `json:"schedule_id"`
	RouteID          uint64   `json:"route_id"`
	BusID            uint64   `json:"bus_id"`
	DepartsAt        string   `json:"departs_at"`
	SeatNos          []string `json:"seats"`
	TotalAmountCents uint32   `json:"total_amount_cents"`
	ConfirmedAt      string   `json:"confirmed_at"`
}
