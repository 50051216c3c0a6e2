package model

import "time"

// Schedule represents one departure of a bus on a route.  Seats are
// reserved against a schedule, never against the route itself: the same
// physical seat exists once per departure.
//
// Fields:
//  ID         – primary key identifier.
//  RouteID    – route served by this departure.
//  BusID      – bus assigned to the departure; seats belong to the bus.
//  DepartsAt  – departure timestamp (UTC).
//  ArrivesAt  – scheduled arrival timestamp (UTC).
//  PriceCents – fare per seat in cents.
//  IsActive   – false when the schedule has been withdrawn from sale.
//  CreatedAt  – when the record was created.
type Schedule struct {
	ID         uint64    // schedules.id
	RouteID    uint64    // schedules.route_id
	BusID      uint64    // schedules.bus_id
	DepartsAt  time.Time // schedules.departs_at
	ArrivesAt  time.Time // schedules.arrives_at
	PriceCents uint32    // schedules.price_cents
	IsActive   bool      // schedules.is_active
	CreatedAt  time.Time // schedules.created_at
}

// Bookable reports whether seats on the schedule may still be held or
// booked at the given instant: the schedule must be on sale and must not
// have departed yet.
func (s *Schedule) Bookable(now time.Time) bool {
	return s.IsActive && s.DepartsAt.After(now)
}
