// Package reservation implements the seat-hold and booking workflow on
// top of the lock store.  The Coordinator owns the user-facing semantics:
// all-or-nothing acquisition of short-lived seat locks, promotion of live
// locks into confirmed bookings, and the broadcasts that keep every
// client looking at the same departure in sync.
package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/intercity/bus-reservation/internal/model"
	"github.com/intercity/bus-reservation/internal/repository"
)

// DefaultHoldTTL is how long a seat lock lives unless configured
// otherwise.  The expiry is computed once at acquisition time; it is
// never recomputed lazily.
const DefaultHoldTTL = 5 * time.Minute

// ErrNoSeats is returned when a request names no valid seats.
var ErrNoSeats = errors.New("no seats requested")

// AcquireResult reports a successful lock acquisition.  Freed lists seats
// whose expired locks were swept as a side effect of the attempt; the
// coordinator broadcasts unlock events for them so clients whose holder
// silently disappeared see the seats come free.
type AcquireResult struct {
	ExpiresAt time.Time
	Freed     []string
}

// PromoteResult reports a successful promotion.  Expired lists seats
// whose dead locks were swept during the attempt; Released lists live
// locks the session held beyond the seats it booked.  The two are kept
// apart because their unlock broadcasts carry different session ids.
type PromoteResult struct {
	Booking  *model.Booking
	Expired  []string
	Released []string
}

// BookingDetails carries the passenger-facing fields of a promotion.
type BookingDetails struct {
	UserID         *uint64
	PassengerName  string
	UnitPriceCents uint32
}

// Store is the transactional seat-lock and booking backend.  The SQL
// implementation serializes concurrent acquisitions for the same seat via
// row locks and a unique key; an in-memory implementation with the same
// semantics exists for tests and single-process deployments.  All methods
// return *repository.ConflictError, repository.ErrStaleHold or an
// infrastructure error; infrastructure errors are never swallowed.
type Store interface {
	Acquire(ctx context.Context, scheduleID uint64, seatNos []string, sessionID string, userID *uint64, ttl time.Duration) (*AcquireResult, error)
	Release(ctx context.Context, scheduleID uint64, sessionID string, seatNos []string) ([]string, error)
	SweepExpired(ctx context.Context) (map[uint64][]string, error)
	Promote(ctx context.Context, scheduleID uint64, seatNos []string, sessionID string, details BookingDetails) (*PromoteResult, error)
	ConfirmedSeats(ctx context.Context, scheduleID uint64) ([]string, error)
}

// Schedules is the read side the coordinator needs for validating that a
// departure is still on sale.
type Schedules interface {
	GetByID(ctx context.Context, id uint64) (*model.Schedule, error)
}

// Events receives the domain events the coordinator emits.  Delivery is
// best-effort: implementations must never block or return errors into the
// booking path.
type Events interface {
	SeatsLocked(scheduleID uint64, seatNos []string, sessionID string, expiresAt time.Time)
	SeatsUnlocked(scheduleID uint64, seatNos []string, sessionID string)
	SeatsBooked(scheduleID uint64, seatNos []string, bookedAt time.Time)
}

// Coordinator orchestrates holds, releases and promotions for one
// process.  It is safe for concurrent use; all shared state lives behind
// the Store.
type Coordinator struct {
	store     Store
	schedules Schedules
	events    Events
	ttl       time.Duration
	now       func() time.Time
}

// New constructs a Coordinator.  ttl <= 0 selects DefaultHoldTTL.
func New(store Store, schedules Schedules, events Events, ttl time.Duration) *Coordinator {
	if store == nil || schedules == nil || events == nil {
		panic("nil dependency passed to reservation.New")
	}
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	return &Coordinator{
		store:     store,
		schedules: schedules,
		events:    events,
		ttl:       ttl,
		now:       time.Now,
	}
}

// SetClock replaces the coordinator's clock.  Tests use this to simulate
// TTL expiry without sleeping.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// TTL returns the configured hold duration.
func (c *Coordinator) TTL() time.Duration { return c.ttl }

// Hold attempts to lock every requested seat for the session in one
// atomic step.  On success every seat is locked with a single shared
// expiry and a seats-locked event is broadcast to the schedule room.  On
// contention a *repository.ConflictError naming the blocking seats is
// returned and nothing is broadcast; retrying with a different selection
// is the caller's decision.
func (c *Coordinator) Hold(ctx context.Context, scheduleID uint64, seatNos []string, sessionID string, userID *uint64) (time.Time, error) {
	seats := normalizeSeatNos(seatNos)
	if len(seats) == 0 {
		return time.Time{}, ErrNoSeats
	}
	if err := c.checkBookable(ctx, scheduleID); err != nil {
		return time.Time{}, err
	}
	res, err := c.store.Acquire(ctx, scheduleID, seats, sessionID, userID, c.ttl)
	if err != nil {
		return time.Time{}, err
	}
	if len(res.Freed) > 0 {
		c.events.SeatsUnlocked(scheduleID, res.Freed, "")
	}
	c.events.SeatsLocked(scheduleID, seats, sessionID, res.ExpiresAt)
	return res.ExpiresAt, nil
}

// Release drops the session's locks on the schedule, scoped to seatNos
// when given, and broadcasts one canonical seats-unlocked event for
// exactly the seats actually freed.  Releasing seats that hold no lock is
// a no-op and broadcasts nothing, which keeps a double release from
// emitting duplicate unlock events.
func (c *Coordinator) Release(ctx context.Context, scheduleID uint64, sessionID string, seatNos []string) ([]string, error) {
	released, err := c.store.Release(ctx, scheduleID, sessionID, normalizeSeatNos(seatNos))
	if err != nil {
		return nil, err
	}
	if len(released) > 0 {
		c.events.SeatsUnlocked(scheduleID, released, sessionID)
	}
	return released, nil
}

// Promote converts the session's live locks into a confirmed booking.
// The store performs the read-verify-write inside one transaction: it
// re-reads the session's locks under row locks, requires them to cover
// every requested seat, writes the booking and clears the locks in the
// same unit.  A seat whose hold expired mid-checkout yields
// repository.ErrStaleHold; a seat since taken or booked by someone else
// yields a *repository.ConflictError.  On success a seats-booked event is
// broadcast; this is the single transition that makes seats permanently
// unavailable.
func (c *Coordinator) Promote(ctx context.Context, scheduleID uint64, seatNos []string, sessionID string, details BookingDetails) (*model.Booking, error) {
	seats := normalizeSeatNos(seatNos)
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}
	sched, err := c.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !sched.Bookable(c.now().UTC()) {
		return nil, repository.ErrScheduleNotBookable
	}
	if details.UnitPriceCents == 0 {
		details.UnitPriceCents = sched.PriceCents
	}
	res, err := c.store.Promote(ctx, scheduleID, seats, sessionID, details)
	if err != nil {
		return nil, err
	}
	if len(res.Expired) > 0 {
		c.events.SeatsUnlocked(scheduleID, res.Expired, "")
	}
	if len(res.Released) > 0 {
		c.events.SeatsUnlocked(scheduleID, res.Released, sessionID)
	}
	c.events.SeatsBooked(scheduleID, seats, res.Booking.CreatedAt)
	return res.Booking, nil
}

// AnnounceBooked re-broadcasts a seats-booked event for seats a client
// claims to have finished booking.  Broadcast state is advisory, so the
// claim is verified against a fresh store query first; only seats the
// store confirms as booked are announced.
func (c *Coordinator) AnnounceBooked(ctx context.Context, scheduleID uint64, seatNos []string) ([]string, error) {
	seats := normalizeSeatNos(seatNos)
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}
	booked, err := c.store.ConfirmedSeats(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	bookedSet := make(map[string]struct{}, len(booked))
	for _, no := range booked {
		bookedSet[no] = struct{}{}
	}
	confirmed := make([]string, 0, len(seats))
	for _, no := range seats {
		if _, ok := bookedSet[no]; ok {
			confirmed = append(confirmed, no)
		}
	}
	if len(confirmed) > 0 {
		c.events.SeatsBooked(scheduleID, confirmed, c.now().UTC())
	}
	return confirmed, nil
}

// SweepExpired deletes every expired lock and broadcasts seats-unlocked
// per affected schedule.  The background sweeper calls this on a fixed
// period shorter than the TTL so stale locks cannot accumulate even when
// no acquisition touches the same seats.  It returns the number of seats
// freed.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	freed, err := c.store.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for scheduleID, seats := range freed {
		if len(seats) == 0 {
			continue
		}
		total += len(seats)
		c.events.SeatsUnlocked(scheduleID, seats, "")
	}
	return total, nil
}

// checkBookable verifies the schedule exists, is on sale and has not
// departed.
func (c *Coordinator) checkBookable(ctx context.Context, scheduleID uint64) error {
	sched, err := c.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !sched.Bookable(c.now().UTC()) {
		return repository.ErrScheduleNotBookable
	}
	return nil
}

// normalizeSeatNos drops empties and duplicates while preserving the
// caller's order.
func normalizeSeatNos(seatNos []string) []string {
	out := make([]string, 0, len(seatNos))
	seen := make(map[string]struct{}, len(seatNos))
	for _, no := range seatNos {
		if no == "" {
			continue
		}
		if _, ok := seen[no]; ok {
			continue
		}
		seen[no] = struct{}{}
		out = append(out, no)
	}
	return out
}
