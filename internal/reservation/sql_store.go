package reservation

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/intercity/bus-reservation/internal/model"
	"github.com/intercity/bus-reservation/internal/repository"
)

// SQLStore implements Store over MySQL.  Every operation runs inside one
// transaction; within a seat, acquisitions serialize on the FOR UPDATE
// row reads, and the unique key on (schedule_id, seat_no) backstops the
// race where two transactions both saw the seat free and try to insert.
type SQLStore struct {
	db       *sql.DB
	locks    *repository.SeatLockRepo
	bookings *repository.BookingRepo
	now      func() time.Time
}

// NewSQLStore builds the production Store from the given repositories.
func NewSQLStore(db *sql.DB, locks *repository.SeatLockRepo, bookings *repository.BookingRepo) *SQLStore {
	if db == nil || locks == nil || bookings == nil {
		panic("nil dependency passed to NewSQLStore")
	}
	return &SQLStore{db: db, locks: locks, bookings: bookings, now: time.Now}
}

// SetClock replaces the store's clock.  Tests use this to simulate
// expiry without sleeping.
func (s *SQLStore) SetClock(now func() time.Time) { s.now = now }

// Acquire implements Store.  The contract, in order: sweep locks already
// expired as of now, reject if any requested seat is confirmed-booked,
// reject if any carries a live lock of a different session, otherwise
// replace/extend the session's own locks with one shared expiry.
func (s *SQLStore) Acquire(ctx context.Context, scheduleID uint64, seatNos []string, sessionID string, userID *uint64, ttl time.Duration) (*AcquireResult, error) {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	freed, err := s.locks.ExpireLocksTx(ctx, tx, scheduleID, now)
	if err != nil {
		return nil, err
	}
	booked, err := s.bookings.BookedSeatsTx(ctx, tx, scheduleID, seatNos)
	if err != nil {
		return nil, err
	}
	foreign, err := s.locks.ForeignLiveLocksTx(ctx, tx, scheduleID, seatNos, sessionID, now)
	if err != nil {
		return nil, err
	}
	if len(booked) > 0 || len(foreign) > 0 {
		return nil, conflictOf(booked, foreign)
	}
	expiresAt := now.Add(ttl)
	if err := s.locks.ReplaceLocksTx(ctx, tx, scheduleID, seatNos, sessionID, userID, expiresAt); err != nil {
		if isDuplicateKey(err) {
			// Another transaction inserted a lock between our check and
			// the insert. Report it as contention with the exact blockers
			// from a fresh read.
			_ = tx.Rollback()
			return nil, s.conflictSnapshot(ctx, scheduleID, seatNos, sessionID)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return &AcquireResult{ExpiresAt: expiresAt, Freed: freed}, nil
}

// Release implements Store.
func (s *SQLStore) Release(ctx context.Context, scheduleID uint64, sessionID string, seatNos []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	released, err := s.locks.ReleaseTx(ctx, tx, scheduleID, sessionID, seatNos)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return released, nil
}

// SweepExpired implements Store.
func (s *SQLStore) SweepExpired(ctx context.Context) (map[uint64][]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	freed, err := s.locks.SweepExpiredTx(ctx, tx, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return freed, nil
}

// Promote implements Store.  The verification and the writes share one
// transaction: the session's live locks are re-read FOR UPDATE, must
// cover every requested seat, and the booking rows plus the lock cleanup
// commit together.  There is no check-then-act window for a concurrent
// acquisition to slip through.
func (s *SQLStore) Promote(ctx context.Context, scheduleID uint64, seatNos []string, sessionID string, details BookingDetails) (*PromoteResult, error) {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	freed, err := s.locks.ExpireLocksTx(ctx, tx, scheduleID, now)
	if err != nil {
		return nil, err
	}
	live, err := s.locks.ActiveLocksBySessionTx(ctx, tx, scheduleID, sessionID, now)
	if err != nil {
		return nil, err
	}
	liveSet := make(map[string]struct{}, len(live))
	for _, l := range live {
		liveSet[l.SeatNo] = struct{}{}
	}
	var missing []string
	for _, no := range seatNos {
		if _, ok := liveSet[no]; !ok {
			missing = append(missing, no)
		}
	}
	if len(missing) > 0 {
		// Distinguish "someone else took it" from "you were too slow":
		// only seats blocked by another party are a conflict.
		booked, err := s.bookings.BookedSeatsTx(ctx, tx, scheduleID, missing)
		if err != nil {
			return nil, err
		}
		foreign, err := s.locks.ForeignLiveLocksTx(ctx, tx, scheduleID, missing, sessionID, now)
		if err != nil {
			return nil, err
		}
		if len(booked) > 0 || len(foreign) > 0 {
			return nil, conflictOf(booked, foreign)
		}
		return nil, repository.ErrStaleHold
	}
	// Locks the session holds beyond the booked seats are released by the
	// final cleanup; report them apart from the swept expiries so their
	// unlock events carry the session id.
	requested := make(map[string]struct{}, len(seatNos))
	for _, no := range seatNos {
		requested[no] = struct{}{}
	}
	var extras []string
	for _, l := range live {
		if _, ok := requested[l.SeatNo]; !ok {
			extras = append(extras, l.SeatNo)
		}
	}
	booking := &model.Booking{
		ScheduleID:       scheduleID,
		UserID:           details.UserID,
		SessionID:        sessionID,
		PassengerName:    details.PassengerName,
		Status:           "CONFIRMED",
		TotalAmountCents: details.UnitPriceCents * uint32(len(seatNos)),
	}
	if err := s.bookings.CreateTx(ctx, tx, booking); err != nil {
		return nil, err
	}
	seats := make([]model.BookingSeat, 0, len(seatNos))
	for _, no := range seatNos {
		seats = append(seats, model.BookingSeat{
			BookingID:  booking.ID,
			ScheduleID: scheduleID,
			SeatNo:     no,
			PriceCents: details.UnitPriceCents,
		})
	}
	if err := s.bookings.CreateSeatsBulkTx(ctx, tx, seats); err != nil {
		if isDuplicateKey(err) {
			return nil, &repository.ConflictError{SeatNos: append([]string(nil), seatNos...)}
		}
		return nil, err
	}
	if err := s.locks.DeleteBySessionTx(ctx, tx, scheduleID, sessionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return &PromoteResult{Booking: booking, Expired: freed, Released: extras}, nil
}

// ConfirmedSeats implements Store.
func (s *SQLStore) ConfirmedSeats(ctx context.Context, scheduleID uint64) ([]string, error) {
	return s.bookings.BookedSeats(ctx, scheduleID)
}

// conflictSnapshot re-reads the blockers for the requested seats in a
// fresh transaction after a duplicate-key insert race, so the returned
// conflict still names exact seats.
func (s *SQLStore) conflictSnapshot(ctx context.Context, scheduleID uint64, seatNos []string, sessionID string) error {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	booked, err := s.bookings.BookedSeatsTx(ctx, tx, scheduleID, seatNos)
	if err != nil {
		return err
	}
	foreign, err := s.locks.ForeignLiveLocksTx(ctx, tx, scheduleID, seatNos, sessionID, now)
	if err != nil {
		return err
	}
	if len(booked) == 0 && len(foreign) == 0 {
		// The racing lock is already gone again; still contention.
		return &repository.ConflictError{SeatNos: append([]string(nil), seatNos...)}
	}
	return conflictOf(booked, foreign)
}

// conflictOf merges blocker lists into one sorted, deduplicated
// ConflictError.
func conflictOf(groups ...[]string) error {
	seen := make(map[string]struct{})
	var all []string
	for _, g := range groups {
		for _, no := range g {
			if _, ok := seen[no]; ok {
				continue
			}
			seen[no] = struct{}{}
			all = append(all, no)
		}
	}
	sort.Strings(all)
	return &repository.ConflictError{SeatNos: all}
}

// isDuplicateKey reports whether err is a MySQL unique-key violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
