package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/intercity/bus-reservation/internal/model"
	"github.com/intercity/bus-reservation/internal/repository"
)

// MemoryStore implements Store with a single mutex over in-process maps.
// It mirrors the SQL store's semantics exactly – sweep-on-acquire,
// all-or-nothing acquisition, exact-coverage promotion – and exists for
// tests and single-process deployments where running MySQL is overkill.
// The mutex gives the same single-writer-per-seat guarantee the SQL store
// gets from row locks.
type MemoryStore struct {
	mu     sync.Mutex
	locks  map[uint64]map[string]memLock // scheduleID → seatNo → lock
	booked map[uint64]map[string]bool    // scheduleID → seatNo → confirmed
	nextID uint64
	now    func() time.Time
}

type memLock struct {
	sessionID string
	userID    *uint64
	expiresAt time.Time
}

// NewMemoryStore returns an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:  make(map[uint64]map[string]memLock),
		booked: make(map[uint64]map[string]bool),
		nextID: 1,
		now:    time.Now,
	}
}

// SetClock replaces the store's clock.  Tests use this to simulate
// expiry without sleeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, scheduleID uint64, seatNos []string, sessionID string, userID *uint64, ttl time.Duration) (*AcquireResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	freed := s.sweepScheduleLocked(scheduleID, now)
	var blocked []string
	for _, no := range seatNos {
		if s.booked[scheduleID][no] {
			blocked = append(blocked, no)
			continue
		}
		if l, ok := s.locks[scheduleID][no]; ok && l.sessionID != sessionID {
			blocked = append(blocked, no)
		}
	}
	if len(blocked) > 0 {
		sort.Strings(blocked)
		return nil, &repository.ConflictError{SeatNos: blocked}
	}
	expiresAt := now.Add(ttl)
	if s.locks[scheduleID] == nil {
		s.locks[scheduleID] = make(map[string]memLock)
	}
	// Overwriting a seat the session already holds is the map form of the
	// SQL store's delete-then-insert on the requested seats: the re-held
	// seats pick up the fresh expiry, every other lock is left alone.
	for _, no := range seatNos {
		s.locks[scheduleID][no] = memLock{sessionID: sessionID, userID: userID, expiresAt: expiresAt}
	}
	return &AcquireResult{ExpiresAt: expiresAt, Freed: freed}, nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, scheduleID uint64, sessionID string, seatNos []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.locks[scheduleID]
	released := []string{}
	if len(seatNos) == 0 {
		for no, l := range held {
			if l.sessionID == sessionID {
				released = append(released, no)
			}
		}
	} else {
		for _, no := range seatNos {
			if l, ok := held[no]; ok && l.sessionID == sessionID {
				released = append(released, no)
			}
		}
	}
	for _, no := range released {
		delete(held, no)
	}
	sort.Strings(released)
	return released, nil
}

// SweepExpired implements Store.
func (s *MemoryStore) SweepExpired(_ context.Context) (map[uint64][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	freed := make(map[uint64][]string)
	for scheduleID := range s.locks {
		if seats := s.sweepScheduleLocked(scheduleID, now); len(seats) > 0 {
			freed[scheduleID] = seats
		}
	}
	return freed, nil
}

// Promote implements Store.
func (s *MemoryStore) Promote(_ context.Context, scheduleID uint64, seatNos []string, sessionID string, details BookingDetails) (*PromoteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	freed := s.sweepScheduleLocked(scheduleID, now)
	held := s.locks[scheduleID]
	var missing []string
	for _, no := range seatNos {
		if l, ok := held[no]; !ok || l.sessionID != sessionID {
			missing = append(missing, no)
		}
	}
	if len(missing) > 0 {
		var blocked []string
		for _, no := range missing {
			if s.booked[scheduleID][no] {
				blocked = append(blocked, no)
				continue
			}
			if l, ok := held[no]; ok && l.sessionID != sessionID {
				blocked = append(blocked, no)
			}
		}
		if len(blocked) > 0 {
			sort.Strings(blocked)
			return nil, &repository.ConflictError{SeatNos: blocked}
		}
		return nil, repository.ErrStaleHold
	}
	requested := make(map[string]struct{}, len(seatNos))
	for _, no := range seatNos {
		requested[no] = struct{}{}
	}
	var extras []string
	for no, l := range held {
		if l.sessionID != sessionID {
			continue
		}
		if _, ok := requested[no]; !ok {
			extras = append(extras, no)
		}
		delete(held, no)
	}
	sort.Strings(extras)
	if s.booked[scheduleID] == nil {
		s.booked[scheduleID] = make(map[string]bool)
	}
	for _, no := range seatNos {
		s.booked[scheduleID][no] = true
	}
	booking := &model.Booking{
		ID:               s.nextID,
		ScheduleID:       scheduleID,
		UserID:           details.UserID,
		SessionID:        sessionID,
		PassengerName:    details.PassengerName,
		Status:           "CONFIRMED",
		TotalAmountCents: details.UnitPriceCents * uint32(len(seatNos)),
		CreatedAt:        now,
	}
	s.nextID++
	return &PromoteResult{Booking: booking, Expired: freed, Released: extras}, nil
}

// ConfirmedSeats implements Store.
func (s *MemoryStore) ConfirmedSeats(_ context.Context, scheduleID uint64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var booked []string
	for no := range s.booked[scheduleID] {
		booked = append(booked, no)
	}
	sort.Strings(booked)
	return booked, nil
}

// LiveLock reports the session holding a live lock on the seat, if any.
// It exists for tests asserting the exclusivity invariant.
func (s *MemoryStore) LiveLock(scheduleID uint64, seatNo string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[scheduleID][seatNo]
	if !ok || !l.expiresAt.After(s.now().UTC()) {
		return "", false
	}
	return l.sessionID, true
}

// sweepScheduleLocked deletes the schedule's expired locks and returns
// the freed seats sorted.  Callers must hold s.mu.
func (s *MemoryStore) sweepScheduleLocked(scheduleID uint64, now time.Time) []string {
	var freed []string
	for no, l := range s.locks[scheduleID] {
		if !l.expiresAt.After(now) {
			freed = append(freed, no)
			delete(s.locks[scheduleID], no)
		}
	}
	sort.Strings(freed)
	return freed
}
