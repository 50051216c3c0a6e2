package model

import "time"

// SeatLock is a temporary exclusive claim on one seat of one schedule,
// held by a booking session while the passenger completes checkout.  At
// most one live (non-expired) lock may exist per (schedule, seat); the
// database enforces this with a unique key.  Locks are deleted on
// explicit release, on promotion to a booking, or by the expiry sweep.
//
// Fields:
//  ID        – primary key identifier.
//  ScheduleID – schedule the seat is locked on.
//  SeatNo    – seat label being locked, e.g. "12A".
//  SessionID – opaque client session token; not a user identity.
//  UserID    – user owning the session (nil for anonymous sessions).
//  ExpiresAt – absolute expiry timestamp, computed once at acquisition.
//  CreatedAt – when the lock was created.
type SeatLock struct {
	ID         uint64    // seat_locks.id
	ScheduleID uint64    // seat_locks.schedule_id
	SeatNo     string    // seat_locks.seat_no
	SessionID  string    // seat_locks.session_id
	UserID     *uint64   // seat_locks.user_id (nullable)
	ExpiresAt  time.Time // seat_locks.expires_at
	CreatedAt  time.Time // seat_locks.created_at
}
