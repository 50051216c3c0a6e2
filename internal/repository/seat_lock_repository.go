package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/intercity/bus-reservation/internal/model"
)

// SeatLockRepo provides data access to the seat_locks table, the single
// source of truth for which seats are temporarily held.  All methods take
// an explicit "now" so that callers control the clock; expiry is decided
// purely by comparing expires_at against that instant.  The table carries
// a unique key on (schedule_id, seat_no), so even two transactions that
// both pass the availability checks cannot both insert a lock for the
// same seat – one of them fails with a duplicate-key error.
type SeatLockRepo struct {
	db *sql.DB
}

// NewSeatLockRepo returns a new SeatLockRepo bound to the provided database.
func NewSeatLockRepo(db *sql.DB) *SeatLockRepo { return &SeatLockRepo{db: db} }

// DB exposes the underlying sql.DB.  It allows callers to begin
// transactions spanning multiple repositories.
func (r *SeatLockRepo) DB() *sql.DB { return r.db }

// ExpireLocksTx removes all locks on the given schedule that have expired
// as of now and returns the freed seat labels.  It is called at the start
// of every acquisition and promotion attempt so that dead locks never
// block a live request.  The caller owns the transaction.
func (r *SeatLockRepo) ExpireLocksTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, now time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT seat_no FROM seat_locks WHERE schedule_id = ? AND expires_at <= ?`,
		scheduleID, now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	var freed []string
	for rows.Next() {
		var no string
		if scanErr := rows.Scan(&no); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		freed = append(freed, no)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(freed) == 0 {
		return []string{}, nil
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM seat_locks WHERE schedule_id = ? AND expires_at <= ?`,
		scheduleID, now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return freed, nil
}

// SweepExpiredTx deletes every expired lock in the table and returns the
// freed seat labels grouped by schedule.  The background sweeper uses the
// result to broadcast unlock events for seats whose holder simply walked
// away (closed the tab without releasing).
func (r *SeatLockRepo) SweepExpiredTx(ctx context.Context, tx *sql.Tx, now time.Time) (map[uint64][]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT schedule_id, seat_no FROM seat_locks WHERE expires_at <= ?`,
		now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	freed := make(map[uint64][]string)
	for rows.Next() {
		var sid uint64
		var no string
		if scanErr := rows.Scan(&sid, &no); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		freed[sid] = append(freed[sid], no)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(freed) == 0 {
		return freed, nil
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM seat_locks WHERE expires_at <= ?`, now.UTC()); err != nil {
		return nil, err
	}
	return freed, nil
}

// ForeignLiveLocksTx returns the subset of the requested seats that carry
// a live lock held by a session other than the given one.  The rows are
// read FOR UPDATE so that two concurrent acquisitions for the same seat
// serialize on the backing store rather than racing past each other.
func (r *SeatLockRepo) ForeignLiveLocksTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, seatNos []string, sessionID string, now time.Time) ([]string, error) {
	if len(seatNos) == 0 {
		return nil, nil
	}
	q := `SELECT seat_no FROM seat_locks
	      WHERE schedule_id = ? AND seat_no IN (` + placeholders(len(seatNos)) + `)
	        AND session_id <> ? AND expires_at > ?
	      FOR UPDATE`
	args := make([]interface{}, 0, len(seatNos)+3)
	args = append(args, scheduleID)
	for _, no := range seatNos {
		args = append(args, no)
	}
	args = append(args, sessionID, now.UTC())
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var blocked []string
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, err
		}
		blocked = append(blocked, no)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blocked, nil
}

// ReplaceLocksTx deletes any locks the session already holds on the
// requested seats and inserts fresh ones sharing a single expires_at.
// This makes a re-lock by the same session an idempotent extension: the
// whole set always carries one expiry computed at acquisition time.
// A duplicate-key error here means another transaction inserted a lock
// for one of the seats between our availability check and the insert;
// callers must map it to a conflict, not a fault.
func (r *SeatLockRepo) ReplaceLocksTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, seatNos []string, sessionID string, userID *uint64, expiresAt time.Time) error {
	if len(seatNos) == 0 {
		return nil
	}
	delQ := `DELETE FROM seat_locks
	         WHERE schedule_id = ? AND session_id = ? AND seat_no IN (` + placeholders(len(seatNos)) + `)`
	delArgs := make([]interface{}, 0, len(seatNos)+2)
	delArgs = append(delArgs, scheduleID, sessionID)
	for _, no := range seatNos {
		delArgs = append(delArgs, no)
	}
	if _, err := tx.ExecContext(ctx, delQ, delArgs...); err != nil {
		return err
	}
	insQ := `INSERT INTO seat_locks (schedule_id, seat_no, session_id, user_id, expires_at) VALUES `
	insArgs := make([]interface{}, 0, len(seatNos)*5)
	for i, no := range seatNos {
		if i > 0 {
			insQ += ","
		}
		insQ += "(?, ?, ?, ?, ?)"
		var uid interface{}
		if userID != nil {
			uid = *userID
		}
		insArgs = append(insArgs, scheduleID, no, sessionID, uid, expiresAt.UTC().Format("2006-01-02 15:04:05"))
	}
	_, err := tx.ExecContext(ctx, insQ, insArgs...)
	return err
}

// ReleaseTx deletes the session's locks on the schedule, scoped to the
// given seat labels when provided, and returns the labels actually
// removed.  Releasing seats that hold no lock is not an error; the
// returned slice simply omits them, which lets callers avoid broadcasting
// unlock events for seats that were already free.
func (r *SeatLockRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, sessionID string, seatNos []string) ([]string, error) {
	selQ := `SELECT seat_no FROM seat_locks WHERE schedule_id = ? AND session_id = ?`
	args := []interface{}{scheduleID, sessionID}
	if len(seatNos) > 0 {
		selQ += ` AND seat_no IN (` + placeholders(len(seatNos)) + `)`
		for _, no := range seatNos {
			args = append(args, no)
		}
	}
	rows, err := tx.QueryContext(ctx, selQ, args...)
	if err != nil {
		return nil, err
	}
	var released []string
	for rows.Next() {
		var no string
		if scanErr := rows.Scan(&no); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		released = append(released, no)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(released) == 0 {
		return []string{}, nil
	}
	delQ := strings.Replace(selQ, "SELECT seat_no FROM", "DELETE FROM", 1)
	if _, err := tx.ExecContext(ctx, delQ, args...); err != nil {
		return nil, err
	}
	return released, nil
}

// ActiveLocksBySessionTx retrieves all live locks the session holds on
// the schedule, read FOR UPDATE.  Promotion uses this to verify that the
// caller's holds still cover the seats being booked before anything is
// written.
func (r *SeatLockRepo) ActiveLocksBySessionTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, sessionID string, now time.Time) ([]model.SeatLock, error) {
	const q = `SELECT id, schedule_id, seat_no, session_id, user_id, expires_at, created_at
	           FROM seat_locks
	           WHERE schedule_id = ? AND session_id = ? AND expires_at > ?
	           FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, scheduleID, sessionID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []model.SeatLock
	for rows.Next() {
		var l model.SeatLock
		var uid sql.NullInt64
		if err := rows.Scan(&l.ID, &l.ScheduleID, &l.SeatNo, &l.SessionID, &uid, &l.ExpiresAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			u := uint64(uid.Int64)
			l.UserID = &u
		}
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locks, nil
}

// DeleteBySessionTx removes every lock the session holds on the schedule.
// Promotion calls this after the booking rows are written so the lock
// cleanup shares the booking's transaction boundary.
func (r *SeatLockRepo) DeleteBySessionTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, sessionID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM seat_locks WHERE schedule_id = ? AND session_id = ?`,
		scheduleID, sessionID,
	)
	return err
}

// placeholders returns n comma-separated "?" markers for IN clauses.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
