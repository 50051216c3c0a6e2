package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/intercity/bus-reservation/internal/model"
)

// ScheduleRepo manages read access to schedules.  Schedule authoring is
// handled by the admin side of the application; the reservation core only
// needs to look schedules up and decide whether they are still bookable.
type ScheduleRepo struct {
	db *sql.DB
}

// NewScheduleRepo returns a new ScheduleRepo bound to the given database.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

// DB exposes the underlying sql.DB.  It allows callers to begin
// transactions spanning multiple repositories.
func (r *ScheduleRepo) DB() *sql.DB { return r.db }

// GetByID loads a schedule.  It returns ErrScheduleNotFound when no row
// exists.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uint64) (*model.Schedule, error) {
	const q = `SELECT id, route_id, bus_id, departs_at, arrives_at, price_cents, is_active, created_at
	           FROM schedules WHERE id = ?`
	var s model.Schedule
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.RouteID, &s.BusID, &s.DepartsAt, &s.ArrivesAt, &s.PriceCents, &s.IsActive, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	return &s, nil
}
