package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/intercity/bus-reservation/internal/repository"
)

// ScheduleHandler serves read-only schedule data for booking clients.
type ScheduleHandler struct {
	ScheduleRepo *repository.ScheduleRepo
	SeatRepo     *repository.SeatRepo
}

// NewScheduleHandler constructs a ScheduleHandler and panics if any
// dependency is nil.
func NewScheduleHandler(schedules *repository.ScheduleRepo, seats *repository.SeatRepo) *ScheduleHandler {
	if schedules == nil || seats == nil {
		panic("nil repository passed to NewScheduleHandler")
	}
	return &ScheduleHandler{ScheduleRepo: schedules, SeatRepo: seats}
}

// GetSchedule handles GET /v1/schedules/:id.  It returns the departure
// details clients render on the seat-map page.
func (h *ScheduleHandler) GetSchedule(c echo.Context) error {
	scheduleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	sched, err := h.ScheduleRepo.GetByID(c.Request().Context(), scheduleID)
	if err != nil {
		if errors.Is(err, repository.ErrScheduleNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":          sched.ID,
		"route_id":    sched.RouteID,
		"bus_id":      sched.BusID,
		"departs_at":  sched.DepartsAt.UTC().Format(time.RFC3339),
		"arrives_at":  sched.ArrivesAt.UTC().Format(time.RFC3339),
		"price_cents": sched.PriceCents,
		"is_active":   sched.IsActive,
	})
}

// GetSeats handles GET /v1/schedules/:id/seats.  Seat status is derived
// at query time from live locks and confirmed bookings; nothing is ever
// read from a stored status column, so the snapshot cannot go stale
// relative to lock expiry.
func (h *ScheduleHandler) GetSeats(c echo.Context) error {
	scheduleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	ctx := c.Request().Context()
	if _, err := h.ScheduleRepo.GetByID(ctx, scheduleID); err != nil {
		if errors.Is(err, repository.ErrScheduleNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	seats, err := h.SeatRepo.AvailabilityBySchedule(ctx, scheduleID, time.Now().UTC())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load seats"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"schedule_id": scheduleID,
		"seats":       seats,
	})
}
