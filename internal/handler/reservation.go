package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/intercity/bus-reservation/internal/queue"
	"github.com/intercity/bus-reservation/internal/repository"
	"github.com/intercity/bus-reservation/internal/reservation"
)

// ReservationHandler exposes the seat hold and booking flow over HTTP.
// All seat-state transitions go through the reservation coordinator so
// HTTP clients and socket clients observe identical semantics; the
// handler only parses requests and maps domain errors to status codes.
type ReservationHandler struct {
	Coordinator *reservation.Coordinator
	Schedules   reservation.Schedules

	// Publish sends the booking.confirmed event after a successful
	// booking.  Nil disables publishing (tests); failures are logged by
	// the publisher and never fail the request.
	Publish func(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// NewReservationHandler constructs a ReservationHandler.  Coordinator and
// schedule reader must be non-nil.
func NewReservationHandler(coord *reservation.Coordinator, schedules reservation.Schedules) *ReservationHandler {
	if coord == nil || schedules == nil {
		panic("nil dependency passed to NewReservationHandler")
	}
	return &ReservationHandler{Coordinator: coord, Schedules: schedules}
}

// HoldSeats handles POST /v1/schedules/:id/hold.  The body carries a
// "seat_ids" array of seat labels; the booking session comes from the
// X-Session-ID header or a "session_id" body field.  On success it
// returns 201 with the hold expiration.  When any requested seat is
// taken by another session the whole request fails with 409 and the
// list of unavailable seats; no partial holds are ever created.
func (h *ReservationHandler) HoldSeats(c echo.Context) error {
	scheduleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	var body struct {
		SeatIDs   []string `json:"seat_ids"`
		SessionID string   `json:"session_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	session := sessionID(c, body.SessionID)
	if session == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session id is required"})
	}
	if len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}
	userID := optionalUserID(c)
	ctx := c.Request().Context()
	expiresAt, err := h.Coordinator.Hold(ctx, scheduleID, body.SeatIDs, session, userID)
	if err != nil {
		return h.reservationError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"seat_ids":   body.SeatIDs,
	})
}

// ReleaseHolds handles DELETE /v1/schedules/:id/hold.  It releases the
// session's holds on the schedule; a "seat_ids" body restricts the
// release to a subset, an empty body releases everything.  Releasing
// seats the session does not hold is a no-op, so the endpoint is safe
// to retry.  Returns 200 with the seats actually released.
func (h *ReservationHandler) ReleaseHolds(c echo.Context) error {
	scheduleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	var body struct {
		SeatIDs   []string `json:"seat_ids"`
		SessionID string   `json:"session_id"`
	}
	// DELETE bodies are optional; ignore bind errors for empty payloads.
	_ = c.Bind(&body)
	session := sessionID(c, body.SessionID)
	if session == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session id is required"})
	}
	released, err := h.Coordinator.Release(c.Request().Context(), scheduleID, session, body.SeatIDs)
	if err != nil {
		return h.reservationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"released": len(released),
		"seat_ids": released,
	})
}

// BookSeats handles POST /v1/schedules/:id/book.  It promotes the
// session's live holds on the named seats into a confirmed booking.
// The promotion fails with 409 when a hold has expired and another
// session or booking claimed the seat in the meantime, or when the
// session never held one of the seats.  On success the booking is
// final and a booking.confirmed event is published.
func (h *ReservationHandler) BookSeats(c echo.Context) error {
	scheduleID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	var body struct {
		SeatIDs       []string `json:"seat_ids"`
		SessionID     string   `json:"session_id"`
		PassengerName string   `json:"passenger_name"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	session := sessionID(c, body.SessionID)
	if session == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session id is required"})
	}
	if len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}
	if body.PassengerName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "passenger_name is required"})
	}
	userID := optionalUserID(c)
	ctx := c.Request().Context()
	booking, err := h.Coordinator.Promote(ctx, scheduleID, body.SeatIDs, session, reservation.BookingDetails{
		UserID:        userID,
		PassengerName: body.PassengerName,
	})
	if err != nil {
		return h.reservationError(c, err)
	}
	h.publishConfirmed(ctx, booking.ID, scheduleID, userID, body.SeatIDs, booking.TotalAmountCents, booking.CreatedAt)
	return c.JSON(http.StatusCreated, echo.Map{
		"booking_id":         booking.ID,
		"total_amount_cents": booking.TotalAmountCents,
		"seat_ids":           body.SeatIDs,
	})
}

// publishConfirmed emits the booking.confirmed event in the background.
// Publishing is best effort: the booking is already committed and the
// response must not depend on the broker being reachable.
func (h *ReservationHandler) publishConfirmed(ctx context.Context, bookingID, scheduleID uint64, userID *uint64, seatNos []string, totalCents uint32, confirmedAt time.Time) {
	if h.Publish == nil {
		return
	}
	ev := queue.BookingConfirmedEvent{
		BookingID:        bookingID,
		ScheduleID:       scheduleID,
		SeatNos:          seatNos,
		TotalAmountCents: totalCents,
		ConfirmedAt:      confirmedAt.UTC().Format(time.RFC3339),
	}
	if userID != nil {
		ev.UserID = *userID
	}
	if sched, err := h.Schedules.GetByID(ctx, scheduleID); err == nil {
		ev.RouteID = sched.RouteID
		ev.BusID = sched.BusID
		ev.DepartsAt = sched.DepartsAt.UTC().Format(time.RFC3339)
	}
	go func() { _ = h.Publish(context.Background(), ev) }()
}

// reservationError maps coordinator errors onto HTTP responses.  Seat
// conflicts and stale holds both answer 409 but carry distinct error
// codes so clients can tell "someone else has it" from "you were too
// slow".
func (h *ReservationHandler) reservationError(c echo.Context, err error) error {
	if conflict := repository.AsConflict(err); conflict != nil {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":       "seats unavailable",
			"unavailable": conflict.SeatNos,
		})
	}
	switch {
	case errors.Is(err, repository.ErrStaleHold):
		return c.JSON(http.StatusConflict, echo.Map{"error": "hold expired"})
	case errors.Is(err, repository.ErrScheduleNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
	case errors.Is(err, repository.ErrScheduleNotBookable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "schedule not open for booking"})
	case errors.Is(err, reservation.ErrNoSeats):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no valid seat ids provided"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
}

// optionalUserID returns the authenticated user when the JWT middleware
// populated the context, or nil for guest sessions.
func optionalUserID(c echo.Context) *uint64 {
	if id, err := getUserID(c); err == nil {
		return &id
	}
	return nil
}
