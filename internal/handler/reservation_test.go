package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intercity/bus-reservation/internal/model"
	"github.com/intercity/bus-reservation/internal/queue"
	"github.com/intercity/bus-reservation/internal/repository"
	"github.com/intercity/bus-reservation/internal/reservation"
)

type stubSchedules struct {
	schedule *model.Schedule
}

func (s *stubSchedules) GetByID(_ context.Context, id uint64) (*model.Schedule, error) {
	if s.schedule == nil || id != s.schedule.ID {
		return nil, repository.ErrScheduleNotFound
	}
	return s.schedule, nil
}

type nopEvents struct{}

func (nopEvents) SeatsLocked(uint64, []string, string, time.Time) {}
func (nopEvents) SeatsUnlocked(uint64, []string, string)          {}
func (nopEvents) SeatsBooked(uint64, []string, time.Time)         {}

// testCoordinator builds a coordinator over the in-memory store; the
// handler under test never notices it is not talking to MySQL.
func testCoordinator(t *testing.T) (*reservation.Coordinator, *reservation.MemoryStore, *stubSchedules) {
	t.Helper()
	store := reservation.NewMemoryStore()
	schedules := &stubSchedules{schedule: &model.Schedule{
		ID:         1,
		DepartsAt:  time.Now().UTC().Add(24 * time.Hour),
		ArrivesAt:  time.Now().UTC().Add(28 * time.Hour),
		PriceCents: 2500,
		IsActive:   true,
	}}
	return reservation.New(store, schedules, nopEvents{}, 0), store, schedules
}

func doRequest(h echo.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	e := echo.New()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/schedules/:id/hold")
	c.SetParamNames("id")
	c.SetParamValues("1")
	_ = h(c)
	return rec
}

func TestHoldSeatsCreated(t *testing.T) {
	coord, store, _ := testCoordinator(t)
	h := &ReservationHandler{Coordinator: coord}

	rec := doRequest(h.HoldSeats, http.MethodPost, "/v1/schedules/1/hold",
		`{"seat_ids":["12A","12B"],"session_id":"S1"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		ExpiresAt string   `json:"expires_at"`
		SeatIDs   []string `json:"seat_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"12A", "12B"}, resp.SeatIDs)
	expires, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now().UTC()))

	holder, live := store.LiveLock(1, "12A")
	require.True(t, live)
	assert.Equal(t, "S1", holder)
}

func TestHoldSeatsConflict(t *testing.T) {
	coord, _, _ := testCoordinator(t)
	h := &ReservationHandler{Coordinator: coord}

	_, err := coord.Hold(context.Background(), 1, []string{"12A"}, "S1", nil)
	require.NoError(t, err)

	rec := doRequest(h.HoldSeats, http.MethodPost, "/v1/schedules/1/hold",
		`{"seat_ids":["12A","12B"],"session_id":"S2"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Error       string   `json:"error"`
		Unavailable []string `json:"unavailable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "seats unavailable", resp.Error)
	assert.Equal(t, []string{"12A"}, resp.Unavailable)
}

func TestHoldSeatsValidation(t *testing.T) {
	coord, _, _ := testCoordinator(t)
	h := &ReservationHandler{Coordinator: coord}

	rec := doRequest(h.HoldSeats, http.MethodPost, "/v1/schedules/1/hold",
		`{"seat_ids":["12A"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a session id is mandatory")

	rec = doRequest(h.HoldSeats, http.MethodPost, "/v1/schedules/1/hold",
		`{"session_id":"S1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "seat_ids is mandatory")
}

func TestHoldSeatsScheduleNotFound(t *testing.T) {
	coord, _, schedules := testCoordinator(t)
	schedules.schedule = nil
	h := &ReservationHandler{Coordinator: coord}

	rec := doRequest(h.HoldSeats, http.MethodPost, "/v1/schedules/1/hold",
		`{"seat_ids":["12A"],"session_id":"S1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReleaseHoldsIdempotent(t *testing.T) {
	coord, _, _ := testCoordinator(t)
	h := &ReservationHandler{Coordinator: coord}

	_, err := coord.Hold(context.Background(), 1, []string{"12A"}, "S1", nil)
	require.NoError(t, err)

	rec := doRequest(h.ReleaseHolds, http.MethodDelete, "/v1/schedules/1/hold",
		`{"session_id":"S1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Released int `json:"released"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Released)

	rec = doRequest(h.ReleaseHolds, http.MethodDelete, "/v1/schedules/1/hold",
		`{"session_id":"S1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Released)
}

func TestBookSeatsCreated(t *testing.T) {
	coord, store, _ := testCoordinator(t)
	h := &ReservationHandler{Coordinator: coord}

	_, err := coord.Hold(context.Background(), 1, []string{"12A", "12B"}, "S1", nil)
	require.NoError(t, err)

	rec := doRequest(h.BookSeats, http.MethodPost, "/v1/schedules/1/book",
		`{"seat_ids":["12A","12B"],"session_id":"S1","passenger_name":"Jordan Reyes"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		BookingID        uint64   `json:"booking_id"`
		TotalAmountCents uint32   `json:"total_amount_cents"`
		SeatIDs          []string `json:"seat_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotZero(t, resp.BookingID)
	assert.Equal(t, uint32(5000), resp.TotalAmountCents)

	booked, err := store.ConfirmedSeats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"12A", "12B"}, booked)
}

func TestBookSeatsStaleHold(t *testing.T) {
	coord, _, _ := testCoordinator(t)
	h := &ReservationHandler{Coordinator: coord}

	rec := doRequest(h.BookSeats, http.MethodPost, "/v1/schedules/1/book",
		`{"seat_ids":["12A"],"session_id":"S1","passenger_name":"Jordan Reyes"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hold expired", resp.Error, "a missing hold reads as a stale hold, not a seat conflict")
}

func TestBookSeatsConflictOnBookedSeat(t *testing.T) {
	coord, _, _ := testCoordinator(t)
	h := &ReservationHandler{Coordinator: coord}

	_, err := coord.Hold(context.Background(), 1, []string{"12A"}, "S1", nil)
	require.NoError(t, err)
	_, err = coord.Promote(context.Background(), 1, []string{"12A"}, "S1",
		reservation.BookingDetails{PassengerName: "Jordan Reyes"})
	require.NoError(t, err)

	rec := doRequest(h.BookSeats, http.MethodPost, "/v1/schedules/1/book",
		`{"seat_ids":["12A"],"session_id":"S2","passenger_name":"Sam Patel"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Error       string   `json:"error"`
		Unavailable []string `json:"unavailable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "seats unavailable", resp.Error)
	assert.Equal(t, []string{"12A"}, resp.Unavailable)
}

func TestSessionIDFromHeader(t *testing.T) {
	coord, store, _ := testCoordinator(t)
	h := &ReservationHandler{Coordinator: coord}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/schedules/1/hold",
		strings.NewReader(`{"seat_ids":["7C"]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Session-ID", "header-session")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.NoError(t, h.HoldSeats(c))

	require.Equal(t, http.StatusCreated, rec.Code)
	holder, live := store.LiveLock(1, "7C")
	require.True(t, live)
	assert.Equal(t, "header-session", holder)
}

func TestBookSeatsPublishesConfirmedEvent(t *testing.T) {
	coord, _, schedules := testCoordinator(t)
	published := make(chan queue.BookingConfirmedEvent, 1)
	h := &ReservationHandler{
		Coordinator: coord,
		Schedules:   schedules,
		Publish: func(_ context.Context, ev queue.BookingConfirmedEvent) error {
			published <- ev
			return nil
		},
	}

	_, err := coord.Hold(context.Background(), 1, []string{"12A"}, "S1", nil)
	require.NoError(t, err)

	rec := doRequest(h.BookSeats, http.MethodPost, "/v1/schedules/1/book",
		`{"seat_ids":["12A"],"session_id":"S1","passenger_name":"Jordan Reyes"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	select {
	case ev := <-published:
		assert.Equal(t, uint64(1), ev.ScheduleID)
		assert.Equal(t, []string{"12A"}, ev.SeatNos)
		assert.Equal(t, uint32(2500), ev.TotalAmountCents)
		_, err := time.Parse(time.RFC3339, ev.ConfirmedAt)
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("booking.confirmed event was not published")
	}
}
