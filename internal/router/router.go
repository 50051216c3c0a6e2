// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/intercity/bus-reservation/internal/config"
	"github.com/intercity/bus-reservation/internal/handler"
	"github.com/intercity/bus-reservation/internal/middleware"
	"github.com/intercity/bus-reservation/internal/realtime"
)

// RegisterRoutes registers unauthenticated utility routes.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterSchedules registers the public schedule browse endpoints.
// Guests can inspect a departure and its derived seat availability
// before deciding to hold anything.
func RegisterSchedules(e *echo.Echo, s *handler.ScheduleHandler) {
	e.GET("/v1/schedules/:id", s.GetSchedule)
	e.GET("/v1/schedules/:id/seats", s.GetSeats)
}

// RegisterReservations registers the hold and booking endpoints.  The
// JWT middleware attaches the user when a token is presented and lets
// guests through; the token bucket throttles hold storms per client.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, rl config.RateLimitConfig, rdb *redis.Client) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.NewTokenBucket(rl, rdb),
	)
	g.POST("/schedules/:id/hold", h.HoldSeats)
	g.DELETE("/schedules/:id/hold", h.ReleaseHolds)
	g.POST("/schedules/:id/book", h.BookSeats)
}

// RegisterSocket registers the realtime websocket endpoint.  The same
// JWT middleware runs on the upgrade request so authenticated tabs are
// bound to their user from the first frame.
func RegisterSocket(e *echo.Echo, s *realtime.SocketHandler, jwtSecret string) {
	e.GET("/ws", s.Serve, middleware.JWTAuth(jwtSecret))
}
