package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/intercity/bus-reservation/internal/config"
	"github.com/intercity/bus-reservation/internal/database"
	"github.com/intercity/bus-reservation/internal/handler"
	"github.com/intercity/bus-reservation/internal/queue"
	"github.com/intercity/bus-reservation/internal/realtime"
	"github.com/intercity/bus-reservation/internal/repository"
	"github.com/intercity/bus-reservation/internal/reservation"
	"github.com/intercity/bus-reservation/internal/router"
	queue_publisher "github.com/intercity/bus-reservation/internal/service"
	"github.com/intercity/bus-reservation/internal/worker"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Repositories.
	scheduleRepo := repository.NewScheduleRepo(db)
	seatRepo := repository.NewSeatRepo(db)
	lockRepo := repository.NewSeatLockRepo(db)
	bookingRepo := repository.NewBookingRepo(db)
	messageRepo := repository.NewTicketMessageRepo(db)

	// Realtime hub and reservation coordinator.  The dispatcher is the
	// coordinator's event sink, so every seat-state transition fans out to
	// schedule rooms no matter whether HTTP or a socket triggered it.
	hub := realtime.NewHub(realtime.NewPresence())
	dispatcher := realtime.NewDispatcher(hub)
	store := reservation.NewSQLStore(db, lockRepo, bookingRepo)
	coordinator := reservation.New(store, scheduleRepo, dispatcher, cfg.HoldTTL)

	socket := realtime.NewSocketHandler(hub, dispatcher, coordinator, messageRepo, realtime.AllowAllTickets{})

	reservations := handler.NewReservationHandler(coordinator, scheduleRepo)
	reservations.Publish = queue_publisher.PublishBookingConfirmed
	schedules := handler.NewScheduleHandler(scheduleRepo, seatRepo)

	// Rate limiter degrades to pass-through when Redis is unreachable.
	rlCfg := config.LoadRateLimitConfig()
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable, rate limiting disabled")
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterSchedules(e, schedules)
	router.RegisterReservations(e, reservations, cfg.JWTSecret, rlCfg, rdb)
	router.RegisterSocket(e, socket, cfg.JWTSecret)

	// Background jobs: the expired-lock sweeper and the booking.confirmed
	// consumer run for the lifetime of the process.
	sweeper := worker.NewExpiredLockSweeper(coordinator.SweepExpired, cfg.SweepInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Start(ctx)
	go func() {
		if err := queue.StartBookingConsumer(); err != nil {
			log.Printf("booking consumer exited: %v", err)
		}
	}()

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
