// Package worker contains background jobs that run alongside the HTTP
// server.
package worker

import (
	"context"
	"log"
	"time"
)

// ExpiredLockSweeper periodically asks the reservation coordinator to
// expire stale seat locks.  Expiry is lazy everywhere else (every
// acquire and promote sweeps first), so the sweeper only exists to free
// seats on schedules nobody is currently touching; its period must stay
// well below the hold TTL or abandoned holds linger for viewers.
type ExpiredLockSweeper struct {
	sweep    func(ctx context.Context) (int, error)
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewExpiredLockSweeper creates a sweeper driving the given sweep
// function, typically Coordinator.SweepExpired.
func NewExpiredLockSweeper(sweep func(ctx context.Context) (int, error), interval time.Duration) *ExpiredLockSweeper {
	if sweep == nil {
		panic("nil sweep function passed to NewExpiredLockSweeper")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpiredLockSweeper{
		sweep:    sweep,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is
// called.  Run it in its own goroutine.
func (s *ExpiredLockSweeper) Start(ctx context.Context) {
	log.Printf("sweeper: started, interval=%s", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			log.Printf("sweeper: stopped, context cancelled")
			return
		case <-s.stopCh:
			log.Printf("sweeper: stopped")
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for it to finish.
func (s *ExpiredLockSweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *ExpiredLockSweeper) run(ctx context.Context) {
	freed, err := s.sweep(ctx)
	if err != nil {
		log.Printf("sweeper: sweep failed: %v", err)
		return
	}
	if freed > 0 {
		log.Printf("sweeper: freed %d expired seat locks", freed)
	}
}
