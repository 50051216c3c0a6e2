package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperRunsPeriodically(t *testing.T) {
	var calls atomic.Int32
	s := NewExpiredLockSweeper(func(context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	require.Eventually(t, func() bool { return calls.Load() >= 2 },
		time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSweeperStopWaitsForLoop(t *testing.T) {
	s := NewExpiredLockSweeper(func(context.Context) (int, error) { return 0, nil }, 10*time.Millisecond)

	go s.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	s.Stop()

	select {
	case <-s.doneCh:
	default:
		t.Fatal("Stop must not return before the loop has exited")
	}
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	s := NewExpiredLockSweeper(func(context.Context) (int, error) { return 0, nil }, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancel")
	}
}

func TestSweeperSurvivesErrors(t *testing.T) {
	var calls atomic.Int32
	s := NewExpiredLockSweeper(func(context.Context) (int, error) {
		calls.Add(1)
		return 0, assert.AnError
	}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	require.Eventually(t, func() bool { return calls.Load() >= 3 },
		time.Second, 5*time.Millisecond, "a failing sweep must not kill the loop")
	s.Stop()
}

func TestSweeperDefaultsInterval(t *testing.T) {
	s := NewExpiredLockSweeper(func(context.Context) (int, error) { return 0, nil }, 0)
	assert.Equal(t, 30*time.Second, s.interval)
}
