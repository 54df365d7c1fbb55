package consensus

import (
	"testing"
	"time"
)

func TestDeadlineTimerTickAndReset(t *testing.T) {
	fire := make(chan time.Time, 1)
	d := NewDeadlineTimer(func(time.Duration) <-chan time.Time { return fire })

	done := make(chan struct{})
	go func() {
		d.Run(time.Millisecond)
		close(done)
	}()

	fire <- time.Time{}
	select {
	case <-d.tickCh:
	case <-time.After(time.Second):
		t.Fatal("timer did not tick")
	}

	// re-arm and tick again
	d.resetCh <- time.Millisecond
	fire <- time.Time{}
	select {
	case <-d.tickCh:
	case <-time.After(time.Second):
		t.Fatal("timer did not tick after reset")
	}

	d.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestDeadlineTimerShutdownUnblocksPendingTick(t *testing.T) {
	fire := make(chan time.Time, 1)
	fire <- time.Time{}

	d := NewDeadlineTimer(func(time.Duration) <-chan time.Time { return fire })

	done := make(chan struct{})
	go func() {
		d.Run(time.Millisecond)
		close(done)
	}()

	// nobody consumes the tick; give Run time to block on the send
	time.Sleep(10 * time.Millisecond)

	d.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run leaked with a tick pending")
	}
}

func TestEngineShutdownWithPendingSweep(t *testing.T) {
	eng, _, _ := initEngine(t, "a1")

	eng.Start()

	// shutting down right away must not hang on the sweeper handshake
	doneCh := make(chan struct{})
	go func() {
		eng.Shutdown()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("engine shutdown hung")
	}
}
