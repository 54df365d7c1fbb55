package consensus

import (
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// DeadlineTimer drives the proposal expiry sweep. It fires on a cadence,
// can be reset to a new interval, and stops cleanly on shutdown.
type DeadlineTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{}      //sends a signal to the sweep loop
	resetCh      chan time.Duration //receives instruction to re-arm the timer
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
	set          bool
}

// NewDeadlineTimer creates a DeadlineTimer from a timerFactory.
func NewDeadlineTimer(timerFactory timerFactory) *DeadlineTimer {
	return &DeadlineTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}),
		resetCh:      make(chan time.Duration),
		shutdownCh:   make(chan struct{}),
	}
}

// NewSweepTimer creates a DeadlineTimer backed by the wall clock.
func NewSweepTimer() *DeadlineTimer {
	return NewDeadlineTimer(func(d time.Duration) <-chan time.Time {
		if d == 0 {
			return nil
		}
		return time.After(d)
	})
}

// Run arms the timer with init and loops until Shutdown.
func (d *DeadlineTimer) Run(init time.Duration) {

	setTimer := func(t time.Duration) <-chan time.Time {
		d.set = true
		return d.timerFactory(t)
	}

	timer := setTimer(init)
	for {
		select {
		case <-timer:
			// the consumer may be gone; never block a shutdown on the tick
			select {
			case d.tickCh <- struct{}{}:
			case <-d.shutdownCh:
				d.set = false
				return
			}
			d.set = false
		case t := <-d.resetCh:
			timer = setTimer(t)
		case <-d.shutdownCh:
			d.set = false
			return
		}
	}
}

// Shutdown exits the Run loop.
func (d *DeadlineTimer) Shutdown() {
	close(d.shutdownCh)
}
