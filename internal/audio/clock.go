package audio

import "time"

// Clock abstracts time and timer creation so the reconnection state machine
// can be driven deterministically in tests without real timers.
type Clock interface {
	Now() time.Time

	// AfterFunc schedules f to run on its own goroutine after d
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker creates a repeating ticker with period d
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer; reports whether it was still pending
	Stop() bool
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
