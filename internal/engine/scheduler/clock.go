package scheduler

import "time"

type (
	// Clock reports the current time. Tests substitute one they control
	Clock func() time.Time

	// Timer fires once after a delay and can be re-armed
	Timer interface {
		Channel() <-chan time.Time
		Reset(delay time.Duration) bool
		Stop() bool
	}

	// TimerConstructor arms a new Timer
	TimerConstructor func(delay time.Duration) Timer

	wallTimer struct {
		t *time.Timer
	}
)

var _ Timer = wallTimer{}

// SystemClock reads the wall clock
func SystemClock() time.Time {
	return time.Now()
}

// NewTimer arms a Timer backed by the runtime's timers
func NewTimer(delay time.Duration) Timer {
	return wallTimer{t: time.NewTimer(delay)}
}

func (w wallTimer) Channel() <-chan time.Time {
	return w.t.C
}

func (w wallTimer) Reset(delay time.Duration) bool {
	return w.t.Reset(delay)
}

func (w wallTimer) Stop() bool {
	return w.t.Stop()
}
