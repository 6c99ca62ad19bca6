package realtime

import "time"

// ReconnectDelay is the wait before reconnect attempt n (1-based):
// base, 2*base, 4*base and so on.
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	return base << uint(attempt-1)
}

// Timer is the subset of *time.Timer the channel needs.
type Timer interface {
	Stop() bool
}

// Clock schedules the reconnect and identity-poll callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}
