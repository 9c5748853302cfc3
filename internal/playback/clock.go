package playback

import "time"

// Timer is a pending continuation. Stop reports whether it prevented the
// call; a false return means the callback may already be running.
type Timer interface {
	Stop() bool
}

// Clock schedules continuations. Sessions never sleep; they only ask the
// clock to call back later.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock is the wall clock backed by time.AfterFunc.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
