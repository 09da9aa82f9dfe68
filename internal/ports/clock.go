package ports

import "time"

// Clock is the agent's view of wall time. Tests substitute a virtual clock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock reads the host clock. Now drops the monotonic reading so
// durations and slot stamps follow wall-clock steps such as an NTP sync.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now().Round(0) }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
