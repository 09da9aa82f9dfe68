// Package schedule produces measurement times on a fixed grid anchored at
// local midnight, so the cadence does not drift with run time.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

// Supported lists the measurement intervals the agent accepts.
var Supported = []time.Duration{
	time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
}

func ValidateInterval(d time.Duration) error {
	for _, s := range Supported {
		if d == s {
			return nil
		}
	}
	return fmt.Errorf("%w: interval %s is not one of %v", domain.ErrConfiguration, d, Supported)
}

// ParseInterval parses a duration string such as "5m" and validates it.
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: interval %q: %v", domain.ErrConfiguration, s, err)
	}
	if err := ValidateInterval(d); err != nil {
		return 0, err
	}
	return d, nil
}

// FirstFireTime returns how long to wait from now until the first grid
// boundary strictly after now.
func FirstFireTime(interval time.Duration, now time.Time) time.Duration {
	origin := midnight(now)
	slots := now.Sub(origin)/interval + 1
	return origin.Add(slots * interval).Sub(now)
}

// NextFireTime is the slot after last. It never looks at the current time.
func NextFireTime(interval time.Duration, last time.Time) time.Time {
	return last.Add(interval)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Schedule holds the interval and the next fire time.
type Schedule struct {
	interval time.Duration
	next     time.Time
}

// New fails with a configuration error for unsupported intervals.
func New(interval time.Duration) (*Schedule, error) {
	if err := ValidateInterval(interval); err != nil {
		return nil, err
	}
	return &Schedule{interval: interval}, nil
}

func (s *Schedule) Interval() time.Duration { return s.interval }

// Next returns the pending fire time.
func (s *Schedule) Next() time.Time { return s.next }

// Start aligns the first fire time to the grid. Fire times carry no
// monotonic reading so Wait measures against wall time.
func (s *Schedule) Start(now time.Time) time.Time {
	now = now.Round(0)
	s.next = now.Add(FirstFireTime(s.interval, now))
	return s.next
}

// Advance moves past the slot that just fired. When the following slot is
// already due it stays due so the caller fires at once; any slots lying a
// whole interval or more in the past are skipped and counted. A clock
// stepped backwards past the last slot re-aligns the grid from now.
func (s *Schedule) Advance(now time.Time) (next time.Time, skipped int) {
	now = now.Round(0)
	next = NextFireTime(s.interval, s.next)
	if next.Sub(now) > s.interval {
		return s.Start(now), 0
	}
	for !next.Add(s.interval).After(now) {
		next = next.Add(s.interval)
		skipped++
	}
	s.next = next
	return next, skipped
}

// Wait blocks until the pending fire time. It reports late when the slot
// was already due on entry.
func (s *Schedule) Wait(ctx context.Context, clock ports.Clock) (late bool, err error) {
	d := s.next.Sub(clock.Now())
	if d <= 0 {
		return true, ctx.Err()
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-clock.After(d):
		return false, nil
	}
}
