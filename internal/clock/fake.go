package clock

import "time"

// FakeClock is a manually advanced Clock for tests that exercise renewal
// boundaries and day-keyed counters. Not safe for concurrent Advance.
type FakeClock struct {
	now time.Time
}

// NewFakeClock freezes the clock at t, normalized to UTC.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the frozen instant forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
