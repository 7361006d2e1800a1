package clock

import "time"

// FakeClock is a manually stepped Clock for tests. Cache TTL expiry,
// pool idle sweeps, and queue backoff windows are crossed by advancing
// it instead of sleeping.
type FakeClock struct {
	now time.Time
}

// NewFakeClock pins the clock to t, normalized to UTC.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time { return c.now }

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
