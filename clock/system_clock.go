package clock

import "time"

// SystemClock provides access to the local clock.
type SystemClock interface {
	// Now returns the system's notion of current UTC time (which may be off).
	Now() time.Time
}

////////////////////////////////////////
// realSystemClock

type realSystemClock struct{}

var _ SystemClock = (*realSystemClock)(nil)

func (*realSystemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns the real system clock.
func NewSystemClock() SystemClock {
	return &realSystemClock{}
}

////////////////////////////////////////
// fakeSystemClock

// fakeSystemClock starts at an arbitrary time and advances with the real
// clock. It assumes the real system clock is never changed while in use.
type fakeSystemClock struct {
	realClock   SystemClock
	initRealNow time.Time
	initNow     time.Time
}

var _ SystemClock = (*fakeSystemClock)(nil)

func (c *fakeSystemClock) Now() time.Time {
	return c.initNow.Add(c.realClock.Now().Sub(c.initRealNow))
}

// NewFakeSystemClock returns a clock that reads now at the moment of the call
// and advances in real time afterwards. Used to simulate a device whose clock
// was never set.
func NewFakeSystemClock(now time.Time) SystemClock {
	realClock := NewSystemClock()
	return &fakeSystemClock{
		realClock:   realClock,
		initRealNow: realClock.Now(),
		initNow:     now,
	}
}
