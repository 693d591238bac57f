package clock

import "time"

// Estimator corrects a local clock reading into an absolute time estimate.
type Estimator interface {
	Estimate(local time.Time) time.Time
}

// Clock is the device's notion of current time: the system clock corrected
// by an Estimator. Logging and RPC timestamping read it through Now.
type Clock struct {
	sys SystemClock
	est Estimator
}

// New creates a Clock. A nil SystemClock uses the real clock; a nil Estimator
// applies no correction.
func New(sys SystemClock, est Estimator) *Clock {
	if sys == nil {
		sys = NewSystemClock()
	}
	return &Clock{sys: sys, est: est}
}

// Now returns the best current estimate of absolute time.
func (c *Clock) Now() time.Time {
	local := c.sys.Now()
	if c.est == nil {
		return local
	}
	return c.est.Estimate(local)
}

// Local returns the uncorrected system clock reading.
func (c *Clock) Local() time.Time {
	return c.sys.Now()
}

// Sampler accepts (local, external) time samples.
type Sampler interface {
	AddSample(local, external time.Time) bool
}

var (
	_ Sampler = (*Bounded)(nil)
	_ Sampler = (*Series)(nil)
)
