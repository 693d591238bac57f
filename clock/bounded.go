package clock

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"anemobox/median"
)

// Bounded is a one-shot offset estimator. It inserts (external - local) deltas
// into a streaming median and freezes once maxSamples have been accepted, so
// that the correction stops drifting once enough evidence has accumulated.
// Bounded is thread-safe.
type Bounded struct {
	mu         sync.RWMutex
	maxSamples int
	deltas     *median.Tracker[time.Duration]
}

var _ Estimator = (*Bounded)(nil)

// NewBounded creates an estimator that stops after maxSamples samples.
// maxSamples <= 0 never freezes.
func NewBounded(maxSamples int) *Bounded {
	return &Bounded{
		maxSamples: maxSamples,
		deltas:     median.NewOrdered[time.Duration](),
	}
}

// AddSample records that the external reference read external when the local
// clock read local. It returns false when the estimator is frozen and the
// sample was ignored.
func (b *Bounded) AddSample(local, external time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen() {
		return false
	}
	b.deltas.Insert(external.Sub(local))
	if b.frozen() {
		offset, _ := b.deltas.Median()
		logrus.WithField("offset", offset).Infof("clock: offset frozen after %d samples", b.deltas.Len())
	}
	return true
}

// Estimate applies the current offset to local. Without samples, local is
// returned unchanged.
func (b *Bounded) Estimate(local time.Time) time.Time {
	if offset, ok := b.Offset(); ok {
		return local.Add(offset)
	}
	return local
}

// Offset returns the median offset, or false if no sample was added yet.
func (b *Bounded) Offset() (time.Duration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.deltas.Median()
}

// Frozen reports whether the sample cap was reached.
func (b *Bounded) Frozen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frozen()
}

// Samples returns the number of accepted samples.
func (b *Bounded) Samples() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.deltas.Len()
}

func (b *Bounded) frozen() bool {
	return b.maxSamples > 0 && b.deltas.Len() >= b.maxSamples
}
