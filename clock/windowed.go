package clock

import (
	"slices"
	"sync"
	"time"
)

// DefaultFreshness is how far a query may move from the memoized query time
// before the median is recomputed.
const DefaultFreshness = time.Second

// MedianDelta returns the median of (Value(i) - Time(i)) over the latest
// min(window, Len()) samples, or false when the series is empty. The window is
// re-sorted on every call; for an even count the lower middle element is used.
func MedianDelta(series TimeSeries, window int) (time.Duration, bool) {
	n := min(window, series.Len())
	if n <= 0 {
		return 0, false
	}
	deltas := make([]time.Duration, n)
	for i := range deltas {
		deltas[i] = series.Value(i).Sub(series.Time(i))
	}
	slices.Sort(deltas)
	return deltas[(n-1)/2], true
}

// Windowed estimates the offset from a sliding window over a TimeSeries. The
// last result is memoized: queries within freshness of the cached query time
// reuse it instead of rescanning the series. Windowed is thread-safe.
type Windowed struct {
	series    TimeSeries
	window    int
	freshness time.Duration

	mu        sync.Mutex
	cached    bool
	cacheTime time.Time
	cacheVal  time.Duration
}

var _ Estimator = (*Windowed)(nil)

// NewWindowed creates an estimator over the latest window samples of series.
// A non-positive freshness falls back to DefaultFreshness.
func NewWindowed(series TimeSeries, window int, freshness time.Duration) *Windowed {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Windowed{
		series:    series,
		window:    window,
		freshness: freshness,
	}
}

// MedianDeltaMemoized returns MedianDelta for the window, reusing the value
// computed for a query time within freshness of query.
func (w *Windowed) MedianDeltaMemoized(query time.Time) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cached {
		diff := query.Sub(w.cacheTime)
		if diff < 0 {
			diff = -diff
		}
		if diff <= w.freshness {
			return w.cacheVal, true
		}
	}

	delta, ok := MedianDelta(w.series, w.window)
	if !ok {
		return 0, false
	}
	w.cached = true
	w.cacheTime = query
	w.cacheVal = delta
	return delta, true
}

// EstimateTime corrects currentLocal by the windowed median offset. With an
// empty series, currentLocal is returned unchanged.
func (w *Windowed) EstimateTime(currentLocal time.Time) time.Time {
	if w.series.Len() == 0 {
		return currentLocal
	}
	delta, ok := w.MedianDeltaMemoized(currentLocal)
	if !ok {
		return currentLocal
	}
	return currentLocal.Add(delta)
}

// Estimate implements Estimator.
func (w *Windowed) Estimate(local time.Time) time.Time {
	return w.EstimateTime(local)
}
