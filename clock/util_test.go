package clock

import "time"

////////////////////////////////////////
// Mock SystemClock

var _ SystemClock = (*mockSystemClock)(nil)

type mockSystemClock struct {
	now time.Time
}

func newMockSystemClock(now time.Time) *mockSystemClock {
	return &mockSystemClock{now: now}
}

func (sc *mockSystemClock) Now() time.Time {
	return sc.now
}

func (sc *mockSystemClock) Advance(d time.Duration) {
	sc.now = sc.now.Add(d)
}

var epoch = time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)

// corrupted offsets: two wildly wrong GPS sentences among good ones.
var corruptedDeltas = []time.Duration{0, 0, 0, 0, -999999 * time.Second, 99999 * time.Second, 0, 0, 0}

func seriesFromDeltas(deltas []time.Duration) *Series {
	s := NewSeries(len(deltas))
	for i, d := range deltas {
		local := epoch.Add(time.Duration(i) * time.Second)
		s.Push(local, local.Add(d))
	}
	return s
}
