package clock

import (
	"sync"
	"time"
)

// TimeSeries is a channel of (local time, external time) samples, most recent
// first: index 0 is the latest sample.
type TimeSeries interface {
	Len() int
	// Time returns the local clock reading of sample i.
	Time(i int) time.Time
	// Value returns the external reference reading of sample i.
	Value(i int) time.Time
}

type sample struct {
	local    time.Time
	external time.Time
}

// Series is a fixed-capacity TimeSeries; pushing into a full Series
// overwrites the oldest sample. Series is thread-safe.
type Series struct {
	mu    sync.RWMutex
	data  []sample
	head  int // index of the next push
	count int
}

var _ TimeSeries = (*Series)(nil)

// NewSeries creates a Series holding at most capacity samples.
func NewSeries(capacity int) *Series {
	if capacity < 1 {
		capacity = 1
	}
	return &Series{data: make([]sample, capacity)}
}

// Push records a new most-recent sample.
func (s *Series) Push(local, external time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[s.head] = sample{local: local, external: external}
	s.head = (s.head + 1) % len(s.data)
	if s.count < len(s.data) {
		s.count++
	}
}

func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *Series) Time(i int) time.Time {
	return s.at(i).local
}

func (s *Series) Value(i int) time.Time {
	return s.at(i).external
}

func (s *Series) at(i int) sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= s.count {
		panic("clock: series index out of range")
	}
	idx := (s.head - 1 - i + 2*len(s.data)) % len(s.data)
	return s.data[idx]
}

// AddSample implements Sampler; a Series never rejects samples.
func (s *Series) AddSample(local, external time.Time) bool {
	s.Push(local, external)
	return true
}
