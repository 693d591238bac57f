package coalesce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecordingTimer() (*Timer, chan time.Time) {
	fired := make(chan time.Time, 4)
	return NewTimer(func() { fired <- time.Now() }), fired
}

func TestScheduleAfterFiresOnce(t *testing.T) {
	timer, fired := newRecordingTimer()

	start := time.Now()
	timer.ScheduleAfter(100 * time.Millisecond)

	select {
	case at := <-fired:
		elapsed := at.Sub(start)
		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
		assert.Less(t, elapsed, 160*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("action never fired")
	}

	select {
	case <-fired:
		t.Fatal("action fired twice")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestScheduleAfterExtendsDeadline(t *testing.T) {
	timer, fired := newRecordingTimer()

	start := time.Now()
	timer.ScheduleAfter(100 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	timer.ScheduleAfter(200 * time.Millisecond)

	select {
	case at := <-fired:
		elapsed := at.Sub(start)
		assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond, "fired before the extended deadline")
		assert.Less(t, elapsed, 310*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("action never fired")
	}
}

func TestScheduleAfterNeverPullsEarlier(t *testing.T) {
	timer, fired := newRecordingTimer()

	start := time.Now()
	timer.ScheduleAfter(200 * time.Millisecond)
	first, armed := timer.Deadline()
	require.True(t, armed)

	timer.ScheduleAfter(10 * time.Millisecond)
	second, _ := timer.Deadline()
	assert.Equal(t, first, second)

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 200*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("action never fired")
	}
}

func TestTimerRearmsAfterFiring(t *testing.T) {
	var count atomic.Int32
	timer := NewTimer(func() { count.Add(1) })

	timer.ScheduleAfter(20 * time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	_, armed := timer.Deadline()
	assert.False(t, armed)

	timer.ScheduleAfter(20 * time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(2), count.Load())
}
