// Package coalesce implements a delayed-action timer whose deadline can only be
// pushed later by repeated scheduling requests.
//
// It exists to avoid opening and closing an expensive resource on every message
// when messages arrive in bursts: each message extends the "close after idle"
// deadline instead of starting a fresh timer.
//
//	ScheduleAfter(100ms) ──┐
//	   50ms later          │ deadline = max(t0+100ms, t0+50ms+200ms) = t0+250ms
//	ScheduleAfter(200ms) ──┘
//	                         wait loop wakes at t0+100ms, sees the moved deadline,
//	                         sleeps again until t0+250ms, then fires once.
package coalesce

import (
	"sync"
	"time"
)

// Timer runs a single action no earlier than a repeatedly extended deadline.
// There is no way to cancel an armed Timer; superseding the deadline is the
// only way to delay the action.
type Timer struct {
	action func()
	now    func() time.Time

	mu       sync.Mutex // protects deadline and armed; the wait loop re-checks under it
	deadline time.Time
	armed    bool
}

// NewTimer creates a disarmed timer that runs action when its deadline passes.
func NewTimer(action func()) *Timer {
	return &Timer{
		action: action,
		now:    time.Now,
	}
}

// ScheduleAfter asks for the action to run delay from now. If the timer is
// already armed, the deadline is only moved when the new one is later.
func (t *Timer) ScheduleAfter(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newDeadline := t.now().Add(delay)
	if !t.armed {
		t.armed = true
		t.deadline = newDeadline
		go t.wait(delay)
		return
	}
	if newDeadline.After(t.deadline) {
		t.deadline = newDeadline
	}
}

// Deadline returns the current deadline and whether the timer is armed.
func (t *Timer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline, t.armed
}

// wait sleeps until the current deadline, re-sleeping whenever ScheduleAfter
// moved it during the sleep, and fires the action exactly once.
func (t *Timer) wait(d time.Duration) {
	for {
		time.Sleep(d)

		t.mu.Lock()
		remaining := t.deadline.Sub(t.now())
		if remaining <= 0 {
			t.armed = false
			t.deadline = time.Time{}
			t.mu.Unlock()
			t.action()
			return
		}
		t.mu.Unlock()
		d = remaining
	}
}
