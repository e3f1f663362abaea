// Package expiry arranges the one-shot wake-up that disables a
// time-boxed profile. Timers do not survive process restarts, so the
// scheduler recomputes its schedule from the persisted absolute instant
// on every start.
package expiry

import (
	"sync"
	"time"
)

// Timers is the one-shot timer service. Scheduling under an existing
// name replaces the pending timer; cancelling an unknown name is a
// no-op, never an error.
type Timers interface {
	ScheduleOnce(name string, at time.Time, fn func())
	Cancel(name string)
}

// ClockTimers implements Timers on the process clock.
type ClockTimers struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewClockTimers returns an empty timer set.
func NewClockTimers() *ClockTimers {
	return &ClockTimers{pending: make(map[string]*time.Timer)}
}

// ScheduleOnce arms fn to run at or after the given instant. An instant
// already in the past fires fn immediately on the timer goroutine.
func (t *ClockTimers) ScheduleOnce(name string, at time.Time, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.pending[name]; ok {
		old.Stop()
	}
	t.pending[name] = time.AfterFunc(time.Until(at), func() {
		t.mu.Lock()
		delete(t.pending, name)
		t.mu.Unlock()
		fn()
	})
}

// Cancel stops a pending timer. Idempotent.
func (t *ClockTimers) Cancel(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.pending[name]; ok {
		timer.Stop()
		delete(t.pending, name)
	}
}
