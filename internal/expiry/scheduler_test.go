package expiry

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory expiry-state store.
type memStore struct {
	mu     sync.Mutex
	armed  bool
	fireAt time.Time
	saves  int
	fail   bool
}

func (m *memStore) SaveExpiryState(armed bool, fireAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store unavailable")
	}
	m.armed = armed
	m.fireAt = fireAt
	m.saves++
	return nil
}

func (m *memStore) LoadExpiryState() (bool, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed, m.fireAt, nil
}

// fakeTimers records schedule calls without arming real timers. Fire()
// runs the pending callback synchronously, standing in for the timer
// goroutine.
type fakeTimers struct {
	mu        sync.Mutex
	pending   map[string]func()
	at        map[string]time.Time
	cancelled int
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{pending: make(map[string]func()), at: make(map[string]time.Time)}
}

func (f *fakeTimers) ScheduleOnce(name string, at time.Time, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[name] = fn
	f.at[name] = at
}

func (f *fakeTimers) Cancel(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[name]; ok {
		f.cancelled++
		delete(f.pending, name)
		delete(f.at, name)
	}
}

// peek returns the pending callback without consuming it, standing in
// for a callback the runtime has already dequeued: Cancel or a
// replacing ScheduleOnce can no longer stop it from running.
func (f *fakeTimers) peek(name string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[name]
}

func (f *fakeTimers) Fire(name string) bool {
	f.mu.Lock()
	fn, ok := f.pending[name]
	delete(f.pending, name)
	delete(f.at, name)
	f.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

var schedNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return schedNow }

func TestArmPersistsBeforeScheduling(t *testing.T) {
	st := &memStore{}
	timers := newFakeTimers()
	s := New(st, timers, func() error { return nil }, fixedNow)

	fireAt := schedNow.Add(10 * time.Minute)
	if err := s.Arm(fireAt); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	state, at := s.State()
	if state != Armed || !at.Equal(fireAt) {
		t.Errorf("state = %s @ %v", state, at)
	}
	if !st.armed || !st.fireAt.Equal(fireAt) {
		t.Errorf("persisted = %v @ %v", st.armed, st.fireAt)
	}
	if got := timers.at[TimerName]; !got.Equal(fireAt) {
		t.Errorf("timer at = %v, want %v", got, fireAt)
	}
}

func TestArmRejectsPastInstant(t *testing.T) {
	s := New(&memStore{}, newFakeTimers(), func() error { return nil }, fixedNow)
	if err := s.Arm(schedNow.Add(-time.Minute)); err == nil {
		t.Error("Arm(past) should fail")
	}
	if err := s.Arm(schedNow); err == nil {
		t.Error("Arm(now) should fail")
	}
}

func TestArmStoreFailureLeavesDisarmed(t *testing.T) {
	st := &memStore{fail: true}
	timers := newFakeTimers()
	s := New(st, timers, func() error { return nil }, fixedNow)

	if err := s.Arm(schedNow.Add(time.Hour)); err == nil {
		t.Fatal("Arm() should propagate store failure")
	}
	if state, _ := s.State(); state != Disarmed {
		t.Errorf("state = %s, want disarmed", state)
	}
	if len(timers.pending) != 0 {
		t.Error("timer must not be armed when persist failed")
	}
}

func TestRearmReplacesTimer(t *testing.T) {
	st := &memStore{}
	timers := newFakeTimers()
	s := New(st, timers, func() error { return nil }, fixedNow)

	first := schedNow.Add(10 * time.Minute)
	second := schedNow.Add(20 * time.Minute)
	if err := s.Arm(first); err != nil {
		t.Fatal(err)
	}
	if err := s.Arm(second); err != nil {
		t.Fatal(err)
	}

	if len(timers.pending) != 1 {
		t.Fatalf("pending timers = %d, want 1", len(timers.pending))
	}
	if got := timers.at[TimerName]; !got.Equal(second) {
		t.Errorf("timer at = %v, want %v", got, second)
	}
	if !st.fireAt.Equal(second) {
		t.Errorf("persisted fireAt = %v, want %v", st.fireAt, second)
	}
}

func TestDisarm(t *testing.T) {
	st := &memStore{}
	timers := newFakeTimers()
	s := New(st, timers, func() error { return nil }, fixedNow)

	if err := s.Arm(schedNow.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.Disarm(); err != nil {
		t.Fatalf("Disarm() error = %v", err)
	}

	if state, _ := s.State(); state != Disarmed {
		t.Errorf("state = %s", state)
	}
	if st.armed {
		t.Error("persisted state still armed")
	}
	if len(timers.pending) != 0 {
		t.Error("timer still pending after disarm")
	}

	// Disarming again is a no-op, not an error.
	if err := s.Disarm(); err != nil {
		t.Errorf("second Disarm() error = %v", err)
	}
}

func TestFireRunsHandlerAndDisarms(t *testing.T) {
	st := &memStore{}
	timers := newFakeTimers()
	fired := 0
	s := New(st, timers, func() error { fired++; return nil }, fixedNow)

	if err := s.Arm(schedNow.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if !timers.Fire(TimerName) {
		t.Fatal("no pending timer to fire")
	}

	if fired != 1 {
		t.Errorf("onFire ran %d times, want 1", fired)
	}
	if state, _ := s.State(); state != Disarmed {
		t.Errorf("state after fire = %s, want disarmed", state)
	}
	if st.armed {
		t.Error("persisted state still armed after fire")
	}
}

func TestStaleFireCallbackSkipped(t *testing.T) {
	st := &memStore{}
	timers := newFakeTimers()
	fired := 0
	s := New(st, timers, func() error { fired++; return nil }, fixedNow)

	first := schedNow.Add(10 * time.Minute)
	second := schedNow.Add(time.Hour)
	if err := s.Arm(first); err != nil {
		t.Fatal(err)
	}

	// The runtime dequeues the callback, then a re-arm replaces the
	// schedule before it runs.
	stale := timers.peek(TimerName)
	if stale == nil {
		t.Fatal("no pending timer")
	}
	if err := s.Arm(second); err != nil {
		t.Fatal(err)
	}

	stale()

	if fired != 0 {
		t.Errorf("stale callback ran the fire handler %d times, want 0", fired)
	}
	state, at := s.State()
	if state != Armed || !at.Equal(second) {
		t.Errorf("state = %s @ %v, want armed @ %v", state, at, second)
	}
	if !st.armed || !st.fireAt.Equal(second) {
		t.Errorf("persisted = %v @ %v, want armed @ %v", st.armed, st.fireAt, second)
	}

	// The replacement schedule still fires normally.
	if !timers.Fire(TimerName) {
		t.Fatal("replacement timer missing")
	}
	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
}

func TestStaleFireAfterDisarmSkipped(t *testing.T) {
	st := &memStore{}
	timers := newFakeTimers()
	fired := 0
	s := New(st, timers, func() error { fired++; return nil }, fixedNow)

	if err := s.Arm(schedNow.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	stale := timers.peek(TimerName)
	if err := s.Disarm(); err != nil {
		t.Fatal(err)
	}

	stale()

	if fired != 0 {
		t.Error("fire handler ran after disarm")
	}
	if state, _ := s.State(); state != Disarmed {
		t.Errorf("state = %s", state)
	}
}

func TestFireHandlerFailureKeepsArmed(t *testing.T) {
	st := &memStore{}
	timers := newFakeTimers()
	fails := 1
	fired := 0
	s := New(st, timers, func() error {
		fired++
		if fails > 0 {
			fails--
			return errors.New("store unavailable")
		}
		return nil
	}, fixedNow)

	fireAt := schedNow.Add(time.Minute)
	if err := s.Arm(fireAt); err != nil {
		t.Fatal(err)
	}
	if !timers.Fire(TimerName) {
		t.Fatal("no pending timer")
	}

	// The disable-and-clear failed: expiry must stay armed, not be
	// dropped with the rules still installed.
	state, at := s.State()
	if state != Armed || !at.Equal(fireAt) {
		t.Fatalf("state = %s @ %v, want armed @ %v", state, at, fireAt)
	}
	if !st.armed {
		t.Error("persisted state disarmed after a failed fire")
	}
	if got := timers.at[TimerName]; !got.Equal(schedNow.Add(fireRetryDelay)) {
		t.Errorf("retry timer at = %v, want %v", got, schedNow.Add(fireRetryDelay))
	}

	// The retry completes the transition.
	if !timers.Fire(TimerName) {
		t.Fatal("no retry timer")
	}
	if fired != 2 {
		t.Errorf("fire handler ran %d times, want 2", fired)
	}
	if state, _ := s.State(); state != Disarmed {
		t.Errorf("state = %s, want disarmed after retry", state)
	}
	if st.armed {
		t.Error("persisted state still armed after retry")
	}
}

func TestRearmDuringFireKeepsNewSchedule(t *testing.T) {
	st := &memStore{}
	timers := newFakeTimers()
	next := schedNow.Add(2 * time.Hour)
	var s *Scheduler
	s = New(st, timers, func() error { return s.Arm(next) }, fixedNow)

	if err := s.Arm(schedNow.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if !timers.Fire(TimerName) {
		t.Fatal("no pending timer")
	}

	state, at := s.State()
	if state != Armed || !at.Equal(next) {
		t.Errorf("state = %s @ %v, want armed @ %v", state, at, next)
	}
	if !st.armed || !st.fireAt.Equal(next) {
		t.Errorf("persisted = %v @ %v, want armed @ %v", st.armed, st.fireAt, next)
	}
	if got := timers.at[TimerName]; !got.Equal(next) {
		t.Errorf("timer at = %v, want %v", got, next)
	}
}

func TestResyncNotArmed(t *testing.T) {
	st := &memStore{}
	timers := newFakeTimers()
	fired := 0
	s := New(st, timers, func() error { fired++; return nil }, fixedNow)

	if err := s.Resync(); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if fired != 0 || len(timers.pending) != 0 {
		t.Error("resync of disarmed state must do nothing")
	}
}

func TestResyncFutureInstantRearms(t *testing.T) {
	fireAt := schedNow.Add(30 * time.Minute)
	st := &memStore{armed: true, fireAt: fireAt}
	timers := newFakeTimers()
	fired := 0
	s := New(st, timers, func() error { fired++; return nil }, fixedNow)

	if err := s.Resync(); err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Error("future instant must not fire during resync")
	}
	state, at := s.State()
	if state != Armed || !at.Equal(fireAt) {
		t.Errorf("state = %s @ %v, want armed @ %v", state, at, fireAt)
	}
	if got := timers.at[TimerName]; !got.Equal(fireAt) {
		t.Errorf("timer at = %v, want %v", got, fireAt)
	}
}

func TestResyncOverdueInstantFiresImmediately(t *testing.T) {
	st := &memStore{armed: true, fireAt: schedNow.Add(-time.Hour)}
	timers := newFakeTimers()
	fired := 0
	s := New(st, timers, func() error { fired++; return nil }, fixedNow)

	if err := s.Resync(); err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Errorf("overdue instant fired %d times, want 1", fired)
	}
	if state, _ := s.State(); state != Disarmed {
		t.Errorf("state = %s, want disarmed after catch-up fire", state)
	}
	if st.armed {
		t.Error("persisted state still armed after catch-up fire")
	}
}
