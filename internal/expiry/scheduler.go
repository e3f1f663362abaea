package expiry

import (
	"fmt"
	"sync"
	"time"
)

// TimerName keys the scheduler's single one-shot timer.
const TimerName = "headerlock-expiry"

// fireRetryDelay spaces out retries when the fire handler could not
// complete the disable-and-clear (a transient store or rule-table
// failure). The expiry is kept armed rather than dropped.
const fireRetryDelay = 30 * time.Second

// State is the scheduler's lifecycle position.
type State string

// Scheduler states. Fired is transient: after the fire handler runs the
// scheduler returns to Disarmed.
const (
	Disarmed State = "disarmed"
	Armed    State = "armed"
	Fired    State = "fired"
)

// Store is the slice of the persistence gateway the scheduler needs.
type Store interface {
	SaveExpiryState(armed bool, fireAt time.Time) error
	LoadExpiryState() (armed bool, fireAt time.Time, err error)
}

// Scheduler is the expiry state machine. Arm persists the fire instant
// before arming the timer so a crash between the two still fires on the
// next start. OnFire runs the disable-and-clear transition; it is
// supplied by the engine and must itself persist the disabled profile.
//
// Every timer callback carries the instant it was armed for. A callback
// the runtime dequeued before a re-arm or disarm could stop it checks
// that instant against the current schedule and skips itself when they
// no longer match, so a stale fire can never disable a profile that was
// since re-armed for later.
type Scheduler struct {
	store  Store
	timers Timers
	onFire func() error
	now    func() time.Time

	mu     sync.Mutex
	state  State
	fireAt time.Time
}

// New creates a disarmed scheduler. now is the clock used to classify
// instants as past or future; tests substitute a fixed one.
func New(store Store, timers Timers, onFire func() error, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:  store,
		timers: timers,
		onFire: onFire,
		now:    now,
		state:  Disarmed,
	}
}

// State returns the current state and, when armed, the fire instant.
func (s *Scheduler) State() (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.fireAt
}

// Arm persists {armed, fireAt} and schedules the one-shot timer. An
// instant not in the future is rejected; callers decide future-ness at
// the moment of scheduling.
func (s *Scheduler) Arm(fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fireAt.After(s.now()) {
		return fmt.Errorf("expiry instant %s is not in the future", fireAt.Format(time.RFC3339))
	}
	if err := s.store.SaveExpiryState(true, fireAt); err != nil {
		return fmt.Errorf("persisting armed state: %w", err)
	}
	s.timers.ScheduleOnce(TimerName, fireAt, func() { s.fire(fireAt) })
	s.state = Armed
	s.fireAt = fireAt
	return nil
}

// Disarm clears any pending timer and persists the disarmed state.
// Disarming an already-disarmed scheduler is a no-op that still rewrites
// the persisted state, keeping it authoritative.
func (s *Scheduler) Disarm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disarmLocked()
}

func (s *Scheduler) disarmLocked() error {
	s.timers.Cancel(TimerName)
	if err := s.store.SaveExpiryState(false, time.Time{}); err != nil {
		return fmt.Errorf("persisting disarmed state: %w", err)
	}
	s.state = Disarmed
	s.fireAt = time.Time{}
	return nil
}

// Resync reconstructs the schedule from persisted state on process
// start. A fire instant already in the past means the process slept
// through it: the fired transition executes immediately instead of
// being dropped. A future instant re-arms the timer; the timer
// abstraction does not survive restarts, so this is mandatory.
func (s *Scheduler) Resync() error {
	armed, fireAt, err := s.store.LoadExpiryState()
	if err != nil {
		return fmt.Errorf("loading expiry state: %w", err)
	}
	if !armed {
		return nil
	}

	s.mu.Lock()
	s.state = Armed
	s.fireAt = fireAt
	s.mu.Unlock()

	if !fireAt.After(s.now()) {
		s.fire(fireAt)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers.ScheduleOnce(TimerName, fireAt, func() { s.fire(fireAt) })
	return nil
}

// fire executes the Fired transition for the instant the callback was
// armed for: run the disable-and-clear handler, then return to
// Disarmed. Runs on the timer goroutine (or the Resync caller for
// overdue instants).
func (s *Scheduler) fire(at time.Time) {
	s.mu.Lock()
	if s.state != Armed || !s.fireAt.Equal(at) {
		// The callback outlived its schedule: a save re-armed or
		// disarmed after the runtime dequeued it. The current schedule
		// is authoritative.
		s.mu.Unlock()
		return
	}
	s.state = Fired
	s.mu.Unlock()

	var err error
	if s.onFire != nil {
		err = s.onFire()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Fired {
		// Re-armed or disarmed while the handler ran; leave the new
		// schedule alone.
		return
	}
	if err != nil {
		// The disable-and-clear did not land. Keep the armed state
		// (persisted state still says armed) and retry shortly rather
		// than dropping the expiry with the rules still installed.
		s.state = Armed
		s.fireAt = at
		s.timers.ScheduleOnce(TimerName, s.now().Add(fireRetryDelay), func() { s.fire(at) })
		return
	}
	_ = s.disarmLocked()
}
