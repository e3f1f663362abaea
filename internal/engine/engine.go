// Package engine orchestrates the save, startup-resync, and expiry-fire
// event handlers. Each handler runs to completion under one lock: there
// is exactly one profile, and no two reconciliations may be in flight
// against it concurrently. Concurrent saves queue on the lock rather
// than interleaving.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luckyPipewrench/headerlock/internal/audit"
	"github.com/luckyPipewrench/headerlock/internal/expiry"
	"github.com/luckyPipewrench/headerlock/internal/metrics"
	"github.com/luckyPipewrench/headerlock/internal/notify"
	"github.com/luckyPipewrench/headerlock/internal/profile"
	"github.com/luckyPipewrench/headerlock/internal/ruletable"
	"github.com/luckyPipewrench/headerlock/internal/rules"
)

// Store is the slice of the persistence gateway the engine needs.
// *store.Store satisfies it.
type Store interface {
	LoadProfile() (*profile.Profile, error)
	SaveProfile(*profile.Profile) error
	expiry.Store
}

// Engine owns the one configuration record and drives every state
// transition against it.
type Engine struct {
	store Store
	table ruletable.Table
	sched *expiry.Scheduler
	log   *audit.Logger
	mx    *metrics.Metrics
	em    *notify.Emitter // nil disables external notification
	now   func() time.Time

	// saves serializes the three event handlers (save, resync, fire).
	saves chan struct{}
}

// Options carries optional Engine dependencies.
type Options struct {
	// Now substitutes the clock; nil means time.Now.
	Now func() time.Time
	// Timers substitutes the one-shot timer service; nil means the
	// process-clock implementation.
	Timers expiry.Timers
	// Notifier forwards lifecycle events to external sinks; nil
	// disables forwarding.
	Notifier *notify.Emitter
}

// New wires an engine over the store and rule table. The expiry
// scheduler is created here so its fire handler is the engine's own
// expire transition.
func New(st Store, table ruletable.Table, log *audit.Logger, mx *metrics.Metrics, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timers := opts.Timers
	if timers == nil {
		timers = expiry.NewClockTimers()
	}

	e := &Engine{
		store: st,
		table: table,
		log:   log,
		mx:    mx,
		em:    opts.Notifier,
		now:   now,
		saves: make(chan struct{}, 1),
	}
	e.saves <- struct{}{}
	e.sched = expiry.New(st, timers, e.expireNow, now)
	return e
}

// lock acquires the single-flight save lock.
func (e *Engine) lock() { <-e.saves }

// unlock releases the single-flight save lock.
func (e *Engine) unlock() { e.saves <- struct{}{} }

// Save validates raw input and, on success, atomically replaces the
// persisted profile, reconciles the rule table, and re-schedules the
// expiry. Validation failures leave every piece of durable state
// untouched. A rule-table failure rolls the persisted profile back to
// its previous value so persisted and installed state stay consistent.
func (e *Engine) Save(ctx context.Context, in profile.RawInput) (*profile.Profile, error) {
	saveID := uuid.NewString()

	p, err := profile.Validate(in, e.now())
	if err != nil {
		var verr *profile.ValidationError
		if errors.As(err, &verr) {
			e.log.LogSaveRejected(saveID, string(verr.Code), verr.Field, verr.Value)
			e.em.Emit(ctx, "save_rejected", map[string]any{
				"save_id": saveID, "code": string(verr.Code), "field": verr.Field,
			})
		}
		e.mx.RecordSave(metrics.SaveRejected)
		return nil, err
	}

	e.lock()
	defer e.unlock()

	prev, err := e.store.LoadProfile()
	if err != nil {
		e.serviceFailure("load_profile", err)
		return nil, err
	}

	if err := e.store.SaveProfile(p); err != nil {
		e.serviceFailure("save_profile", err)
		return nil, err
	}

	installed, err := e.reconcile(ctx, saveID, p)
	if err != nil {
		// The replace call is atomic, so the table still holds the
		// previous rules; restore the previous profile to match.
		if rbErr := e.store.SaveProfile(prev); rbErr != nil {
			e.log.LogServiceError("rollback_profile", rbErr)
		}
		e.serviceFailure("apply_rules", err)
		return nil, err
	}

	if err := e.syncExpiry(p); err != nil {
		// Same contract as a failed rule apply: the save did not land,
		// so both halves of durable state go back to their previous
		// values.
		if rbErr := e.store.SaveProfile(prev); rbErr != nil {
			e.log.LogServiceError("rollback_profile", rbErr)
		} else if _, rbErr := e.reconcile(ctx, saveID, prev); rbErr != nil {
			e.log.LogServiceError("rollback_rules", rbErr)
		}
		e.serviceFailure("schedule_expiry", err)
		return nil, err
	}

	e.log.LogSaveApplied(saveID, len(p.Headers), len(p.Domains), installed, p.Enabled, p.ExpiresAt)
	e.mx.RecordSave(metrics.SaveApplied)
	e.em.Emit(ctx, "save_applied", map[string]any{
		"save_id": saveID, "headers": len(p.Headers), "domains": len(p.Domains),
		"rules": installed, "enabled": p.Enabled,
	})
	return p, nil
}

// Resync is the process-start handler: converge the rule table to the
// persisted profile, then rebuild the expiry schedule from its persisted
// absolute instant. An overdue instant executes the fired transition
// before Resync returns.
func (e *Engine) Resync(ctx context.Context) error {
	saveID := uuid.NewString()

	e.lock()
	p, err := e.store.LoadProfile()
	if err != nil {
		e.unlock()
		return fmt.Errorf("loading persisted profile: %w", err)
	}
	if _, err := e.reconcile(ctx, saveID, p); err != nil {
		e.unlock()
		return fmt.Errorf("converging rule table: %w", err)
	}
	// Release before Resync: an overdue expiry fires synchronously and
	// the fire handler takes the save lock itself.
	e.unlock()

	if err := e.sched.Resync(); err != nil {
		return fmt.Errorf("rebuilding expiry schedule: %w", err)
	}
	state, _ := e.sched.State()
	e.mx.SetExpiryArmed(state == expiry.Armed)
	return nil
}

// Current returns the persisted profile.
func (e *Engine) Current() (*profile.Profile, error) {
	return e.store.LoadProfile()
}

// Installed returns the rules currently in the table.
func (e *Engine) Installed(ctx context.Context) ([]rules.Rule, error) {
	return e.table.List(ctx)
}

// ExpiryState exposes the scheduler state for status reporting.
func (e *Engine) ExpiryState() (expiry.State, time.Time) {
	return e.sched.State()
}

// Export renders the persisted profile as an interchange document.
func (e *Engine) Export() (profile.Document, error) {
	p, err := e.store.LoadProfile()
	if err != nil {
		return profile.Document{}, err
	}
	return profile.Export(p, e.now()), nil
}

// Import parses an interchange document tolerantly and saves it through
// the normal validation path. Only a document that is not JSON at all
// fails outright.
func (e *Engine) Import(ctx context.Context, data []byte) (*profile.Profile, error) {
	doc, err := profile.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	p, err := e.Save(ctx, doc.RawInput())
	if err != nil {
		return nil, err
	}
	e.log.LogImport(uuid.NewString(), len(p.Headers), len(p.Domains))
	return p, nil
}

// reconcile compiles the desired rule set, diffs it against the
// installed one, and applies the delta — or, when the delta is empty,
// performs no rule-table write at all. Returns the installed rule count
// after convergence.
func (e *Engine) reconcile(ctx context.Context, saveID string, p *profile.Profile) (int, error) {
	desired := rules.Compile(p)

	installed, err := e.table.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing installed rules: %w", err)
	}

	delta := rules.Diff(desired, installed)
	if delta.Empty() {
		e.log.LogReconcileNoop(saveID, len(installed))
		e.mx.RecordNoop()
		return len(installed), nil
	}

	start := e.now()
	if err := e.table.ApplyDelta(ctx, delta.RemoveIDs, delta.Add); err != nil {
		return 0, fmt.Errorf("applying rule delta: %w", err)
	}
	elapsed := e.now().Sub(start)

	e.log.LogRulesApplied(saveID, len(delta.RemoveIDs), len(delta.Add), len(desired), elapsed)
	e.mx.RecordApplied(len(desired), elapsed)
	return len(desired), nil
}

// syncExpiry arms or disarms the scheduler to match the saved profile.
func (e *Engine) syncExpiry(p *profile.Profile) error {
	if p.Enabled && !p.ExpiresAt.IsZero() && p.ExpiresAt.After(e.now()) {
		if err := e.sched.Arm(p.ExpiresAt); err != nil {
			return err
		}
		e.log.LogExpiryArmed(p.ExpiresAt)
		e.mx.SetExpiryArmed(true)
		return nil
	}

	if err := e.sched.Disarm(); err != nil {
		return err
	}
	if !p.Enabled {
		e.log.LogExpiryDisarmed("profile disabled")
	} else {
		e.log.LogExpiryDisarmed("no expiry configured")
	}
	e.mx.SetExpiryArmed(false)
	return nil
}

// expireNow is the scheduler's fire handler: disable the profile, clear
// its expiry instant, persist, and reconcile the table down to zero
// rules. A returned error tells the scheduler the transition did not
// land and must be retried rather than disarmed.
func (e *Engine) expireNow() error {
	saveID := uuid.NewString()
	firedAt := e.now()

	e.lock()
	defer e.unlock()

	p, err := e.store.LoadProfile()
	if err != nil {
		e.log.LogServiceError("expiry_load_profile", err)
		return err
	}

	// A save that won the lock ahead of this callback may have replaced
	// or removed the expiry; the persisted profile is authoritative.
	if !p.Enabled || p.ExpiresAt.IsZero() || p.ExpiresAt.After(firedAt) {
		return nil
	}

	fireAt := p.ExpiresAt
	expired := &profile.Profile{
		Headers:   p.Headers,
		Domains:   p.Domains,
		MatchMode: p.MatchMode,
		Enabled:   false,
	}
	if err := e.store.SaveProfile(expired); err != nil {
		e.log.LogServiceError("expiry_save_profile", err)
		return err
	}

	if _, err := e.reconcile(context.Background(), saveID, expired); err != nil {
		e.log.LogServiceError("expiry_clear_rules", err)
		return err
	}

	var late time.Duration
	if !fireAt.IsZero() {
		late = firedAt.Sub(fireAt)
	}
	e.log.LogExpiryFired(fireAt, late)
	e.mx.RecordExpiryFired()
	e.mx.SetExpiryArmed(false)
	e.em.Emit(context.Background(), "expiry_fired", map[string]any{
		"fire_at": fireAt.UTC().Format(time.RFC3339), "late_ms": late.Milliseconds(),
	})
	return nil
}

// serviceFailure records a failed persistence or rule-table call.
func (e *Engine) serviceFailure(op string, err error) {
	e.log.LogServiceError(op, err)
	e.mx.RecordSave(metrics.SaveError)
	e.em.Emit(context.Background(), "service_error", map[string]any{
		"op": op, "error": err.Error(),
	})
}
