package notify

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Emitter fans out lifecycle events to multiple sinks. All methods are
// safe for concurrent use, and a nil *Emitter is a valid no-op: callers
// never need to guard emission sites.
type Emitter struct {
	mu         sync.RWMutex
	sinks      []Sink
	instanceID string
}

// NewEmitter creates an Emitter that sends events to all provided sinks.
func NewEmitter(instanceID string, sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:      append([]Sink(nil), sinks...),
		instanceID: instanceID,
	}
}

// Emit sends an event to all sinks with severity looked up from
// EventSeverity; unknown event types default to SeverityInfo. Errors
// from individual sinks are logged and otherwise ignored — a broken
// webhook must never fail a save.
func (e *Emitter) Emit(ctx context.Context, eventType string, fields map[string]any) {
	if e == nil {
		return
	}

	sev, ok := EventSeverity[eventType]
	if !ok {
		sev = SeverityInfo
	}

	var copied map[string]any
	if fields != nil {
		copied = make(map[string]any, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
	}

	event := Event{
		Severity:   sev,
		Type:       eventType,
		Timestamp:  time.Now(),
		InstanceID: e.instanceID,
		Fields:     copied,
	}

	e.mu.RLock()
	sinks := e.sinks
	e.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Emit(ctx, event); err != nil {
			fmt.Fprintf(os.Stderr, "notify: sink error (event=%s): %v\n", eventType, err)
		}
	}
}

// Close closes all sinks and returns the first error encountered.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	sinks := e.sinks
	e.sinks = nil
	e.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
