// Package notify forwards headerlock lifecycle events to external
// systems. The audit log is the durable record; notify is the push
// channel for operators who want a webhook or syslog line when the
// profile changes or expires.
package notify

import (
	"os"
	"strings"
	"time"
)

// Severity represents the importance level of a notification event.
type Severity int

const (
	SeverityInfo     Severity = iota // normal operations
	SeverityWarn                     // rejected input, expiry transitions, service errors
	SeverityCritical                 // state the daemon could not keep consistent
)

// String returns the lowercase string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// ParseSeverity converts a string to a Severity level. The comparison is
// case-insensitive; unrecognized values map to SeverityInfo.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "warn":
		return SeverityWarn
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event is a structured lifecycle event for external emission.
type Event struct {
	Severity   Severity
	Type       string // event type ("save_applied", "expiry_fired", ...)
	Timestamp  time.Time
	InstanceID string         // headerlock instance identifier
	Fields     map[string]any // structured fields from the emitting call
}

// DefaultInstanceID returns the hostname or "headerlock" as fallback.
func DefaultInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "headerlock"
}

// EventSeverity maps event type strings to their severity level.
// Severity is fixed per type; users control the emission threshold.
var EventSeverity = map[string]Severity{
	// Warn: the profile stopped doing what the user last asked for, or
	// input was refused.
	"save_rejected": SeverityWarn,
	"expiry_fired":  SeverityWarn,

	// Critical: a persistence or rule-table call failed, so durable and
	// installed state may have needed a rollback.
	"service_error": SeverityCritical,

	// Info: normal operations.
	"save_applied":    SeverityInfo,
	"rules_applied":   SeverityInfo,
	"reconcile_noop":  SeverityInfo,
	"expiry_armed":    SeverityInfo,
	"expiry_disarmed": SeverityInfo,
	"profile_import":  SeverityInfo,
	"profile_reload":  SeverityInfo,
	"startup":         SeverityInfo,
	"shutdown":        SeverityInfo,
}
