// Package audit provides structured JSON audit logging for all
// headerlock events.
package audit

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// sanitizeString strips control characters and ANSI escape sequences
// from a string before logging. Header values and domain patterns are
// user input; a crafted value must not inject terminal escapes into a
// tailed audit log.
func sanitizeString(s string) string {
	// Fast path: most strings have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if r != '\t' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of audit event.
type EventType string

// Event type constants for structured audit log entries.
const (
	EventSaveApplied    EventType = "save_applied"
	EventSaveRejected   EventType = "save_rejected"
	EventRulesApplied   EventType = "rules_applied"
	EventReconcileNoop  EventType = "reconcile_noop"
	EventExpiryArmed    EventType = "expiry_armed"
	EventExpiryDisarmed EventType = "expiry_disarmed"
	EventExpiryFired    EventType = "expiry_fired"
	EventImport         EventType = "profile_import"
	EventProfileReload  EventType = "profile_reload"
	EventServiceError   EventType = "service_error"
)

// Logger handles structured audit logging using zerolog.
type Logger struct {
	zl         zerolog.Logger
	fileHandle *os.File // non-nil if logging to file
}

// New creates a new audit logger. format is "json" or "text"; output is
// "stdout", "file", or "both". The caller should call Close when done.
func New(format, output, filePath string) (*Logger, error) {
	var writers []io.Writer

	if output == "stdout" || output == "both" {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "headerlock").
		Logger()

	return &Logger{zl: zl, fileHandle: fileHandle}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// LogSaveApplied logs a successfully validated and persisted save.
func (l *Logger) LogSaveApplied(saveID string, headerCount, domainCount, ruleCount int, enabled bool, expiresAt time.Time) {
	ev := l.zl.Info().
		Str("event", string(EventSaveApplied)).
		Str("save_id", saveID).
		Int("headers", headerCount).
		Int("domains", domainCount).
		Int("rules", ruleCount).
		Bool("enabled", enabled)
	if !expiresAt.IsZero() {
		ev = ev.Time("expires_at", expiresAt)
	}
	ev.Msg("profile saved")
}

// LogSaveRejected logs a save that failed validation.
func (l *Logger) LogSaveRejected(saveID, code, field, value string) {
	l.zl.Warn().
		Str("event", string(EventSaveRejected)).
		Str("save_id", saveID).
		Str("code", code).
		Str("field", field).
		Str("value", sanitizeString(value)).
		Msg("profile save rejected")
}

// LogRulesApplied logs a reconciliation that changed the rule table.
func (l *Logger) LogRulesApplied(saveID string, removed, added, installed int, duration time.Duration) {
	l.zl.Info().
		Str("event", string(EventRulesApplied)).
		Str("save_id", saveID).
		Int("removed", removed).
		Int("added", added).
		Int("installed", installed).
		Dur("duration_ms", duration).
		Msg("rule delta applied")
}

// LogReconcileNoop logs a reconciliation whose delta was empty, meaning
// no call reached the rule table.
func (l *Logger) LogReconcileNoop(saveID string, installed int) {
	l.zl.Debug().
		Str("event", string(EventReconcileNoop)).
		Str("save_id", saveID).
		Int("installed", installed).
		Msg("rule table already converged")
}

// LogExpiryArmed logs a scheduled expiry.
func (l *Logger) LogExpiryArmed(fireAt time.Time) {
	l.zl.Info().
		Str("event", string(EventExpiryArmed)).
		Time("fire_at", fireAt).
		Msg("expiry armed")
}

// LogExpiryDisarmed logs a cleared expiry.
func (l *Logger) LogExpiryDisarmed(reason string) {
	l.zl.Info().
		Str("event", string(EventExpiryDisarmed)).
		Str("reason", reason).
		Msg("expiry disarmed")
}

// LogExpiryFired logs the expiry transition. late is how far past the
// scheduled instant the fire ran; a large value means the process was
// asleep at the instant and caught up on start.
func (l *Logger) LogExpiryFired(fireAt time.Time, late time.Duration) {
	l.zl.Info().
		Str("event", string(EventExpiryFired)).
		Time("fire_at", fireAt).
		Dur("late_ms", late).
		Msg("profile expired")
}

// LogImport logs a profile document import.
func (l *Logger) LogImport(saveID string, headerCount, domainCount int) {
	l.zl.Info().
		Str("event", string(EventImport)).
		Str("save_id", saveID).
		Int("headers", headerCount).
		Int("domains", domainCount).
		Msg("profile imported")
}

// LogProfileReload logs a profile file change picked up by the watcher.
func (l *Logger) LogProfileReload(status, detail string) {
	l.zl.Info().
		Str("event", string(EventProfileReload)).
		Str("status", status).
		Str("detail", sanitizeString(detail)).
		Msg("profile file reloaded")
}

// LogServiceError logs a persistence or rule-table failure.
func (l *Logger) LogServiceError(op string, err error) {
	l.zl.Error().
		Str("event", string(EventServiceError)).
		Str("op", op).
		Err(err).
		Msg("service call failed")
}

// LogStartup logs that the daemon has started.
func (l *Logger) LogStartup(listenAddr, dbPath string) {
	l.zl.Info().
		Str("event", "startup").
		Str("listen", listenAddr).
		Str("db", dbPath).
		Msg("headerlock started")
}

// LogShutdown logs that the daemon is shutting down.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", "shutdown").
		Str("reason", reason).
		Msg("headerlock stopping")
}

// With returns a sub-logger that includes the given key-value pair in
// every entry. The sub-logger shares the parent's file handle; only the
// root logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Close cleans up the logger, flushing and closing any open file
// handles. Idempotent.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
