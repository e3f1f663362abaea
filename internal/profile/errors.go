package profile

import "fmt"

// Code identifies a validation failure class. Codes are stable strings
// exposed over the API so a client can map them to form fields.
type Code string

// Validation failure codes.
const (
	CodeEmptyField               Code = "empty_field"
	CodeInvalidHeaderName        Code = "invalid_header_name"
	CodeInvalidHeaderValue       Code = "invalid_header_value"
	CodeDuplicateHeaderKey       Code = "duplicate_header_key"
	CodeInvalidDomainPattern     Code = "invalid_domain_pattern"
	CodeUnsupportedModeForDomain Code = "unsupported_mode_for_domain"
	CodeInvalidExpiryMinutes     Code = "invalid_expiry_minutes"
	CodeInvalidMatchMode         Code = "invalid_match_mode"
)

// ValidationError is a user-correctable input error. It is never retried
// and never causes persisted or installed state to change.
type ValidationError struct {
	Code  Code
	Field string // document field the error belongs to
	Value string // offending token, header key, or raw field content
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Code)
	}
	return fmt.Sprintf("%s: %s (%q)", e.Field, e.Code, e.Value)
}
