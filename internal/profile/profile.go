// Package profile defines the canonical header-override profile and its
// validation. A profile is the single user-owned configuration record:
// the header overrides to apply, the domains they are scoped to, the
// match mode, the enabled toggle, and an optional expiry instant.
//
// Validation is a pure function: identical raw input (plus the same
// reference time) always produces an identical profile or an identical
// error. Nothing here touches the store or the rule table.
package profile

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// MatchMode selects how a domain pattern is matched against request hosts.
type MatchMode string

// Match mode values as persisted and exchanged in documents.
const (
	// MatchExactHost matches the host itself and nothing else.
	MatchExactHost MatchMode = "exact_host"
	// MatchHostAndSubdomains matches the host and any subdomain of it.
	MatchHostAndSubdomains MatchMode = "host_and_subdomains"
	// MatchSubdomainsOnly matches subdomains of the host but not the
	// host itself. Incompatible with localhost and IPv4 literals.
	MatchSubdomainsOnly MatchMode = "subdomains_only"
)

// DefaultMatchMode is used when an imported document carries an
// unrecognized mode string.
const DefaultMatchMode = MatchHostAndSubdomains

// ExpiryMaxMinutes bounds the temporary-profile duration (24 hours).
const ExpiryMaxMinutes = 1440

// HeaderEntry is one header override. Key must satisfy the HTTP token
// grammar; Value must not contain CR or LF.
type HeaderEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RawInput is the unvalidated form content of a save request. DomainText
// is free text split on newlines and commas; ExpiryMinutes is the raw
// field content, blank meaning zero.
type RawInput struct {
	Headers       []HeaderEntry
	DomainText    string
	MatchMode     MatchMode
	ExpiryMinutes string
	Enabled       bool
}

// Profile is the canonical, validated configuration. It is immutable:
// every save constructs a fresh Profile, which either replaces the
// persisted one atomically or is discarded.
type Profile struct {
	Headers   []HeaderEntry
	Domains   []string // lowercase, deduplicated, sorted
	MatchMode MatchMode
	Enabled   bool
	ExpiresAt time.Time // zero when the profile is not time-boxed
}

// Disabled returns the profile a fresh install starts from.
func Disabled() *Profile {
	return &Profile{MatchMode: DefaultMatchMode}
}

// Validate normalizes and validates raw input into a canonical Profile.
// now anchors the expiry instant: a non-zero expiry-minutes field yields
// ExpiresAt = now + minutes. The first violation found is returned as a
// *ValidationError; on success the input is untouched and the returned
// profile is fully canonical.
func Validate(in RawInput, now time.Time) (*Profile, error) {
	headers, err := validateHeaders(in.Headers)
	if err != nil {
		return nil, err
	}

	switch in.MatchMode {
	case MatchExactHost, MatchHostAndSubdomains, MatchSubdomainsOnly:
	default:
		return nil, &ValidationError{Code: CodeInvalidMatchMode, Field: "domainMatchMode", Value: string(in.MatchMode)}
	}

	domains, err := validateDomains(in.DomainText, in.MatchMode)
	if err != nil {
		return nil, err
	}

	minutes, err := parseExpiryMinutes(in.ExpiryMinutes)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		Headers:   headers,
		Domains:   domains,
		MatchMode: in.MatchMode,
		Enabled:   in.Enabled,
	}
	if minutes > 0 {
		p.ExpiresAt = now.Add(time.Duration(minutes) * time.Minute)
	}
	return p, nil
}

// validateHeaders trims, drops blank template rows, and checks the token
// grammar, CR/LF freedom, and case-insensitive key uniqueness.
func validateHeaders(raw []HeaderEntry) ([]HeaderEntry, error) {
	headers := make([]HeaderEntry, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for _, h := range raw {
		key := strings.TrimSpace(h.Key)
		value := strings.TrimSpace(h.Value)

		// A fully blank row is a leftover form template row, not an error.
		if key == "" && value == "" {
			continue
		}
		if key == "" || value == "" {
			return nil, &ValidationError{Code: CodeEmptyField, Field: "headers", Value: key + value}
		}
		if !isToken(key) {
			return nil, &ValidationError{Code: CodeInvalidHeaderName, Field: "headers", Value: key}
		}
		if strings.ContainsAny(value, "\r\n") {
			return nil, &ValidationError{Code: CodeInvalidHeaderValue, Field: "headers", Value: key}
		}
		folded := strings.ToLower(key)
		if _, dup := seen[folded]; dup {
			return nil, &ValidationError{Code: CodeDuplicateHeaderKey, Field: "headers", Value: key}
		}
		seen[folded] = struct{}{}
		headers = append(headers, HeaderEntry{Key: key, Value: value})
	}
	return headers, nil
}

// validateDomains splits raw domain text on newlines and commas, trims,
// lowercases, de-duplicates, and checks each token against the restricted
// host grammar. The result is sorted so rule compilation is stable.
func validateDomains(text string, mode MatchMode) ([]string, error) {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})

	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		d := NormalizeDomain(tok)
		if d == "" {
			continue
		}
		if !ValidDomainPattern(d) {
			return nil, &ValidationError{Code: CodeInvalidDomainPattern, Field: "domains", Value: d}
		}
		if mode == MatchSubdomainsOnly {
			host := strings.TrimPrefix(d, "*.")
			// No subdomains exist under localhost or an IPv4 literal.
			if host == "localhost" || isIPv4(host) {
				return nil, &ValidationError{Code: CodeUnsupportedModeForDomain, Field: "domains", Value: d}
			}
		}
		set[d] = struct{}{}
	}

	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains, nil
}

// parseExpiryMinutes parses the expiry-minutes field. Blank means zero.
func parseExpiryMinutes(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > ExpiryMaxMinutes {
		return 0, &ValidationError{Code: CodeInvalidExpiryMinutes, Field: "temporaryMinutes", Value: s}
	}
	return n, nil
}

// isToken reports whether s satisfies the RFC 7230 token grammar
// (visible ASCII excluding delimiters). Header field names must be tokens.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
