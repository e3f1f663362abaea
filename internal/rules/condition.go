// Package rules compiles a validated profile into the desired set of
// declarative filter rules and diffs that set against the installed one.
//
// A leading "*." wildcard marker on a domain is stripped before
// compilation regardless of match mode: the marker only signals which
// modes are meaningful to the user, not the normalized host the filter
// anchors on. Under exact_host mode an explicit wildcard domain is
// therefore matched as the bare host — a known quirk kept for
// compatibility with existing profiles.
package rules

import (
	"regexp"
	"strings"

	"github.com/luckyPipewrench/headerlock/internal/profile"
)

// ConditionKind tags the Condition variant.
type ConditionKind string

// Condition variants.
const (
	// KindGlobal matches every request.
	KindGlobal ConditionKind = "global"
	// KindHostPrefix anchors a normalized host as a prefix filter. The
	// "||host^" anchor style matches the host, any port or path under
	// it, and any subdomain sharing the suffix.
	KindHostPrefix ConditionKind = "host_prefix"
	// KindAnchoredPattern matches the full request URL against an
	// anchored regular expression.
	KindAnchoredPattern ConditionKind = "anchored_pattern"
)

// Scope narrows an anchored pattern.
type Scope string

// Anchored-pattern scopes.
const (
	ScopeExactHost  Scope = "exact_host"
	ScopeSubdomains Scope = "subdomains_only"
)

// Condition is the URL-matching side of a filter rule. Exactly one
// variant is populated; Filter is set for host_prefix, Regex and Scope
// for anchored_pattern, neither for global. Resource-type scope is
// always "all known resource types" and is never narrowed, so it does
// not appear here.
type Condition struct {
	Kind   ConditionKind `json:"kind"`
	Filter string        `json:"filter,omitempty"`
	Regex  string        `json:"regex,omitempty"`
	Scope  Scope         `json:"scope,omitempty"`
}

// Global returns the match-everything condition.
func Global() Condition {
	return Condition{Kind: KindGlobal}
}

// CompileCondition turns one domain pattern and a match mode into a URL
// condition. The host is regexp-escaped before insertion into a pattern
// so dots in hostnames and IPv4 literals stay literal.
func CompileCondition(domain string, mode profile.MatchMode) Condition {
	host := strings.TrimPrefix(domain, "*.")

	switch mode {
	case profile.MatchHostAndSubdomains:
		// The rule table's "||" anchor already includes subdomain
		// matching for this prefix style; "^" bounds the host so
		// example.com does not match example.com.evil.net.
		return Condition{Kind: KindHostPrefix, Filter: "||" + host + "^"}

	case profile.MatchSubdomainsOnly:
		return Condition{
			Kind:  KindAnchoredPattern,
			Regex: `^https?://([a-z0-9-]+\.)+` + regexp.QuoteMeta(host) + `(:\d+)?(/|$)`,
			Scope: ScopeSubdomains,
		}

	default: // profile.MatchExactHost
		return Condition{
			Kind:  KindAnchoredPattern,
			Regex: `^https?://` + regexp.QuoteMeta(host) + `(:\d+)?(/|$)`,
			Scope: ScopeExactHost,
		}
	}
}
