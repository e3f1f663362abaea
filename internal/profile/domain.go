package profile

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeDomain canonicalizes one raw domain token: Unicode NFC
// normalization (pasted hostnames from rich-text sources arrive in
// decomposed form), whitespace trimming, and lowercasing. Returns ""
// for a blank token.
func NormalizeDomain(tok string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(tok)))
}

// ValidDomainPattern reports whether d (already normalized) satisfies the
// restricted host grammar: a bare hostname, an IPv4 literal, or a
// wildcard hostname of the form *.host. localhost is always valid.
func ValidDomainPattern(d string) bool {
	host := d
	if strings.HasPrefix(d, "*.") {
		// Wildcard applies to hostnames only; *.1.2.3.4 is meaningless.
		host = d[2:]
		if isIPv4(host) {
			return false
		}
	}
	if host == "localhost" {
		return true
	}
	if isIPv4(host) {
		return true
	}
	return isHostname(host)
}

// isHostname checks the restricted label grammar: dot-separated labels of
// [a-z0-9-], not starting or ending with a hyphen, at most 63 bytes each,
// 253 bytes total.
func isHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}

// isIPv4 reports whether host is a dotted-quad IPv4 literal with each
// octet in [0, 255] and no leading zeros.
func isIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		if len(p) > 1 && p[0] == '0' {
			return false
		}
		n := 0
		for i := 0; i < len(p); i++ {
			c := p[i]
			if c < '0' || c > '9' {
				return false
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}
