package rules

import (
	"regexp"
	"testing"

	"github.com/luckyPipewrench/headerlock/internal/profile"
)

func mustCompile(t *testing.T, pattern string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(pattern)
	if err != nil {
		t.Fatalf("compiling %q: %v", pattern, err)
	}
	return re
}

func enabledProfile(domains ...string) *profile.Profile {
	return &profile.Profile{
		Headers:   []profile.HeaderEntry{{Key: "X-Test", Value: "1"}},
		Domains:   domains,
		MatchMode: profile.MatchHostAndSubdomains,
		Enabled:   true,
	}
}

func TestCompileDisabled(t *testing.T) {
	p := enabledProfile("example.com")
	p.Enabled = false
	if got := Compile(p); got != nil {
		t.Errorf("Compile(disabled) = %v, want nil", got)
	}
}

func TestCompileNoHeaders(t *testing.T) {
	p := enabledProfile("example.com")
	p.Headers = nil
	if got := Compile(p); got != nil {
		t.Errorf("Compile(no headers) = %v, want nil", got)
	}
}

func TestCompileGlobal(t *testing.T) {
	got := Compile(enabledProfile())
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	r := got[0]
	if r.ID != 1 || r.Priority != DefaultPriority {
		t.Errorf("rule = %+v", r)
	}
	if r.Condition.Kind != KindGlobal {
		t.Errorf("condition = %+v, want global", r.Condition)
	}
	if len(r.Actions) != 1 || r.Actions[0].Operation != OpSet || r.Actions[0].Name != "X-Test" {
		t.Errorf("actions = %+v", r.Actions)
	}
}

func TestCompilePerDomainIDs(t *testing.T) {
	got := Compile(enabledProfile("a.com", "b.com", "c.com"))
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, r := range got {
		if r.ID != i+1 {
			t.Errorf("rule[%d].ID = %d, want %d", i, r.ID, i+1)
		}
		if r.Condition.Filter != "||"+[]string{"a.com", "b.com", "c.com"}[i]+"^" {
			t.Errorf("rule[%d].Filter = %q", i, r.Condition.Filter)
		}
	}
}

func TestCompileDeterministic(t *testing.T) {
	p := enabledProfile("b.com", "a.com")
	a := Compile(p)
	b := Compile(p)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if Fingerprint(a[i]) != Fingerprint(b[i]) || a[i].ID != b[i].ID {
			t.Errorf("rule %d differs between compiles", i)
		}
	}
}

func TestCompileCondition(t *testing.T) {
	tests := []struct {
		name       string
		domain     string
		mode       profile.MatchMode
		wantKind   ConditionKind
		wantFilter string
		wantRegex  string
		wantScope  Scope
	}{
		{
			name:       "host and subdomains uses prefix anchor",
			domain:     "example.com",
			mode:       profile.MatchHostAndSubdomains,
			wantKind:   KindHostPrefix,
			wantFilter: "||example.com^",
		},
		{
			name:       "wildcard marker stripped",
			domain:     "*.example.com",
			mode:       profile.MatchHostAndSubdomains,
			wantKind:   KindHostPrefix,
			wantFilter: "||example.com^",
		},
		{
			name:      "exact host anchors scheme and boundary",
			domain:    "example.com",
			mode:      profile.MatchExactHost,
			wantKind:  KindAnchoredPattern,
			wantRegex: `^https?://example\.com(:\d+)?(/|$)`,
			wantScope: ScopeExactHost,
		},
		{
			name:      "exact host escapes ipv4 dots",
			domain:    "192.168.1.10",
			mode:      profile.MatchExactHost,
			wantKind:  KindAnchoredPattern,
			wantRegex: `^https?://192\.168\.1\.10(:\d+)?(/|$)`,
			wantScope: ScopeExactHost,
		},
		{
			name:      "subdomains only requires a label before host",
			domain:    "example.com",
			mode:      profile.MatchSubdomainsOnly,
			wantKind:  KindAnchoredPattern,
			wantRegex: `^https?://([a-z0-9-]+\.)+example\.com(:\d+)?(/|$)`,
			wantScope: ScopeSubdomains,
		},
		{
			name:      "wildcard stripped under exact host",
			domain:    "*.example.com",
			mode:      profile.MatchExactHost,
			wantKind:  KindAnchoredPattern,
			wantRegex: `^https?://example\.com(:\d+)?(/|$)`,
			wantScope: ScopeExactHost,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompileCondition(tt.domain, tt.mode)
			if got.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", got.Kind, tt.wantKind)
			}
			if got.Filter != tt.wantFilter {
				t.Errorf("filter = %q, want %q", got.Filter, tt.wantFilter)
			}
			if got.Regex != tt.wantRegex {
				t.Errorf("regex = %q, want %q", got.Regex, tt.wantRegex)
			}
			if got.Scope != tt.wantScope {
				t.Errorf("scope = %q, want %q", got.Scope, tt.wantScope)
			}
		})
	}
}

func TestAnchoredPatternMatching(t *testing.T) {
	// The emitted regexes are consumed by the rule-table service; sanity
	// check their boundaries against representative URLs here.
	tests := []struct {
		name  string
		cond  Condition
		url   string
		match bool
	}{
		{"exact host matches root", CompileCondition("example.com", profile.MatchExactHost), "https://example.com/", true},
		{"exact host matches port", CompileCondition("example.com", profile.MatchExactHost), "http://example.com:8080/x", true},
		{"exact host matches bare", CompileCondition("example.com", profile.MatchExactHost), "https://example.com", true},
		{"exact host rejects subdomain", CompileCondition("example.com", profile.MatchExactHost), "https://api.example.com/", false},
		{"exact host rejects suffix spoof", CompileCondition("example.com", profile.MatchExactHost), "https://example.com.evil.net/", false},
		{"subdomains matches one level", CompileCondition("example.com", profile.MatchSubdomainsOnly), "https://api.example.com/", true},
		{"subdomains matches two levels", CompileCondition("example.com", profile.MatchSubdomainsOnly), "https://a.b.example.com/", true},
		{"subdomains rejects apex", CompileCondition("example.com", profile.MatchSubdomainsOnly), "https://example.com/", false},
		{"subdomains rejects spoof", CompileCondition("example.com", profile.MatchSubdomainsOnly), "https://api.example.com.evil.net/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cond.Kind != KindAnchoredPattern {
				t.Fatalf("condition = %+v, want anchored pattern", tt.cond)
			}
			re := mustCompile(t, tt.cond.Regex)
			if got := re.MatchString(tt.url); got != tt.match {
				t.Errorf("%q matches %q = %v, want %v", tt.cond.Regex, tt.url, got, tt.match)
			}
		})
	}
}
