package rules

import "github.com/luckyPipewrench/headerlock/internal/profile"

// OpSet is the only header operation the compiler emits: replace the
// request header with the configured value, adding it when absent.
const OpSet = "set"

// DefaultPriority is assigned to every compiled rule. There is exactly
// one profile, so rules never need to outrank each other.
const DefaultPriority = 1

// HeaderAction is one header mutation carried by a rule.
type HeaderAction struct {
	Name      string `json:"name"`
	Operation string `json:"operation"`
	Value     string `json:"value"`
}

// Rule is one declarative filter rule as installed in the rule table.
// ID is a deterministic function of the rule's position in the desired
// set: re-compiling the same profile yields byte-identical rules, which
// is what lets the reconciler detect "no change".
type Rule struct {
	ID        int            `json:"id"`
	Priority  int            `json:"priority"`
	Actions   []HeaderAction `json:"actions"`
	Condition Condition      `json:"condition"`
}

// Compile produces the full desired rule set for a profile:
//
//   - disabled profile or no headers: no rules
//   - no domains: one global rule, id 1
//   - otherwise: one rule per domain in the profile's (sorted) domain
//     order, ids 1..N
//
// Every rule in one compile carries the identical header-action list.
func Compile(p *profile.Profile) []Rule {
	if !p.Enabled || len(p.Headers) == 0 {
		return nil
	}

	actions := make([]HeaderAction, len(p.Headers))
	for i, h := range p.Headers {
		actions[i] = HeaderAction{Name: h.Key, Operation: OpSet, Value: h.Value}
	}

	if len(p.Domains) == 0 {
		return []Rule{{
			ID:        1,
			Priority:  DefaultPriority,
			Actions:   actions,
			Condition: Global(),
		}}
	}

	out := make([]Rule, len(p.Domains))
	for i, d := range p.Domains {
		out[i] = Rule{
			ID:        i + 1,
			Priority:  DefaultPriority,
			Actions:   actions,
			Condition: CompileCondition(d, p.MatchMode),
		}
	}
	return out
}
