package rules

import (
	"encoding/json"
	"sort"
)

// Delta is the minimal operation transforming the installed rule set
// into the desired one. RemoveIDs is sorted; Add preserves desired
// order.
type Delta struct {
	RemoveIDs []int
	Add       []Rule
}

// Empty reports whether applying the delta would change nothing. An
// empty delta must result in zero calls to the rule-table service.
func (d Delta) Empty() bool {
	return len(d.RemoveIDs) == 0 && len(d.Add) == 0
}

// Diff pairs desired and installed rules by id and compares each pair
// by serialized equality of priority, header actions, and condition.
// Rules are always regenerated whole from the profile, so structural
// equality on the serialized form is sufficient; no field-by-field
// semantic diffing.
func Diff(desired, installed []Rule) Delta {
	desiredByID := make(map[int]Rule, len(desired))
	for _, r := range desired {
		desiredByID[r.ID] = r
	}
	installedByID := make(map[int]Rule, len(installed))
	for _, r := range installed {
		installedByID[r.ID] = r
	}

	var delta Delta
	for _, cur := range installed {
		want, ok := desiredByID[cur.ID]
		if !ok || Fingerprint(want) != Fingerprint(cur) {
			delta.RemoveIDs = append(delta.RemoveIDs, cur.ID)
		}
	}
	sort.Ints(delta.RemoveIDs)

	for _, want := range desired {
		cur, ok := installedByID[want.ID]
		if !ok || Fingerprint(want) != Fingerprint(cur) {
			delta.Add = append(delta.Add, want)
		}
	}
	return delta
}

// Fingerprint serializes the identity-free part of a rule (priority,
// actions, condition) for equality checks. encoding/json emits struct
// fields in declaration order, so the form is canonical.
func Fingerprint(r Rule) string {
	payload := struct {
		Priority  int            `json:"priority"`
		Actions   []HeaderAction `json:"actions"`
		Condition Condition      `json:"condition"`
	}{r.Priority, r.Actions, r.Condition}
	b, _ := json.Marshal(payload) //nolint:errcheck // no unmarshalable types
	return string(b)
}
