// Package rule defines the Rule type compiled classifiers are built from: a
// match predicate paired with an ordered action list (spec.md §3).
package rule

import (
	"strings"

	"github.com/marcelodevops/pyretic/internal/action"
	"github.com/marcelodevops/pyretic/internal/match"
)

type Rule struct {
	Match   match.Match
	Actions []action.Action
}

// New constructs a rule, deduplicating its action list per §4.2.
func New(m match.Match, actions ...action.Action) Rule {
	return Rule{Match: m, Actions: action.DedupActions(actions)}
}

// IsFilterSafe reports whether every action in the rule is filter-safe.
func (r Rule) IsFilterSafe() bool {
	for _, a := range r.Actions {
		if !a.IsFilterSafe() {
			return false
		}
	}
	return true
}

// ActionKeys returns the canonical action-list key used to compare two
// rules' action lists for equality regardless of slice identity.
func ActionKeys(actions []action.Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = a.Key()
	}
	return strings.Join(parts, "|")
}

func (r Rule) String() string {
	parts := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		parts[i] = a.String()
	}
	return r.Match.String() + " -> [" + strings.Join(parts, ", ") + "]"
}
