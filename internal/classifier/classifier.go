// Package classifier implements the ordered, prioritized match/action-list
// representation of a compiled policy (spec.md §3-4.2) and the algebraic
// operations — Parallel (+), Sequential (>>), Negate — that compilation
// reduces a policy tree to.
package classifier

import (
	"net/netip"
	"sort"

	"github.com/gaissmai/bart"
	"github.com/marcelodevops/pyretic/internal/action"
	"github.com/marcelodevops/pyretic/internal/errors"
	"github.com/marcelodevops/pyretic/internal/header"
	"github.com/marcelodevops/pyretic/internal/match"
	"github.com/marcelodevops/pyretic/internal/rule"
)

// Classifier is an ordered rule list under first-match semantics.
type Classifier []rule.Rule

// IdentityClassifier passes every packet unchanged.
func IdentityClassifier() Classifier {
	return Classifier{rule.New(match.Identity, action.Identity)}
}

// DropClassifier discards every packet.
func DropClassifier() Classifier {
	return Classifier{rule.New(match.Identity, action.Drop)}
}

// ControllerClassifier sends every packet to the controller.
func ControllerClassifier() Classifier {
	return Classifier{rule.New(match.Identity, action.Controller)}
}

// IsFilter reports whether every rule's actions are filter-safe
// (§3: "Filter policies never produce a modified packet").
func (c Classifier) IsFilter() bool {
	for _, r := range c {
		if !r.IsFilterSafe() {
			return false
		}
	}
	return true
}

// Parallel computes the Cartesian product of two classifiers' rule lists
// (spec.md §4.2): for each ordered pair, the match is the meet of the two
// rule matches (dropped if empty) and the action list is the concatenation,
// deduplicated. Priority is preserved by flattening in lexicographic order,
// c outer, other inner.
func Parallel(c, other Classifier) Classifier {
	if len(c) == 0 {
		return other
	}
	if len(other) == 0 {
		return c
	}
	out := make(Classifier, 0, len(c)*len(other))
	for _, r1 := range c {
		for _, r2 := range other {
			m := match.Intersect(r1.Match, r2.Match)
			if m.IsDrop() {
				continue
			}
			actions := append(append([]action.Action{}, r1.Actions...), r2.Actions...)
			out = append(out, rule.New(m, actions...))
		}
	}
	return out.Compact()
}

// ParallelAll folds Parallel over a list of classifiers; an empty list is
// Drop, the identity element of Parallel (spec.md §3, §7).
func ParallelAll(cs ...Classifier) Classifier {
	out := DropClassifier()
	for i, c := range cs {
		if i == 0 {
			out = c
			continue
		}
		out = Parallel(out, c)
	}
	if len(cs) == 0 {
		return DropClassifier()
	}
	return out
}

// Sequential computes the sequential composition c >> other (spec.md §4.2).
func Sequential(c, other Classifier) Classifier {
	if len(c) == 0 {
		return IdentityClassifier()
	}
	var out Classifier
	for _, r := range c {
		pushed := pushRuleThrough(r, other)
		out = append(out, pushed...)
	}
	return Classifier(out).Compact()
}

// SequentialAll folds Sequential over a list of classifiers; an empty list
// is Identity, the identity element of Sequential.
func SequentialAll(cs ...Classifier) Classifier {
	out := IdentityClassifier()
	for _, c := range cs {
		out = Sequential(out, c)
	}
	return out
}

// pushRuleThrough implements "push r through C2" from spec.md §4.2: each
// action in r.Actions independently produces a sub-classifier; the branches
// are merged with Parallel (since each action is an independent copy of the
// packet continuing through C2), and the whole thing is gated by r.Match.
func pushRuleThrough(r rule.Rule, c2 Classifier) Classifier {
	if len(r.Actions) == 0 {
		return nil
	}
	merged := pushActionThrough(r.Actions[0], c2)
	for _, a := range r.Actions[1:] {
		merged = Parallel(merged, pushActionThrough(a, c2))
	}
	return gateByMatch(merged, r.Match)
}

func pushActionThrough(a action.Action, c2 Classifier) Classifier {
	switch a.Kind {
	case action.KindIdentity:
		return c2
	case action.KindDrop:
		return DropClassifier()
	case action.KindController, action.KindBucket:
		return Classifier{rule.New(match.Identity, a)}
	case action.KindModify:
		return pushModifyThrough(a, c2)
	default:
		return Classifier{rule.New(match.Identity, action.Drop)}
	}
}

func pushModifyThrough(mod action.Action, c2 Classifier) Classifier {
	var out Classifier
	for _, s := range c2 {
		newMatch, ok := match.RestrictByModify(s.Match, mod.Mod)
		if !ok {
			continue
		}
		newActions := make([]action.Action, 0, len(s.Actions))
		for _, sa := range s.Actions {
			switch sa.Kind {
			case action.KindIdentity:
				newActions = append(newActions, mod)
			case action.KindDrop:
				newActions = append(newActions, action.Drop)
			case action.KindController, action.KindBucket:
				newActions = append(newActions, sa)
			case action.KindModify:
				newActions = append(newActions, action.Compose(mod, sa))
			}
		}
		out = append(out, rule.New(newMatch, newActions...))
	}
	return out
}

func gateByMatch(c Classifier, m match.Match) Classifier {
	if m.IsIdentity() {
		return c
	}
	out := make(Classifier, 0, len(c))
	for _, r := range c {
		nm := match.Intersect(m, r.Match)
		if nm.IsDrop() {
			continue
		}
		out = append(out, rule.New(nm, r.Actions...))
	}
	return out
}

// Negate is defined only for classifiers arising from filters: it swaps
// Identity and Drop action-wise, leaving matches unchanged. Encountering any
// other action kind is a compilation error: classifiers must not silently
// drop unknown actions (spec.md §7).
func Negate(c Classifier) (Classifier, error) {
	out := make(Classifier, 0, len(c))
	for _, r := range c {
		newActions := make([]action.Action, 0, len(r.Actions))
		for _, a := range r.Actions {
			switch a.Kind {
			case action.KindIdentity:
				newActions = append(newActions, action.Drop)
			case action.KindDrop:
				newActions = append(newActions, action.Identity)
			default:
				return nil, errors.Errorf(errors.KindCompilation,
					"cannot negate classifier rule with non-filter action %s", a)
			}
		}
		out = append(out, rule.New(r.Match, newActions...))
	}
	return out, nil
}

// Compact performs the redundancy elimination of spec.md §4.2: immediately
// duplicate rules collapse to one, and any rule whose match is fully
// covered by an earlier rule's match is unreachable under first-match
// semantics and is dropped.
func (c Classifier) Compact() Classifier {
	out := make(Classifier, 0, len(c))
	for _, r := range c {
		if len(out) > 0 {
			last := out[len(out)-1]
			if match.Equal(last.Match, r.Match) && rule.ActionKeys(last.Actions) == rule.ActionKeys(r.Actions) {
				continue
			}
		}
		shadowed := false
		for _, prev := range out {
			if match.Covers(prev.Match, r.Match) {
				shadowed = true
				break
			}
		}
		if shadowed {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Total reports whether the classifier has a catch-all tail rule, i.e. the
// invariant that every classifier produced by compile eventually matches
// any packet (spec.md §3).
func (c Classifier) Total() bool {
	for _, r := range c {
		if r.Match.IsIdentity() {
			return true
		}
	}
	return false
}

// Eval returns J(p)(pkt): the set of packets produced by applying the first
// matching rule's action list to pkt. A Sink, if non-nil, is also notified
// of Controller/Bucket deliveries so callers can model the full data-plane
// fate of a packet, not just its forwarded copies.
func (c Classifier) Eval(pkt header.Packet, sink Sink) []header.Packet {
	for _, r := range c {
		if !r.Match.Matches(pkt) {
			continue
		}
		var out []header.Packet
		for _, a := range r.Actions {
			switch a.Kind {
			case action.KindIdentity:
				out = append(out, pkt)
			case action.KindDrop:
				// no result
			case action.KindModify:
				out = append(out, pkt.ModifyMany(a.Mod))
			case action.KindController:
				if sink != nil {
					sink.ToController(pkt)
				}
			case action.KindBucket:
				if sink != nil {
					sink.Deliver(a.BucketID, pkt)
				}
			}
		}
		return out
	}
	return nil
}

// Sink receives the side-effecting deliveries (to the controller, or to a
// measurement bucket) that occur during Eval. internal/bucket's Registry
// implements Sink so captured packets can be wired back into buckets
// without classifier depending on bucket.
type Sink interface {
	ToController(pkt header.Packet)
	Deliver(bucketID string, pkt header.Packet)
}

// IPIndex serves classifiers with many CIDR rules on a single IP field by
// building a bart.Table keyed on that field's prefix and resolving to the
// indices of rules whose CIDR constraint could match. Eval above does not
// consult it; it is a standalone lookup over the classifier's rules.
type IPIndex struct {
	field string
	tbl   *bart.Table[[]int]
}

// BuildIPIndex indexes the positions of every rule in c that constrains
// field (srcip or dstip) by CIDR, so a lookup can skip straight to the
// candidate rule indices for a concrete address instead of scanning c in
// order. Rules with no constraint on field match every address but are not
// indexed, so Candidates never returns them.
func BuildIPIndex(c Classifier, field string) *IPIndex {
	tbl := &bart.Table[[]int]{}
	for i, r := range c {
		pfx, ok := r.Match.CIDR(field)
		if !ok {
			continue
		}
		tbl.Update(pfx, func(existing []int, found bool) []int {
			return append(existing, i)
		})
	}
	return &IPIndex{field: field, tbl: tbl}
}

// Candidates returns the rule indices (ascending) whose CIDR constraint on
// the index's field contains addr, via bart's longest-prefix-match walk
// over every covering prefix rather than scanning the classifier in order.
func (idx *IPIndex) Candidates(addr netip.Addr) []int {
	pfx := netip.PrefixFrom(addr, addr.BitLen())
	seen := make(map[int]bool)
	var out []int
	for _, indices := range idx.tbl.Supernets(pfx) {
		for _, i := range indices {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}
	sort.Ints(out)
	return out
}
