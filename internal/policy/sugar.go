package policy

import (
	"github.com/marcelodevops/pyretic/internal/errors"
	"github.com/marcelodevops/pyretic/internal/header"
	"github.com/marcelodevops/pyretic/internal/match"
)

// Fwd builds the common "forward out a fixed port" sugar: Modify(outport).
func Fwd(port string) *Policy {
	return Modify(map[string]any{header.OutPort: port})
}

// XFwd forwards out port unless the packet arrived on that same port,
// avoiding an immediate loopback — the derived form spec.md §3 names
// alongside Fwd.
func XFwd(port string) *Policy {
	loopback := Match(match.New(map[string]any{header.InPort: port}))
	return If(loopback, Drop(), Fwd(port))
}

// If builds If(pred, t, e) = (pred >> t) + (¬pred >> e) — the desugaring
// spec.md §4.3 describes for derived forms ("desugar once, cache"). Go's
// naming needs no trailing underscore to dodge the `if` keyword the way the
// original module-level `if_` helper did.
func If(pred, t, e *Policy) *Policy {
	if !IsFilter(pred) {
		panic(errors.Invariant(errors.KindMalformed, "filter", "if_: predicate is not a filter"))
	}
	notPred := MustNegate(pred)
	return Parallel(Sequential(pred, t), Sequential(notPred, e))
}

// Union is filter-only sugar over Parallel: the union of f1..fn.
func Union(filters ...*Policy) (*Policy, error) {
	for i, f := range filters {
		if !IsFilter(f) {
			return nil, errors.Invariantf(errors.KindMalformed, "filter", "union: operand %d is not a filter", i)
		}
	}
	return Parallel(filters...), nil
}

// Intersection is filter-only sugar over Sequential: the conjunction of
// f1..fn (sequential composition of filters intersects, since every filter
// in the chain must independently pass the packet).
func Intersection(filters ...*Policy) (*Policy, error) {
	for i, f := range filters {
		if !IsFilter(f) {
			return nil, errors.Invariantf(errors.KindMalformed, "filter", "intersection: operand %d is not a filter", i)
		}
	}
	return Sequential(filters...), nil
}

// Difference builds f1 - f2 = f1 ∧ ¬f2.
func Difference(f1, f2 *Policy) (*Policy, error) {
	if !IsFilter(f1) {
		return nil, errors.Invariant(errors.KindMalformed, "filter", "difference: first operand is not a filter")
	}
	if !IsFilter(f2) {
		return nil, errors.Invariant(errors.KindMalformed, "filter", "difference: second operand is not a filter")
	}
	return Sequential(f1, MustNegate(f2)), nil
}
