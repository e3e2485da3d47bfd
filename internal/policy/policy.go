// Package policy implements the polymorphic policy algebra of spec.md §3:
// filters, modifications, parallel/sequential composition, negation,
// derived forms, and dynamic policies. Dynamic dispatch over the AST is
// done with a tagged variant (Kind) rather than a class hierarchy, per
// spec.md §9.
package policy

import (
	"sync"

	"github.com/marcelodevops/pyretic/internal/errors"
	"github.com/marcelodevops/pyretic/internal/match"
)

type Kind int

const (
	KindIdentity Kind = iota
	KindDrop
	KindController
	KindMatch
	KindModify
	KindParallel
	KindSequential
	KindNegate
	KindDynamic
	KindFwdBucket
	KindPathBucket
	KindCountBucket
)

// BucketHandle is the narrow interface a bucket leaf needs from
// internal/bucket; it avoids an import cycle (bucket does not need to know
// about the AST) while letting compiler/pathcompiler key rules on a stable
// bucket identity.
type BucketHandle interface {
	BucketID() string
}

// Policy is a node of the policy AST. Every node is immutable once
// constructed except DynamicPolicy, whose inner policy may be swapped at
// runtime (§3 Lifecycles). Node identity (pointer equality) is what the
// compiler memoizes on, so policy trees must be built once and shared, not
// rebuilt per use.
type Policy struct {
	kind Kind

	match  match.Match    // KindMatch
	mod    map[string]any // KindModify
	items  []*Policy      // KindParallel / KindSequential
	inner  *Policy        // KindNegate
	bucket BucketHandle   // Kind*Bucket

	dyn *dynamicState // KindDynamic
}

type dynamicState struct {
	mu        sync.Mutex
	policy    *Policy
	listeners []func()
}

func leaf(k Kind) *Policy { return &Policy{kind: k} }

var (
	// Identity passes every packet through unchanged.
	identitySingleton = leaf(KindIdentity)
	// Drop discards every packet.
	dropSingleton = leaf(KindDrop)
	// Controller sends every packet to the controller.
	controllerSingleton = leaf(KindController)
)

func Identity() *Policy   { return identitySingleton }
func Drop() *Policy       { return dropSingleton }
func Controller() *Policy { return controllerSingleton }

func (p *Policy) Kind() Kind { return p.kind }

// Match builds a filter that passes packets matching m unchanged.
func Match(m match.Match) *Policy {
	return &Policy{kind: KindMatch, match: m}
}

// Modify builds a policy that rewrites the named fields.
func Modify(fields map[string]any) *Policy {
	return &Policy{kind: KindModify, mod: fields}
}

// Parallel composes policies so every packet is independently evaluated by
// each and the results are unioned. Parallel() is Drop, its identity
// element (spec.md §3, §7).
func Parallel(items ...*Policy) *Policy {
	if len(items) == 0 {
		return Drop()
	}
	if len(items) == 1 {
		return items[0]
	}
	return &Policy{kind: KindParallel, items: items}
}

// Sequential composes policies so packets flow through each in order.
// Sequential() is Identity, its identity element.
func Sequential(items ...*Policy) *Policy {
	if len(items) == 0 {
		return Identity()
	}
	if len(items) == 1 {
		return items[0]
	}
	return &Policy{kind: KindSequential, items: items}
}

// Negate builds ¬f. It is only meaningful when f is a filter; construction
// fails immediately rather than compiling into undefined behavior.
func Negate(f *Policy) (*Policy, error) {
	if !IsFilter(f) {
		return nil, errors.Invariant(errors.KindMalformed, "filter", "negate: operand is not a filter")
	}
	return &Policy{kind: KindNegate, inner: f}, nil
}

// MustNegate panics on a malformed negation; for use by combinator sugar
// where the caller has already ensured f is a filter.
func MustNegate(f *Policy) *Policy {
	p, err := Negate(f)
	if err != nil {
		panic(err)
	}
	return p
}

// IsFilter reports whether p's classifier can only ever emit
// Identity/Drop actions: Identity, Drop, Match, Negate-of-filter, and
// Parallel/Sequential compositions of filters are filters; Controller,
// Modify, and bucket leaves are not (Controller and buckets are terminal
// sinks, not pass-through filters).
func IsFilter(p *Policy) bool {
	switch p.kind {
	case KindIdentity, KindDrop, KindMatch:
		return true
	case KindNegate:
		return IsFilter(p.inner)
	case KindParallel, KindSequential:
		for _, item := range p.items {
			if !IsFilter(item) {
				return false
			}
		}
		return true
	case KindDynamic:
		return IsFilter(p.dyn.current())
	default:
		return false
	}
}

// Items returns the child policies of a Parallel/Sequential node.
func (p *Policy) Items() []*Policy { return p.items }

// Inner returns the operand of a Negate node.
func (p *Policy) Inner() *Policy { return p.inner }

// MatchValue returns the predicate of a Match node.
func (p *Policy) MatchValue() match.Match { return p.match }

// ModFields returns the rewrite map of a Modify node.
func (p *Policy) ModFields() map[string]any { return p.mod }

// Bucket returns the bucket handle of a *Bucket leaf.
func (p *Policy) Bucket() BucketHandle { return p.bucket }

// FwdBucket builds a query leaf that compiles to a Bucket(b) action rather
// than the Controller action; classifier evaluation delivers matching
// packets to b through its Sink (spec.md §4.3, §4.4).
func FwdBucket(b BucketHandle) *Policy {
	return &Policy{kind: KindFwdBucket, bucket: b}
}

// PathBucket builds a query leaf that captures packets for trajectory
// reconstruction.
func PathBucket(b BucketHandle) *Policy {
	return &Policy{kind: KindPathBucket, bucket: b}
}

// CountBucket builds a query leaf compiled as a counting rule against
// switch flow entries.
func CountBucket(b BucketHandle) *Policy {
	return &Policy{kind: KindCountBucket, bucket: b}
}
