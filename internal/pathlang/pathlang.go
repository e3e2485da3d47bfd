// Package pathlang implements the path-query algebra of spec.md §4.6: path
// atoms over the five token types and the concatenation/alternation/Kleene
// star combinators used to build regular expressions of located-packet
// events. The combinators only ever manipulate the character expression a
// query compiles to; internal/pathcompiler turns the finished expression
// into a DFA and network policy.
package pathlang

import (
	"strings"

	"github.com/marcelodevops/pyretic/internal/policy"
	"github.com/marcelodevops/pyretic/internal/token"
)

// BucketHandle is the narrow interface a finalized path query needs from a
// bucket: just enough to be named as a compiled policy leaf. Avoids a
// dependency from this package on internal/bucket's concrete types.
type BucketHandle interface {
	BucketID() string
}

// Kind tags the shape of a Path node.
type Kind int

const (
	KindAtom Kind = iota
	KindEgressAtom
	KindDropAtom
	KindEndPath
	KindHook
	KindConcat
	KindAlternate
	KindStar
)

// Path is one node of a path-query expression tree. Every Path knows how to
// render itself as a token-character regex (Expr); atoms and hooks also
// carry the filter and token(s) they were built from.
type Path struct {
	kind Kind

	filter       *policy.Policy // atom/egress/drop/endpath/hook
	tok          rune
	groupby      []string
	groupbyToken rune

	children []*Path // concat/alternate
	inner    *Path   // star

	bucket BucketHandle
}

// Bucket returns the bucket this query's matches should be delivered to,
// or nil if none has been assigned yet.
func (p *Path) Bucket() BucketHandle { return p.bucket }

// SetBucket assigns the bucket the compiled query delivers to. Unlike the
// original, a Path does not implicitly own a default FwdBucket at
// construction time: the caller (config.Build, for one, before Finalize)
// must assign one explicitly, since bucket construction
// here requires a Prometheus registerer the algebra layer has no business
// holding.
func (p *Path) SetBucket(b BucketHandle) { p.bucket = b }

// Filter returns the match predicate an atom/hook/end_path node was built
// from. It panics on combinator nodes, which have no single filter.
func (p *Path) Filter() *policy.Policy {
	if p.filter == nil {
		panic("pathlang: Filter called on a non-leaf path node")
	}
	return p.filter
}

// Token returns the token character a leaf node compiled to.
func (p *Path) Token() rune { return p.tok }

// Groupby returns the field names a hook groups captured packets by.
func (p *Path) Groupby() []string { return p.groupby }

// newAtom builds a leaf Path of the given kind, resolving its token via gen.
func newAtom(kind Kind, gen *token.Generator, toktype token.Type, f *policy.Policy) (*Path, error) {
	tok, err := gen.GetToken(toktype, f)
	if err != nil {
		return nil, err
	}
	return &Path{kind: kind, filter: f, tok: tok}, nil
}

// Atom matches a single packet at a switch ingress port.
func Atom(gen *token.Generator, f *policy.Policy) (*Path, error) {
	return newAtom(KindAtom, gen, token.Ingress, f)
}

// EgressAtom matches a packet after the forwarding decision has been made,
// i.e. on the hop a packet takes out of a switch rather than in.
func EgressAtom(gen *token.Generator, f *policy.Policy) (*Path, error) {
	return newAtom(KindEgressAtom, gen, token.Egress, f)
}

// DropAtom matches a packet dropped by the forwarding policy.
func DropAtom(gen *token.Generator, f *policy.Policy) (*Path, error) {
	return newAtom(KindDropAtom, gen, token.Drop, f)
}

// EndPath matches a packet that has reached the end of its simulated path
// (egressed the network).
func EndPath(gen *token.Generator, f *policy.Policy) (*Path, error) {
	return newAtom(KindEndPath, gen, token.EndPath, f)
}

// Hook is like Atom but additionally groups captured packets by the given
// field names, so per-group statistics can be told apart downstream.
func Hook(gen *token.Generator, f *policy.Policy, groupby []string) (*Path, error) {
	if len(groupby) == 0 {
		panic("pathlang: Hook requires at least one groupby field")
	}
	tok, err := gen.GetToken(token.Ingress, f)
	if err != nil {
		return nil, err
	}
	groupbyTok, err := gen.GetToken(token.Hook, policy.Identity())
	if err != nil {
		return nil, err
	}
	return &Path{kind: KindHook, filter: f, tok: tok, groupby: groupby, groupbyToken: groupbyTok}, nil
}

// And intersects two leaf nodes of the same kind (atom & atom, hook & hook,
// ...). It panics if p and other are not the same concrete atom kind,
// mirroring the original's type-asserting __and__.
func And(gen *token.Generator, p, other *Path) (*Path, error) {
	requireSameLeafKind(p, other)
	f := policy.Sequential(p.filter, other.filter)
	if p.kind == KindHook {
		if !sameGroupby(p.groupby, other.groupby) {
			panic("pathlang: And requires hooks to share a groupby")
		}
		return Hook(gen, f, p.groupby)
	}
	return newAtom(p.kind, gen, toktypeOf(p.kind), f)
}

// Sub builds the atom matching p's filter but not other's (p & ~other).
func Sub(gen *token.Generator, p, other *Path) (*Path, error) {
	requireSameLeafKind(p, other)
	notOther, err := policy.Negate(other.filter)
	if err != nil {
		return nil, err
	}
	f := policy.Sequential(notOther, p.filter)
	if p.kind == KindHook {
		if !sameGroupby(p.groupby, other.groupby) {
			panic("pathlang: Sub requires hooks to share a groupby")
		}
		return Hook(gen, f, p.groupby)
	}
	return newAtom(p.kind, gen, toktypeOf(p.kind), f)
}

// Invert builds the atom matching the complement of p's filter.
func Invert(gen *token.Generator, p *Path) (*Path, error) {
	notF, err := policy.Negate(p.filter)
	if err != nil {
		return nil, err
	}
	if p.kind == KindHook {
		return Hook(gen, notF, p.groupby)
	}
	return newAtom(p.kind, gen, toktypeOf(p.kind), notF)
}

func requireSameLeafKind(p, other *Path) {
	if p.kind != other.kind {
		panic("pathlang: operands must be the same atom kind")
	}
}

func sameGroupby(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toktypeOf(k Kind) token.Type {
	switch k {
	case KindAtom, KindHook:
		return token.Ingress
	case KindEgressAtom:
		return token.Egress
	case KindDropAtom:
		return token.Drop
	case KindEndPath:
		return token.EndPath
	default:
		panic("pathlang: toktypeOf called on a non-leaf kind")
	}
}

// Or alternates two path expressions: either may match. Two atoms of the
// same concrete kind union their filters directly instead of producing an
// Alternate node, matching the original's special-cased atom|atom.
func Or(gen *token.Generator, p, other *Path) (*Path, error) {
	if isLeaf(p) && isLeaf(other) && p.kind == other.kind {
		f := policy.Parallel(p.filter, other.filter)
		if p.kind == KindHook {
			if !sameGroupby(p.groupby, other.groupby) {
				panic("pathlang: Or requires hooks to share a groupby")
			}
			return Hook(gen, f, p.groupby)
		}
		return newAtom(p.kind, gen, toktypeOf(p.kind), f)
	}
	return Alternate(p, other), nil
}

func isLeaf(p *Path) bool {
	switch p.kind {
	case KindAtom, KindEgressAtom, KindDropAtom, KindEndPath, KindHook:
		return true
	default:
		return false
	}
}

// Concat builds the path that matches each of paths in sequence.
func Concat(paths ...*Path) *Path {
	return &Path{kind: KindConcat, children: paths}
}

// Alternate builds the path that matches any one of paths.
func Alternate(paths ...*Path) *Path {
	return &Path{kind: KindAlternate, children: paths}
}

// Star builds the Kleene closure of p: zero or more repetitions.
func Star(p *Path) *Path {
	return &Path{kind: KindStar, inner: p}
}

// Expr renders p as a token-character regular expression, exactly the
// grammar internal/pathcompiler's regex-to-DFA step consumes.
func (p *Path) Expr() string {
	switch p.kind {
	case KindAtom, KindEgressAtom, KindDropAtom, KindEndPath:
		return string(p.tok)
	case KindHook:
		return string(p.tok) + "(" + string(p.groupbyToken) + "?)"
	case KindConcat:
		var b strings.Builder
		for _, c := range p.children {
			b.WriteString(c.Expr())
		}
		return b.String()
	case KindAlternate:
		if len(p.children) == 0 {
			return ""
		}
		if len(p.children) == 1 {
			return p.children[0].Expr()
		}
		parts := make([]string, len(p.children))
		for i, c := range p.children {
			parts[i] = "(" + c.Expr() + ")"
		}
		return "(" + strings.Join(parts, "|") + ")"
	case KindStar:
		return "(" + p.inner.Expr() + ")*"
	default:
		panic("pathlang: Expr called on unknown kind")
	}
}
