// Package token implements the disjoint filter-symbolization generator of
// spec.md §4.5: a per-token-type bijection between small printable
// characters and filter predicates, maintaining the invariant that every
// token type's leaf tokens map to mutually disjoint filters whose union
// still reaches every packet originally registered.
package token

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marcelodevops/pyretic/internal/action"
	"github.com/marcelodevops/pyretic/internal/compiler"
	"github.com/marcelodevops/pyretic/internal/errors"
	"github.com/marcelodevops/pyretic/internal/policy"
)

// Type names the five path-atom roles a token may belong to (spec.md §4.5).
type Type string

const (
	Ingress Type = "ingress"
	Egress  Type = "egress"
	Drop    Type = "drop"
	EndPath Type = "end_path"
	Hook    Type = "ingress_hook"
)

// startValue is the first character code handed out, chosen (per the
// original) so tokens render as inspectable printable ASCII.
const startValue = 48

// metacharacters must never be handed out as tokens since path regexes
// interpret them structurally.
var metacharacters = map[rune]bool{}

func init() {
	for _, c := range "*+|{}()-^.&?\"'%$,/\\=><" {
		metacharacters[c] = true
	}
}

type typeState struct {
	filterToToken map[string]rune   // canonical filter key -> token
	tokenToFilter map[rune]*policy.Policy
	tokenToAlias  map[rune][]rune // token -> expansion, when it was split
}

func newTypeState() *typeState {
	return &typeState{
		filterToToken: make(map[string]rune),
		tokenToFilter: make(map[rune]*policy.Policy),
		tokenToAlias:  make(map[rune][]rune),
	}
}

// Generator is the per-process token allocator. It is not safe for
// concurrent use without external synchronization, mirroring the
// single-threaded path-compilation arena of spec.md §5.
type Generator struct {
	compiler *compiler.Compiler
	next     rune

	types       map[Type]*typeState
	tokenType   map[rune]Type
}

// NewGenerator allocates a token Generator. c is used to test filter
// intersection emptiness by compiling Sequential(a, b) and checking whether
// any surviving rule carries a non-Drop action.
func NewGenerator(c *compiler.Compiler) *Generator {
	return &Generator{
		compiler:  c,
		next:      startValue,
		types:     make(map[Type]*typeState),
		tokenType: make(map[rune]Type),
	}
}

func (g *Generator) ensureType(t Type) *typeState {
	ts, ok := g.types[t]
	if !ok {
		ts = newTypeState()
		g.types[t] = ts
	}
	return ts
}

func (g *Generator) newChar() rune {
	for {
		c := g.next
		g.next++
		if !metacharacters[c] {
			return c
		}
	}
}

// GetToken returns the token character for filter f under toktype,
// allocating and splitting existing tokens as needed to preserve
// disjointness (spec.md §4.5). Returns the same token on a repeated call
// with an equal filter.
func (g *Generator) GetToken(toktype Type, f *policy.Policy) (rune, error) {
	ts := g.ensureType(toktype)
	key := filterKey(f)
	if tok, ok := ts.filterToToken[key]; ok {
		return tok, nil
	}
	return g.addNewFilter(toktype, f)
}

// addNewFilter implements the original's __add_new_filter: it repartitions
// every existing token whose filter overlaps f so the result stays
// pairwise disjoint, reusing tokens that are already fully contained in f.
func (g *Generator) addNewFilter(toktype Type, f *policy.Policy) (rune, error) {
	ts := g.ensureType(toktype)

	existing := make(map[rune]*policy.Policy, len(ts.tokenToFilter))
	for tok, ef := range ts.tokenToFilter {
		existing[tok] = ef
	}
	// iterate in a stable order so repeated runs over the same inputs
	// produce the same token allocation.
	toks := make([]rune, 0, len(existing))
	for tok := range existing {
		toks = append(toks, tok)
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })

	var diffParts []*policy.Policy
	var intersecting []rune

	for _, tok := range toks {
		ef := existing[tok]
		overlap, err := g.intersects(ef, f)
		if err != nil {
			return 0, err
		}
		if !overlap {
			continue
		}
		notF, err := policy.Negate(f)
		if err != nil {
			return 0, err
		}
		partial, err := g.intersects(ef, notF)
		if err != nil {
			return 0, err
		}
		if partial {
			delete(ts.filterToToken, filterKey(ef))
			delete(ts.tokenToFilter, tok)
			left := policy.Sequential(ef, notF)
			right := policy.Sequential(ef, f)
			tok1 := g.addLeafToken(toktype, left)
			tok2 := g.addLeafToken(toktype, right)
			ts.tokenToAlias[tok] = []rune{tok1, tok2}
			intersecting = append(intersecting, tok2)
		} else {
			intersecting = append(intersecting, tok)
		}
		diffParts = append(diffParts, ef)
	}

	if len(diffParts) == 0 {
		return g.addLeafToken(toktype, f), nil
	}

	diffUnion := policy.Parallel(diffParts...)
	notDiff, err := policy.Negate(diffUnion)
	if err != nil {
		return 0, err
	}
	residualOverlap, err := g.intersects(f, notDiff)
	if err != nil {
		return 0, err
	}

	aliasTok := g.newChar()
	members := append([]rune{}, intersecting...)
	if residualOverlap {
		residual := policy.Sequential(f, notDiff)
		members = append(members, g.addLeafToken(toktype, residual))
	}
	ts.tokenToAlias[aliasTok] = members
	g.tokenType[aliasTok] = toktype
	return aliasTok, nil
}

func (g *Generator) addLeafToken(toktype Type, f *policy.Policy) rune {
	ts := g.ensureType(toktype)
	tok := g.newChar()
	ts.filterToToken[filterKey(f)] = tok
	ts.tokenToFilter[tok] = f
	g.tokenType[tok] = toktype
	return tok
}

func (g *Generator) intersects(a, b *policy.Policy) (bool, error) {
	cls, err := g.compiler.Compile(policy.Sequential(a, b))
	if err != nil {
		return false, err
	}
	for _, r := range cls {
		for _, act := range r.Actions {
			if act.Kind == action.KindIdentity {
				return true, nil
			}
		}
	}
	return false, nil
}

// FilterFromToken resolves a token back to its filter, expanding alias
// tokens (those produced by a split) into the Parallel union of their
// leaf members.
func (g *Generator) FilterFromToken(toktype Type, tok rune) (*policy.Policy, error) {
	ts := g.ensureType(toktype)
	if f, ok := ts.tokenToFilter[tok]; ok {
		return f, nil
	}
	members, ok := ts.tokenToAlias[tok]
	if !ok {
		return nil, errors.Errorf(errors.KindMalformed, "token: unknown token %q for type %s", tok, toktype)
	}
	parts := make([]*policy.Policy, 0, len(members))
	for _, m := range members {
		f, err := g.FilterFromToken(toktype, m)
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}
	return policy.Parallel(parts...), nil
}

// TypeOf reports which Type a previously allocated token belongs to.
func (g *Generator) TypeOf(tok rune) (Type, bool) {
	t, ok := g.tokenType[tok]
	return t, ok
}

// FilterFromLabel decodes a path-DFA edge label (a string of tokens,
// possibly spanning several toktypes) into a per-toktype filter map,
// negating every component when negated is true (spec.md §4.7 step 4).
func (g *Generator) FilterFromLabel(label string, negated bool) (map[Type]*policy.Policy, error) {
	out := make(map[Type]*policy.Policy)
	for _, c := range label {
		toktype, ok := g.TypeOf(c)
		if !ok {
			return nil, errors.Errorf(errors.KindMalformed, "token: unrecognized token %q in edge label", c)
		}
		f, err := g.FilterFromToken(toktype, c)
		if err != nil {
			return nil, err
		}
		if existing, ok := out[toktype]; ok {
			out[toktype] = policy.Parallel(existing, f)
		} else {
			out[toktype] = f
		}
	}
	if !negated {
		return out, nil
	}
	negatedOut := make(map[Type]*policy.Policy, len(out))
	for t, f := range out {
		nf, err := policy.Negate(f)
		if err != nil {
			return nil, err
		}
		negatedOut[t] = nf
	}
	return negatedOut, nil
}

// TerminalExpression rewrites a regex written over possibly-aliased tokens
// into one over only leaf tokens, expanding every aliased character into a
// parenthesized alternation of its current components (spec.md §4.5). Regex
// metacharacters in expr pass through unchanged.
func (g *Generator) TerminalExpression(toktype Type, expr string) string {
	ts := g.ensureType(toktype)
	var b strings.Builder
	for _, c := range expr {
		if metacharacters[c] {
			b.WriteRune(c)
			continue
		}
		b.WriteString(g.expandChar(ts, c))
	}
	return b.String()
}

// Expand is TerminalExpression without a fixed toktype: every character's
// type is looked up individually, so a regex spanning several toktypes
// (as a path query built from mixed atom kinds does) can still be reduced
// to leaf tokens in one pass (spec.md §4.5, §4.7 step 1).
func (g *Generator) Expand(expr string) string {
	var b strings.Builder
	for _, c := range expr {
		if metacharacters[c] {
			b.WriteRune(c)
			continue
		}
		toktype, ok := g.TypeOf(c)
		if !ok {
			b.WriteRune(c)
			continue
		}
		b.WriteString(g.expandChar(g.ensureType(toktype), c))
	}
	return b.String()
}

func (g *Generator) expandChar(ts *typeState, c rune) string {
	members, ok := ts.tokenToAlias[c]
	if !ok {
		return string(c)
	}
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = g.expandChar(ts, m)
	}
	return "(" + strings.Join(parts, "|") + ")"
}

// filterKey builds a canonical string for a filter policy so structurally
// equal filters built from separate construction call sites still dedupe
// to the same token. Only the constructors token callers actually use
// (Identity, Drop, Match, Negate, Parallel, Sequential) are covered.
func filterKey(p *policy.Policy) string {
	switch p.Kind() {
	case policy.KindIdentity:
		return "id"
	case policy.KindDrop:
		return "drop"
	case policy.KindController:
		return "ctrl"
	case policy.KindMatch:
		return "match:" + p.MatchValue().String()
	case policy.KindNegate:
		return "neg(" + filterKey(p.Inner()) + ")"
	case policy.KindParallel:
		return joinKeys("par", p.Items())
	case policy.KindSequential:
		return joinKeys("seq", p.Items())
	default:
		return fmt.Sprintf("ptr:%p", p)
	}
}

func joinKeys(op string, items []*policy.Policy) string {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = filterKey(it)
	}
	return op + "(" + strings.Join(keys, ",") + ")"
}
