// Package pathcompiler implements spec.md §4.7: merging finalized path
// queries into a disjoint regex set, compiling that set to a DFA, and
// stitching the resulting tagging/untagging/capture fragments onto a
// forwarding policy.
package pathcompiler

import (
	"fmt"
	"sync"

	"github.com/marcelodevops/pyretic/internal/dfa"
	"github.com/marcelodevops/pyretic/internal/match"
	"github.com/marcelodevops/pyretic/internal/pathlang"
	"github.com/marcelodevops/pyretic/internal/policy"
	"github.com/marcelodevops/pyretic/internal/token"
	"github.com/marcelodevops/pyretic/internal/vfield"
)

// PathTagField is the virtual field the compiled DFA's current state rides
// in, registered against vfield at GetPolicyFragments time once the final
// state count is known.
const PathTagField = "path_tag"

// Runtime supplies the two network-shape facts path compilation needs from
// outside the core, matching spec.md §6's topology_policy/egress_policy
// external interface.
type Runtime interface {
	// TopologyPolicy models one hop of movement across the network.
	TopologyPolicy() *policy.Policy
	// EgressPolicy is a filter true exactly at locations packets leave the
	// network from.
	EgressPolicy() *policy.Policy
}

type entry struct {
	dfa   *dfa.DFA
	label string
	paths []*pathlang.Path
}

// Registry accumulates finalized path queries into a disjoint regex set
// (spec.md §4.7 step 1-2), replacing the original's re_list/paths_list
// class-level globals with an explicit, instantiable value.
type Registry struct {
	mu      sync.Mutex
	tokens  *token.Generator
	vfields *vfield.Registry
	entries []*entry
}

// NewRegistry builds an empty path-query registry sharing tokens (for
// decoding atom filters) and vfields (for installing path_tag) with the
// rest of the compilation pipeline.
func NewRegistry(tokens *token.Generator, vfields *vfield.Registry) *Registry {
	return &Registry{tokens: tokens, vfields: vfields}
}

// Finalize adds p to the query set, repartitioning any existing entry that
// overlaps p's expression so every entry's automaton stays disjoint
// (spec.md §4.7 step 2, grounded on the original's
// append_re_without_intersection — reimplemented over compiled automata
// rather than regex-string set-algebra, since Go's regexp has no
// intersection/complement operators to shell out to).
func (r *Registry) Finalize(p *pathlang.Path) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	terminal := r.tokens.Expand(p.Expr())
	newD, err := dfa.Compile([]string{terminal})
	if err != nil {
		return err
	}
	r.appendWithoutIntersection(newD, terminal, p)
	return nil
}

func (r *Registry) appendWithoutIntersection(newD *dfa.DFA, newExpr string, p *pathlang.Path) {
	var diffPieces []*dfa.DFA

	for _, e := range r.entries {
		orig := e.dfa
		if dfa.BelongsTo(orig, newD) && dfa.BelongsTo(newD, orig) {
			// exact duplicate of an already-registered expression
			e.paths = append(e.paths, p)
			return
		}
		if dfa.BelongsTo(orig, newD) {
			// existing is a strict subset of new: it stays addressable on
			// its own, but its packets are also now claimed by p.
			e.paths = append(e.paths, p)
			diffPieces = append(diffPieces, orig)
			continue
		}
		if !dfa.HasNonemptyIntersection(orig, newD) {
			continue
		}
		// partial overlap: split existing into (existing & ~new), kept at
		// this slot, and (existing & new), appended as a fresh entry whose
		// paths now include p alongside everyone existing already served.
		alphabet := append(append([]rune{}, orig.Alphabet()...), newD.Alphabet()...)
		notNew := dfa.Complement(newD, alphabet)
		left := dfa.Intersect(orig, notNew)
		right := dfa.Intersect(orig, newD)
		e.dfa = left
		e.label = fmt.Sprintf("split(%s)", e.label)
		r.entries = append(r.entries, &entry{
			dfa:   right,
			label: fmt.Sprintf("overlap(%s,%s)", e.label, newExpr),
			paths: append(append([]*pathlang.Path{}, e.paths...), p),
		})
		diffPieces = append(diffPieces, orig)
	}

	if len(diffPieces) == 0 {
		r.entries = append(r.entries, &entry{dfa: newD, label: newExpr, paths: []*pathlang.Path{p}})
		return
	}

	covered := dfa.Union(diffPieces)
	alphabet := append(append([]rune{}, covered.Alphabet()...), newD.Alphabet()...)
	residual := dfa.Intersect(newD, dfa.Complement(covered, alphabet))
	if dfa.IsEmpty(residual) {
		// new was already fully covered by entries handled above
		return
	}
	r.entries = append(r.entries, &entry{dfa: residual, label: fmt.Sprintf("residual(%s)", newExpr), paths: []*pathlang.Path{p}})
}

// Fragments are the five policy pieces get_policy_fragments in the
// original yields: a critical-path tagging policy, an untagging policy
// applied once packets leave the network, and one capture policy per
// toktype that can terminate a trail (spec.md §4.7 step 5).
type Fragments struct {
	Tagging   *policy.Policy
	Untagging *policy.Policy
	Ingress   *policy.Policy
	EndPath   *policy.Policy
	Drop      *policy.Policy
}

// GetPolicyFragments compiles the accumulated registry into a single DFA
// and walks its edges to synthesize Fragments (spec.md §4.7 steps 3-5).
func (r *Registry) GetPolicyFragments(rt Runtime) (Fragments, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return Fragments{
			Tagging:   policy.Identity(),
			Untagging: policy.Identity(),
			Ingress:   policy.Drop(),
			EndPath:   policy.Drop(),
			Drop:      policy.Drop(),
		}, nil
	}

	dfas := make([]*dfa.DFA, len(r.entries))
	for i, e := range r.entries {
		dfas[i] = e.dfa
	}
	combined := dfa.Union(dfas)

	if err := r.vfields.Register(PathTagField, combined.NumStates()); err != nil {
		return Fragments{}, err
	}

	tagging := policy.Drop()
	untagged := policy.Identity()
	capture := map[token.Type]*policy.Policy{
		token.Ingress: policy.Drop(),
		token.EndPath: policy.Drop(),
		token.Drop:    policy.Drop(),
	}

	for _, e := range combined.Edges() {
		transit, err := r.tokens.FilterFromLabel(e.Label, e.Negated)
		if err != nil {
			return Fragments{}, err
		}

		if ingressFilter, ok := transit[token.Ingress]; ok {
			srcTag, err := r.matchTag(int(e.Src))
			if err != nil {
				return Fragments{}, err
			}
			tagMatch := policy.Sequential(srcTag, ingressFilter)
			dstSet, err := r.setTag(int(e.Dst))
			if err != nil {
				return Fragments{}, err
			}
			tagging = policy.Parallel(tagging, policy.Sequential(tagMatch, dstSet))
			notTagMatch, err := policy.Negate(tagMatch)
			if err != nil {
				return Fragments{}, err
			}
			untagged = policy.Sequential(untagged, notTagMatch)
		}

		if !combined.IsAccepting(e.Dst) {
			continue
		}
		idx := combined.AcceptedPattern(e.Dst)
		for _, p := range r.entries[idx].paths {
			if p.Bucket() == nil {
				continue
			}
			// All three bucket-leaf kinds compile to the identical
			// action.Bucket(id); FwdBucket is used here purely as the
			// constructor, not to assert the bucket is a FwdBucket.
			deliver := policy.FwdBucket(p.Bucket())
			for _, toktype := range []token.Type{token.Ingress, token.EndPath, token.Drop} {
				transitFilter, ok := transit[toktype]
				if !ok {
					continue
				}
				srcTag, err := r.matchTag(int(e.Src))
				if err != nil {
					return Fragments{}, err
				}
				fragment := policy.Sequential(policy.Sequential(srcTag, transitFilter), deliver)
				capture[toktype] = policy.Parallel(capture[toktype], fragment)
			}
		}
	}

	tagging = policy.Parallel(tagging, untagged)

	egress := rt.EgressPolicy()
	notEgress, err := policy.Negate(egress)
	if err != nil {
		return Fragments{}, err
	}
	clearTag, err := r.setTag(0)
	if err != nil {
		return Fragments{}, err
	}
	untagging := policy.Parallel(policy.Sequential(egress, clearTag), notEgress)

	return Fragments{
		Tagging:   tagging,
		Untagging: untagging,
		Ingress:   capture[token.Ingress],
		EndPath:   capture[token.EndPath],
		Drop:      capture[token.Drop],
	}, nil
}

// Stitch combines a forwarding policy with the compiled path-query
// fragments into the network's effective policy (spec.md §4.7 step 6):
// the critical forwarding path tagged on ingress, plus capture at ingress,
// plus capture at end-of-path once packets re-tagged by forwarding reach
// the network egress. Drop-atom capture is not stitched in, matching a
// limitation the original explicitly carries forward (no general way to
// reconstruct "dropped by forwarding" without re-deriving the stitched
// policy on every install).
func (r *Registry) Stitch(forwarding *policy.Policy, rt Runtime) (*policy.Policy, error) {
	frags, err := r.GetPolicyFragments(rt)
	if err != nil {
		return nil, err
	}
	return policy.Parallel(
		policy.Sequential(frags.Tagging, forwarding),
		frags.Ingress,
		policy.Sequential(frags.Tagging, forwarding, rt.EgressPolicy(), frags.EndPath),
	), nil
}

func (r *Registry) matchTag(state int) (*policy.Policy, error) {
	fields, err := r.vfields.TranslateMatch(map[string]any{PathTagField: state})
	if err != nil {
		return nil, err
	}
	return policy.Match(match.New(fields)), nil
}

func (r *Registry) setTag(state int) (*policy.Policy, error) {
	fields, err := r.vfields.TranslateModify(map[string]any{PathTagField: state})
	if err != nil {
		return nil, err
	}
	return policy.Modify(fields), nil
}
