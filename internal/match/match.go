// Package match implements the finite-mapping match predicates described in
// spec.md §3-4.1: a meet-semilattice under Intersect, with CIDR containment
// semantics for srcip/dstip and plain equality everywhere else.
package match

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/marcelodevops/pyretic/internal/header"
)

// pattern is the per-field constraint a Match carries: either an equality
// value or a CIDR prefix.
type pattern struct {
	cidr  netip.Prefix
	isIP  bool
	value any
}

func (p pattern) String() string {
	if p.isIP {
		return p.cidr.String()
	}
	return fmt.Sprintf("%v", p.value)
}

// Match is a finite mapping from field name to pattern. The zero Match
// (Identity) matches every packet. DropMatch is the distinguished bottom
// element that matches nothing; it cannot be represented by any finite
// mapping of fields, so it is tracked with a flag instead.
type Match struct {
	fields map[string]pattern
	bottom bool
}

// Identity is the top element of the match lattice: it matches every packet.
var Identity = Match{}

// Drop is the bottom element: it matches no packet.
var Drop = Match{bottom: true}

// IsIdentity reports whether m is the empty, always-matching predicate.
func (m Match) IsIdentity() bool { return !m.bottom && len(m.fields) == 0 }

// IsDrop reports whether m is the bottom, never-matching predicate.
func (m Match) IsDrop() bool { return m.bottom }

// New builds a Match from field/value pairs. CIDR fields (srcip/dstip) take
// a string in CIDR or bare-IP notation; other fields take the exact
// equality value. New returns Drop (not an error) if a CIDR field's value
// fails to parse, since a predicate that cannot ever match a packet is a
// legitimate policy value (e.g. result of a prior Intersect), not a
// construction-time type error.
func New(fields map[string]any) Match {
	if len(fields) == 0 {
		return Identity
	}
	m := Match{fields: make(map[string]pattern, len(fields))}
	for k, v := range fields {
		if header.IsCIDRField(k) {
			pfx, ok := parseCIDR(v)
			if !ok {
				return Drop
			}
			m.fields[k] = pattern{cidr: pfx, isIP: true}
			continue
		}
		m.fields[k] = pattern{value: v}
	}
	return m
}

func parseCIDR(v any) (netip.Prefix, bool) {
	s, ok := v.(string)
	if !ok {
		return netip.Prefix{}, false
	}
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, false
		}
		bits := 32
		if addr.Is6() {
			bits = 128
		}
		return netip.PrefixFrom(addr, bits), true
	}
	pfx, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, false
	}
	return pfx.Masked(), true
}

// Matches reports whether pkt satisfies every field constraint in m.
func (m Match) Matches(pkt header.Packet) bool {
	if m.bottom {
		return false
	}
	for field, pat := range m.fields {
		v, ok := pkt.Get(field)
		if !ok {
			return false
		}
		if pat.isIP {
			s, ok := v.(string)
			if !ok {
				return false
			}
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return false
			}
			if !pat.cidr.Contains(addr) {
				return false
			}
			continue
		}
		if v != pat.value {
			return false
		}
	}
	return true
}

// Intersect computes the meet of a and b: per field, equality constraints
// must coincide (else the meet is Drop); CIDR constraints take the more
// specific of the two prefixes if one contains the other (else Drop).
func Intersect(a, b Match) Match {
	if a.bottom || b.bottom {
		return Drop
	}
	out := Match{fields: make(map[string]pattern, len(a.fields)+len(b.fields))}
	for k, v := range a.fields {
		out.fields[k] = v
	}
	for k, bv := range b.fields {
		av, ok := out.fields[k]
		if !ok {
			out.fields[k] = bv
			continue
		}
		merged, ok := mergePattern(av, bv)
		if !ok {
			return Drop
		}
		out.fields[k] = merged
	}
	return out
}

func mergePattern(a, b pattern) (pattern, bool) {
	if a.isIP != b.isIP {
		return pattern{}, false
	}
	if a.isIP {
		switch {
		case a.cidr == b.cidr:
			return a, true
		case a.cidr.Contains(b.cidr.Addr()) && b.cidr.Bits() >= a.cidr.Bits():
			return b, true
		case b.cidr.Contains(a.cidr.Addr()) && a.cidr.Bits() >= b.cidr.Bits():
			return a, true
		default:
			return pattern{}, false
		}
	}
	if a.value != b.value {
		return pattern{}, false
	}
	return a, true
}

// Covers returns true iff every packet matched by b is also matched by a:
// for non-IP fields a's constraints must be a subset of b's and agree where
// present; for IP fields a's CIDR must equal or contain b's.
func Covers(a, b Match) bool {
	if a.bottom {
		return b.bottom
	}
	if b.bottom {
		return true
	}
	for field, ap := range a.fields {
		bp, ok := b.fields[field]
		if !ok {
			// a constrains a field b leaves open: b matches packets a would
			// reject, so a does not cover b.
			return false
		}
		if ap.isIP {
			if !ap.cidr.Contains(bp.cidr.Addr()) || ap.cidr.Bits() > bp.cidr.Bits() {
				return false
			}
			continue
		}
		if ap.value != bp.value {
			return false
		}
	}
	return true
}

// Equal reports whether a and b denote the same predicate.
func Equal(a, b Match) bool {
	if a.bottom != b.bottom {
		return false
	}
	if a.bottom {
		return true
	}
	if len(a.fields) != len(b.fields) {
		return false
	}
	for k, av := range a.fields {
		bv, ok := b.fields[k]
		if !ok {
			return false
		}
		if av.isIP != bv.isIP {
			return false
		}
		if av.isIP {
			if av.cidr != bv.cidr {
				return false
			}
			continue
		}
		if av.value != bv.value {
			return false
		}
	}
	return true
}

// Fields returns the set of field names this match constrains.
func (m Match) Fields() []string {
	names := make([]string, 0, len(m.fields))
	for k := range m.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Get returns the raw constraint value for a field (string CIDR or the
// equality value) and whether the field is present in m.
func (m Match) Get(field string) (any, bool) {
	p, ok := m.fields[field]
	if !ok {
		return nil, false
	}
	if p.isIP {
		return p.cidr.String(), true
	}
	return p.value, true
}

// CIDR returns the parsed prefix for a CIDR field, if present.
func (m Match) CIDR(field string) (netip.Prefix, bool) {
	p, ok := m.fields[field]
	if !ok || !p.isIP {
		return netip.Prefix{}, false
	}
	return p.cidr, true
}

// RestrictByModify resolves m against a concrete field rewrite mods,
// as used when pushing Modify(mods) through a sequential classifier
// (spec.md §4.2): fields m constrains that mods also sets are checked for
// compatibility and then dropped from the result (their truth value is now
// statically known), since the packet's value on entry to the right-hand
// classifier will be mods' value, not the original packet's. The bool
// return is false iff mods makes m unsatisfiable.
func RestrictByModify(m Match, mods map[string]any) (Match, bool) {
	if m.bottom {
		return Drop, true
	}
	if len(m.fields) == 0 {
		return Identity, true
	}
	out := Match{fields: make(map[string]pattern, len(m.fields))}
	for field, pat := range m.fields {
		v, modified := mods[field]
		if !modified {
			out.fields[field] = pat
			continue
		}
		if !patternMatchesValue(pat, v) {
			return Drop, false
		}
		// resolved statically true; drop the constraint
	}
	return out, true
}

func patternMatchesValue(pat pattern, v any) bool {
	if pat.isIP {
		s, ok := v.(string)
		if !ok {
			return false
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return false
		}
		return pat.cidr.Contains(addr)
	}
	return pat.value == v
}

func (m Match) String() string {
	if m.bottom {
		return "drop"
	}
	if len(m.fields) == 0 {
		return "*"
	}
	names := m.Fields()
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", n, m.fields[n]))
	}
	return strings.Join(parts, ",")
}
