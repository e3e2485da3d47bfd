// Package vfield implements the virtual-field bijection of spec.md §4.8:
// logical per-packet fields with no physical header slot (like path_tag)
// are packed, alongside each other, into the real vlan_id/vlan_pcp bits
// registered at runtime, so the data plane never needs wire support for
// them.
package vfield

import (
	"math/bits"
	"sync"

	"github.com/marcelodevops/pyretic/internal/errors"
	"github.com/marcelodevops/pyretic/internal/header"
)

// totalBits is the combined width of vlan_id (12 bits) and vlan_pcp (3
// bits), the only physical space virtual fields can borrow.
const totalBits = 15

const (
	vlanIDBits  = 12
	vlanPCPBits = 3
)

type field struct {
	name      string
	numValues int
	bitWidth  int
	shift     int
}

// Registry tracks every virtual field registered so far and their bit
// assignment within the combined VLAN address space. Registration order is
// significant: it determines each field's slice, so fields must be
// registered consistently across a process's lifetime (spec.md §4.8
// "registered at runtime").
type Registry struct {
	mu        sync.Mutex
	fields    map[string]*field
	order     []string
	totalBits int
}

// NewRegistry builds an empty virtual field registry.
func NewRegistry() *Registry {
	return &Registry{fields: make(map[string]*field)}
}

// Register declares a virtual field whose value ranges over
// 0..numValues-1 (exclusive upper bound), e.g. a path_tag field with one
// value per DFA state. It allocates the field a fixed bit slice in the
// combined vlan_id/vlan_pcp address space and fails if the 15 available
// bits are exhausted. Re-registering an already-registered field with the
// same domain size is a no-op; a differing domain size is an error, since
// shifting a live field's bit assignment would silently corrupt any
// already-installed rules.
func (r *Registry) Register(name string, numValues int) error {
	if numValues <= 0 {
		return errors.Errorf(errors.KindMalformed, "vfield: %s: numValues must be positive, got %d", name, numValues)
	}
	width := bitWidth(numValues)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.fields[name]; ok {
		if existing.numValues != numValues {
			return errors.Errorf(errors.KindMalformed, "vfield: %s: already registered with domain size %d, cannot change to %d", name, existing.numValues, numValues)
		}
		return nil
	}
	if r.totalBits+width > totalBits {
		return errors.Errorf(errors.KindUnavailable, "vfield: %s: needs %d bits but only %d of %d remain", name, width, totalBits-r.totalBits, totalBits)
	}

	r.fields[name] = &field{name: name, numValues: numValues, bitWidth: width, shift: r.totalBits}
	r.order = append(r.order, name)
	r.totalBits += width
	return nil
}

func bitWidth(numValues int) int {
	if numValues <= 1 {
		return 1
	}
	return bits.Len(uint(numValues - 1))
}

// Fields lists registered virtual field names in registration order.
func (r *Registry) Fields() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.order...)
}

// IsVirtual reports whether name is a registered virtual field.
func (r *Registry) IsVirtual(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.fields[name]
	return ok
}

// Compress packs values (field name -> integer value) into one combined
// word using each field's registered bit slice. A field absent from values
// contributes 0.
func (r *Registry) Compress(values map[string]any) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	combined := 0
	for name, raw := range values {
		f, ok := r.fields[name]
		if !ok {
			return 0, errors.Errorf(errors.KindMalformed, "vfield: %s is not a registered virtual field", name)
		}
		v, err := toInt(raw)
		if err != nil {
			return 0, errors.Wrapf(err, errors.KindMalformed, "vfield: %s", name)
		}
		if v < 0 || v >= f.numValues {
			return 0, errors.Errorf(errors.KindMalformed, "vfield: %s: value %d outside domain 0..%d", name, v, f.numValues)
		}
		combined |= v << f.shift
	}
	return combined, nil
}

// Expand reverses Compress, splitting a combined word back into its
// per-field integer values.
func (r *Registry) Expand(combined int) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.fields))
	for name, f := range r.fields {
		mask := (1 << f.bitWidth) - 1
		out[name] = (combined >> f.shift) & mask
	}
	return out
}

// MapToVLAN splits a combined word into the two physical fields it rides
// on the wire as.
func MapToVLAN(combined int) map[string]any {
	return map[string]any{
		header.VLANID:  combined & ((1 << vlanIDBits) - 1),
		header.VLANPCP: (combined >> vlanIDBits) & ((1 << vlanPCPBits) - 1),
	}
}

// FromVLAN reassembles the combined word from a packet's physical VLAN
// fields.
func FromVLAN(vlanID, vlanPCP int) int {
	return (vlanID & ((1 << vlanIDBits) - 1)) | ((vlanPCP & ((1 << vlanPCPBits) - 1)) << vlanIDBits)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case nil:
		return 0, nil
	default:
		return 0, errors.Errorf(errors.KindMalformed, "vfield: value %v is not an integer", v)
	}
}

// TranslateMatch splits a user-supplied match field map into the subset
// that names real, compilable headers (passed through unchanged) and the
// subset that names virtual fields, which is compressed and folded into
// vlan_id/vlan_pcp match constraints (spec.md §4.8: "_match ... translate[s]
// any user-supplied non-compilable field name into a VLAN-space match").
// A nil value for a virtual field (the "unset" wildcard pyretic modify
// uses to mean "no tag") is treated as 0 and still participates in the
// VLAN-space equality constraint: callers that want an unconstrained VLAN
// match should omit the field entirely rather than pass nil.
func (r *Registry) TranslateMatch(fields map[string]any) (map[string]any, error) {
	return r.translate(fields)
}

// TranslateModify splits a user-supplied modify field map the same way
// TranslateMatch does. Pyretic's _modify shares the identical translation
// logic as _match; the original's split into two methods only reflects
// that match/modify are different language.Policy subclasses, not a
// difference in the virtual-field bijection itself.
func (r *Registry) TranslateModify(fields map[string]any) (map[string]any, error) {
	return r.translate(fields)
}

func (r *Registry) translate(fields map[string]any) (map[string]any, error) {
	compilable := make(map[string]any)
	virtual := make(map[string]any)
	for name, v := range fields {
		if header.IsCompilable(name) {
			compilable[name] = v
			continue
		}
		virtual[name] = v
	}
	if len(virtual) == 0 {
		return compilable, nil
	}
	combined, err := r.Compress(virtual)
	if err != nil {
		return nil, err
	}
	for k, v := range MapToVLAN(combined) {
		compilable[k] = v
	}
	return compilable, nil
}
