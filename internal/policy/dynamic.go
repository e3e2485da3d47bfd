package policy

import "reflect"

func reflectFuncPointer(f func()) uintptr {
	return reflect.ValueOf(f).Pointer()
}

// DynamicPolicy is a node whose inner policy may be replaced at runtime.
// Replacement publishes a change event to every listener registered by an
// ancestor (typically the compiler), which null their cached classifiers
// (spec.md §3 Lifecycles, §4.3). Listener edges are conceptually a
// parent-held weak reference (spec.md §9); in Go we model that as a plain
// callback list the dynamic node owns, rather than reaching for a
// GC-observable weak pointer. The compiler registers one listener per
// dynamic node and never unregisters it.
type DynamicPolicy struct {
	*Policy
}

// NewDynamic wraps an initial policy in a dynamic node.
func NewDynamic(initial *Policy) *DynamicPolicy {
	return &DynamicPolicy{
		Policy: &Policy{
			kind: KindDynamic,
			dyn:  &dynamicState{policy: initial},
		},
	}
}

func (d *dynamicState) current() *Policy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.policy
}

// Current returns the node's current inner policy.
func (d *DynamicPolicy) Current() *Policy {
	return d.dyn.current()
}

// Listen registers a callback invoked synchronously whenever the dynamic
// policy's inner value changes, before Set returns.
func (d *DynamicPolicy) Listen(cb func()) {
	d.dyn.mu.Lock()
	defer d.dyn.mu.Unlock()
	d.dyn.listeners = append(d.dyn.listeners, cb)
}

// Unlisten removes a previously registered callback. Callbacks are compared
// by the code pointer reflect reports for the func value, so every
// registered closure created from the same function literal as cb is
// removed along with it.
func (d *DynamicPolicy) Unlisten(cb func()) {
	d.dyn.mu.Lock()
	defer d.dyn.mu.Unlock()
	filtered := d.dyn.listeners[:0]
	target := reflectFuncPointer(cb)
	for _, l := range d.dyn.listeners {
		if reflectFuncPointer(l) != target {
			filtered = append(filtered, l)
		}
	}
	d.dyn.listeners = filtered
}

// Set replaces the inner policy and fires every listener synchronously
// (§5: "must happen-before the next compile() call that observes it").
func (d *DynamicPolicy) Set(p *Policy) {
	d.dyn.mu.Lock()
	d.dyn.policy = p
	listeners := append([]func(){}, d.dyn.listeners...)
	d.dyn.mu.Unlock()

	for _, cb := range listeners {
		cb()
	}
}
