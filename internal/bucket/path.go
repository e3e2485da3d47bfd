package bucket

import (
	"sync"

	"github.com/google/uuid"

	"github.com/marcelodevops/pyretic/internal/classifier"
	"github.com/marcelodevops/pyretic/internal/compiler"
	"github.com/marcelodevops/pyretic/internal/header"
	"github.com/marcelodevops/pyretic/internal/policy"
)

// defaultMaxHops bounds trajectory simulation so a forwarding/topology pair
// with an accidental loop terminates rather than recursing forever.
const defaultMaxHops = 64

// Trajectory is one located-packet path a captured packet may have taken
// through the network, ending either at the egress filter or because the
// simulated forwarding policy produced no further hop.
type Trajectory []header.Packet

// PathBucket implements spec.md §4.4's trajectory-reconstruction bucket: it
// captures packets directly (unlike CountBucket) and, on Apply, replays
// each one hop-by-hop against `forwarding >> topology` until it reaches the
// egress filter.
type PathBucket struct {
	id string

	mu        sync.Mutex
	queue     []header.Packet
	callbacks []func(pkt header.Packet, paths []Trajectory)

	compiler   *compiler.Compiler
	forwarding *policy.Policy
	topology   *policy.Policy
	egress     *policy.Policy
	maxHops    int
}

// NewPathBucket allocates a PathBucket. forwarding should already have
// every other query leaf stripped (spec.md §4.4: "the data-plane mapper
// strips all other query leaves from the forwarding policy before path
// simulation; they would otherwise sink packets").
func NewPathBucket(c *compiler.Compiler, forwarding, topology, egress *policy.Policy) *PathBucket {
	return &PathBucket{
		id:         uuid.NewString(),
		compiler:   c,
		forwarding: forwarding,
		topology:   topology,
		egress:     egress,
		maxHops:    defaultMaxHops,
	}
}

func (b *PathBucket) BucketID() string { return b.id }

// Register subscribes a callback invoked with a captured packet and its
// reconstructed trajectories.
func (b *PathBucket) Register(cb func(pkt header.Packet, paths []Trajectory)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

// Deliver enqueues a packet captured by the compiled classifier.
func (b *PathBucket) Deliver(pkt header.Packet) {
	b.mu.Lock()
	b.queue = append(b.queue, pkt)
	b.mu.Unlock()
}

// Apply drains the capture queue and, for each packet, fires callbacks with
// its reconstructed trajectories.
func (b *PathBucket) Apply() error {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	callbacks := append([]func(header.Packet, []Trajectory){}, b.callbacks...)
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	hop, err := b.compiler.Compile(policy.Sequential(b.forwarding, b.topology))
	if err != nil {
		return err
	}
	egressCls, err := b.compiler.Compile(b.egress)
	if err != nil {
		return err
	}

	for _, pkt := range pending {
		paths := b.trajectories(pkt, hop, egressCls)
		for _, cb := range callbacks {
			cb(pkt, paths)
		}
	}
	return nil
}

// trajectories enumerates every path a packet may take under repeated
// application of hop, terminating a branch at egress, when a step produces
// no further packets, or once maxHops hops are taken (spec.md §9's open
// question: egress
// must be checked only once, at the tail of a trail, never mid-flight for
// the same hop that is also counted as terminal).
func (b *PathBucket) trajectories(pkt header.Packet, hop, egress classifier.Classifier) []Trajectory {
	var out []Trajectory
	var walk func(p header.Packet, trail Trajectory, hops int)
	walk = func(p header.Packet, trail Trajectory, hops int) {
		trail = append(append(Trajectory{}, trail...), p)
		if len(egress.Eval(p, nil)) > 0 || hops >= b.maxHops {
			out = append(out, trail)
			return
		}
		next := hop.Eval(p, nil)
		if len(next) == 0 {
			out = append(out, trail)
			return
		}
		for _, np := range next {
			walk(np, trail, hops+1)
		}
	}
	walk(pkt, nil, 0)
	return out
}
