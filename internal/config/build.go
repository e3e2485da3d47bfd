package config

import (
	"github.com/marcelodevops/pyretic/internal/bucket"
	"github.com/marcelodevops/pyretic/internal/compiler"
	"github.com/marcelodevops/pyretic/internal/errors"
	"github.com/marcelodevops/pyretic/internal/header"
	"github.com/marcelodevops/pyretic/internal/match"
	"github.com/marcelodevops/pyretic/internal/pathcompiler"
	"github.com/marcelodevops/pyretic/internal/pathlang"
	"github.com/marcelodevops/pyretic/internal/policy"
	"github.com/marcelodevops/pyretic/internal/token"
	"github.com/marcelodevops/pyretic/internal/vfield"
)

// Network is the built form of a Config: a topology/egress policy pair
// satisfying pathcompiler.Runtime, plus the buckets and path-query registry
// the config's path_query blocks were wired into.
type Network struct {
	topology *policy.Policy
	egress   *policy.Policy

	Tokens       *token.Generator
	VFields      *vfield.Registry
	Buckets      *bucket.Registry
	PathRegistry *pathcompiler.Registry

	// PathBuckets maps a path_query's configured bucket name to the
	// FwdBucket instance it feeds, so callers (the API server's event hub,
	// in particular) can register delivery callbacks by the name an
	// operator actually wrote in the config rather than the bucket's
	// generated id.
	PathBuckets map[string]*bucket.FwdBucket
}

// TopologyPolicy implements pathcompiler.Runtime.
func (n *Network) TopologyPolicy() *policy.Policy { return n.topology }

// EgressPolicy implements pathcompiler.Runtime.
func (n *Network) EgressPolicy() *policy.Policy { return n.egress }

// Build wires cfg into a Network: the topology stub and egress filter are
// compiled from Links/Egress, virtual fields from VFields are registered,
// and each PathQuery is turned into a pathlang.Path, finalized into
// pathRegistry, and (if it names a bucket) delivered to a fresh FwdBucket
// registered under Buckets.
func Build(cfg *Config, c *compiler.Compiler, onController func(header.Packet)) (*Network, error) {
	n := &Network{
		Tokens:      token.NewGenerator(c),
		VFields:     vfield.NewRegistry(),
		Buckets:     bucket.NewRegistry(onController),
		PathBuckets: make(map[string]*bucket.FwdBucket),
	}
	n.PathRegistry = pathcompiler.NewRegistry(n.Tokens, n.VFields)

	n.topology = buildTopology(cfg.Links)
	n.egress = buildEgress(cfg.Egress)

	for _, vf := range cfg.VFields {
		if err := n.VFields.Register(vf.Name, vf.NumValues); err != nil {
			return nil, errors.Wrapf(err, errors.KindMalformed, "config: register vfield %s", vf.Name)
		}
	}

	for _, pq := range cfg.PathQueries {
		if err := n.buildPathQuery(pq); err != nil {
			return nil, errors.Wrapf(err, errors.KindMalformed, "config: path_query %s", pq.Name)
		}
	}

	return n, nil
}

func buildTopology(links []Link) *policy.Policy {
	if len(links) == 0 {
		return policy.Drop()
	}
	hops := make([]*policy.Policy, len(links))
	for i, l := range links {
		at := matchLocation(l.FromSwitch, l.FromPort)
		to := policy.Modify(map[string]any{header.Switch: l.ToSwitch, header.OutPort: l.ToPort})
		hops[i] = policy.Sequential(at, to)
	}
	return policy.Parallel(hops...)
}

func buildEgress(egress []Egress) *policy.Policy {
	if len(egress) == 0 {
		return policy.Drop()
	}
	locs := make([]*policy.Policy, len(egress))
	for i, e := range egress {
		locs[i] = matchLocation(e.Switch, e.Port)
	}
	return policy.Parallel(locs...)
}

func matchLocation(sw, port string) *policy.Policy {
	return policy.Match(match.New(map[string]any{header.Switch: sw, header.OutPort: port}))
}

func (n *Network) buildPathQuery(pq PathQuery) error {
	if len(pq.Atoms) == 0 {
		return errors.Errorf(errors.KindMalformed, "path query %s has no atoms", pq.Name)
	}
	parts := make([]*pathlang.Path, len(pq.Atoms))
	for i, a := range pq.Atoms {
		p, err := n.buildAtom(a)
		if err != nil {
			return err
		}
		parts[i] = p
	}
	query := pathlang.Concat(parts...)

	if pq.Bucket != "" {
		fwd := bucket.NewFwdBucket(nil)
		n.Buckets.Add(fwd)
		n.PathBuckets[pq.Bucket] = fwd
		query.SetBucket(fwd)
	}

	return n.PathRegistry.Finalize(query)
}

func (n *Network) buildAtom(a Atom) (*pathlang.Path, error) {
	fields := make(map[string]any, len(a.Match))
	for k, v := range a.Match {
		fields[k] = v
	}
	f := policy.Match(match.New(fields))

	switch a.Kind {
	case "ingress", "":
		return pathlang.Atom(n.Tokens, f)
	case "egress":
		return pathlang.EgressAtom(n.Tokens, f)
	case "drop":
		return pathlang.DropAtom(n.Tokens, f)
	case "end_path":
		return pathlang.EndPath(n.Tokens, f)
	case "hook":
		return pathlang.Hook(n.Tokens, f, a.Groupby)
	default:
		return nil, errors.Errorf(errors.KindMalformed, "unknown atom kind %q", a.Kind)
	}
}
