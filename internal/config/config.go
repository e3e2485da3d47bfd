// Package config loads a declarative description of a local topology stub,
// its egress locations, virtual-field allocations, and path queries, in the
// teacher's hcl.go tag style (hcl:"name,optional", hcl:"name,block"). This
// is a test/demo surface only: a real deployment's topology comes from the
// controller's discovered link-state, reached through the Runtime
// interface, not from a config file.
package config

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/marcelodevops/pyretic/internal/errors"
)

// Config is the top-level declarative description decoded from an HCL file.
type Config struct {
	Links       []Link       `hcl:"link,block"`
	Egress      []Egress     `hcl:"egress,block"`
	VFields     []VField     `hcl:"vfield,block"`
	PathQueries []PathQuery  `hcl:"path_query,block"`
}

// Link is one hop of the topology stub: packets arriving at (FromSwitch,
// FromPort) are moved to (ToSwitch, ToPort) by TopologyPolicy.
type Link struct {
	FromSwitch string `hcl:"from_switch,label"`
	FromPort   string `hcl:"from_port"`
	ToSwitch   string `hcl:"to_switch"`
	ToPort     string `hcl:"to_port"`
}

// Egress names one (switch, port) pair packets leave the network through.
type Egress struct {
	Switch string `hcl:"switch,label"`
	Port   string `hcl:"port"`
}

// VField declares a virtual field's domain size, to be bit-packed into the
// VLAN fields by internal/vfield.
type VField struct {
	Name      string `hcl:"name,label"`
	NumValues int    `hcl:"num_values"`
}

// PathQuery declares one path-query expression as a sequence of atoms
// concatenated in declaration order, optionally delivering to a named
// bucket. This covers the common case (a straight-line trail of filters);
// callers needing alternation or Kleene star compose pathlang.Path values
// directly in Go rather than through this config surface.
type PathQuery struct {
	Name   string `hcl:"name,label"`
	Bucket string `hcl:"bucket,optional"`
	Atoms  []Atom `hcl:"atom,block"`
}

// Atom is one leaf of a path query. Kind is one of ingress, egress, drop,
// end_path, hook. Match holds field=value equality constraints (CIDR
// notation is accepted for srcip/dstip, matching internal/match.New); Hook
// additionally reads Groupby.
type Atom struct {
	Kind    string            `hcl:"kind,label"`
	Match   map[string]string `hcl:"match,optional"`
	Groupby []string          `hcl:"groupby,optional"`
}

// LoadFile decodes an HCL config file at path.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindMalformed, "config: decode %s", path)
	}
	return &cfg, nil
}

// LoadBytes decodes HCL source held in memory, filename is used only for
// diagnostic messages.
func LoadBytes(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindMalformed, "config: decode %s", filename)
	}
	return &cfg, nil
}
