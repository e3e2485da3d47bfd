package dfa

import (
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/marcelodevops/pyretic/internal/errors"
)

// EdgeDump is the YAML-serializable shape of one DFA edge.
type EdgeDump struct {
	Src     int    `yaml:"src"`
	Dst     int    `yaml:"dst"`
	Label   string `yaml:"label"`
	Negated bool   `yaml:"negated,omitempty"`
}

// Dump is the YAML-serializable shape of a compiled DFA, used for test
// fixtures and CLI inspection output alongside Classifier.DumpYAML.
type Dump struct {
	Start    int        `yaml:"start"`
	Accept   map[int]int `yaml:"accept"` // state -> winning pattern index
	Edges    []EdgeDump `yaml:"edges"`
}

// DumpYAML renders d's start state, accepting states, and transition table.
func (d *DFA) DumpYAML() ([]byte, error) {
	accept := make(map[int]int, len(d.accept))
	for s, idx := range d.accept {
		accept[int(s)] = idx
	}
	edges := d.Edges()
	dump := Dump{
		Start:  int(d.start),
		Accept: accept,
		Edges:  make([]EdgeDump, len(edges)),
	}
	for i, e := range edges {
		dump.Edges[i] = EdgeDump{Src: int(e.Src), Dst: int(e.Dst), Label: e.Label, Negated: e.Negated}
	}
	sort.Slice(dump.Edges, func(i, j int) bool {
		if dump.Edges[i].Src != dump.Edges[j].Src {
			return dump.Edges[i].Src < dump.Edges[j].Src
		}
		return dump.Edges[i].Label < dump.Edges[j].Label
	})

	out, err := yaml.Marshal(dump)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "dfa: marshal yaml dump")
	}
	return out, nil
}
