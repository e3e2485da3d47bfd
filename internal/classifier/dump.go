package classifier

import (
	"gopkg.in/yaml.v3"

	"github.com/marcelodevops/pyretic/internal/errors"
)

// RuleDump is the YAML-serializable shape of one compiled rule, used by
// DumpYAML for test fixtures and CLI inspection output. It carries the
// String renderings of the rule's match and actions rather than their Go
// values.
type RuleDump struct {
	Match   string   `yaml:"match"`
	Actions []string `yaml:"actions"`
}

// DumpYAML renders c as a list of RuleDump entries in priority order,
// mirroring the teacher's use of yaml.v3 for low-ceremony debug output
// alongside HCL's declarative config surface.
func (c Classifier) DumpYAML() ([]byte, error) {
	dump := make([]RuleDump, len(c))
	for i, r := range c {
		actions := make([]string, len(r.Actions))
		for j, a := range r.Actions {
			actions[j] = a.String()
		}
		dump[i] = RuleDump{Match: r.Match.String(), Actions: actions}
	}
	out, err := yaml.Marshal(dump)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "classifier: marshal yaml dump")
	}
	return out, nil
}
