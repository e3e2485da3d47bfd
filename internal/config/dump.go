package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// DumpHCL renders cfg back to HCL source, mirroring the teacher's
// hclwrite-based write path (internal/config/hcl.go's SetAttributeValue/
// toCtyValue helpers) so a built Network can be round-tripped through a
// human-editable file for inspection or hand-tweaking.
func DumpHCL(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	for _, l := range cfg.Links {
		b := body.AppendNewBlock("link", []string{l.FromSwitch}).Body()
		setAttr(b, "from_port", l.FromPort)
		setAttr(b, "to_switch", l.ToSwitch)
		setAttr(b, "to_port", l.ToPort)
		body.AppendNewline()
	}

	for _, e := range cfg.Egress {
		b := body.AppendNewBlock("egress", []string{e.Switch}).Body()
		setAttr(b, "port", e.Port)
		body.AppendNewline()
	}

	for _, vf := range cfg.VFields {
		b := body.AppendNewBlock("vfield", []string{vf.Name}).Body()
		setAttr(b, "num_values", vf.NumValues)
		body.AppendNewline()
	}

	for _, pq := range cfg.PathQueries {
		b := body.AppendNewBlock("path_query", []string{pq.Name}).Body()
		if pq.Bucket != "" {
			setAttr(b, "bucket", pq.Bucket)
		}
		for _, a := range pq.Atoms {
			ab := b.AppendNewBlock("atom", []string{a.Kind}).Body()
			if len(a.Match) > 0 {
				m := make(map[string]cty.Value, len(a.Match))
				for k, v := range a.Match {
					m[k] = cty.StringVal(v)
				}
				ab.SetAttributeValue("match", cty.ObjectVal(m))
			}
			if len(a.Groupby) > 0 {
				vals := make([]cty.Value, len(a.Groupby))
				for i, g := range a.Groupby {
					vals[i] = cty.StringVal(g)
				}
				ab.SetAttributeValue("groupby", cty.ListVal(vals))
			}
		}
		body.AppendNewline()
	}

	return f.Bytes()
}

// setAttr converts a Go value to a cty.Value the way the teacher's
// toCtyValue does, then sets it on an HCL block body.
func setAttr(b *hclwrite.Body, name string, v any) {
	var val cty.Value
	switch t := v.(type) {
	case string:
		val = cty.StringVal(t)
	case int:
		val = cty.NumberIntVal(int64(t))
	default:
		return
	}
	b.SetAttributeValue(name, val)
}
