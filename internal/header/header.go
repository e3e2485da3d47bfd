// Package header defines the names of packet fields the pyretic core
// recognizes and the minimal Packet contract components compile against.
// The concrete packet representation and its wire I/O are an external
// collaborator; MapPacket exists only to drive local evaluation, tests, and
// path-query simulation.
package header

// Field names recognized by Match/Modify. These partition into basic
// headers, tagging headers, location fields, and content metadata. Anything
// else is a virtual field and must be routed through internal/vfield before
// it reaches a Rule.
const (
	SrcMAC   = "srcmac"
	DstMAC   = "dstmac"
	SrcIP    = "srcip"
	DstIP    = "dstip"
	TOS      = "tos"
	SrcPort  = "srcport"
	DstPort  = "dstport"
	EthType  = "ethtype"
	Protocol = "protocol"

	VLANID  = "vlan_id"
	VLANPCP = "vlan_pcp"

	Switch  = "switch"
	InPort  = "inport"
	OutPort = "outport"

	Raw        = "raw"
	HeaderLen  = "header_len"
	PayloadLen = "payload_len"
)

// CompilableHeaders is the set of field names a Rule's match/modify may name
// directly. Everything outside this set is a virtual field.
var CompilableHeaders = map[string]bool{
	SrcMAC: true, DstMAC: true, SrcIP: true, DstIP: true, TOS: true,
	SrcPort: true, DstPort: true, EthType: true, Protocol: true,
	VLANID: true, VLANPCP: true,
	Switch: true, InPort: true, OutPort: true,
	Raw: true, HeaderLen: true, PayloadLen: true,
}

// CIDRFields is the set of fields whose pattern is an IPv4 CIDR prefix
// rather than a plain equality value.
var CIDRFields = map[string]bool{
	SrcIP: true, DstIP: true,
}

func IsCIDRField(name string) bool { return CIDRFields[name] }

func IsCompilable(name string) bool { return CompilableHeaders[name] }

// Packet is the opaque packet contract the core compiles and simulates
// against. Implementations must make Get/ModifyMany/Equal consistent: two
// packets that compare Equal must Get the same value for every field either
// one recognizes.
type Packet interface {
	// Get returns the value of a field and whether it is present.
	Get(field string) (any, bool)
	// ModifyMany returns a new Packet with the given fields rewritten.
	// Fields not present in mods are carried over unchanged.
	ModifyMany(mods map[string]any) Packet
	// Equal reports whether two packets carry the same field values.
	Equal(other Packet) bool
	// Location is a convenience accessor for the packet's (switch, port)
	// pair; switch packets always carry it.
	Location() (switchID string, port string)
}

// MapPacket is a minimal, immutable Packet backed by a field map. It is the
// packet representation used by the core's own tests and by the path-query
// simulator; production packets come from the external runtime.
type MapPacket map[string]any

func (p MapPacket) Get(field string) (any, bool) {
	v, ok := p[field]
	return v, ok
}

func (p MapPacket) ModifyMany(mods map[string]any) Packet {
	out := make(MapPacket, len(p)+len(mods))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range mods {
		out[k] = v
	}
	return out
}

func (p MapPacket) Equal(other Packet) bool {
	o, ok := other.(MapPacket)
	if !ok {
		return false
	}
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

func (p MapPacket) Location() (string, string) {
	sw, _ := p[Switch].(string)
	port, _ := p[OutPort].(string)
	if port == "" {
		port, _ = p[InPort].(string)
	}
	return sw, port
}

// Clone returns a shallow copy, useful when a caller wants to mutate a
// derived packet without aliasing the original map.
func (p MapPacket) Clone() MapPacket {
	out := make(MapPacket, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
