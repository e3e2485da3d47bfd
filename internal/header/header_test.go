package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapPacketGetModifyEqual(t *testing.T) {
	pkt := MapPacket{SrcIP: "10.0.0.1", DstPort: 80}

	v, ok := pkt.Get(SrcIP)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	_, ok = pkt.Get(DstMAC)
	assert.False(t, ok)

	modified := pkt.ModifyMany(map[string]any{DstPort: 443})
	got, _ := modified.Get(DstPort)
	assert.Equal(t, 443, got)

	// original packet is unchanged; ModifyMany returns a new Packet
	orig, _ := pkt.Get(DstPort)
	assert.Equal(t, 80, orig)

	assert.True(t, pkt.Equal(MapPacket{SrcIP: "10.0.0.1", DstPort: 80}))
	assert.False(t, pkt.Equal(modified))
}

func TestMapPacketLocationFallsBackToInPort(t *testing.T) {
	pkt := MapPacket{Switch: "s1", InPort: "2"}
	sw, port := pkt.Location()
	assert.Equal(t, "s1", sw)
	assert.Equal(t, "2", port)

	withOut := pkt.ModifyMany(map[string]any{OutPort: "3"}).(MapPacket)
	sw, port = withOut.Location()
	assert.Equal(t, "s1", sw)
	assert.Equal(t, "3", port)
}

func TestFieldClassification(t *testing.T) {
	assert.True(t, IsCIDRField(SrcIP))
	assert.True(t, IsCIDRField(DstIP))
	assert.False(t, IsCIDRField(SrcPort))

	assert.True(t, IsCompilable(Switch))
	assert.False(t, IsCompilable("path_tag"))
}

func TestMapPacketClone(t *testing.T) {
	pkt := MapPacket{SrcIP: "10.0.0.1"}
	clone := pkt.Clone()
	clone[SrcIP] = "10.0.0.2"

	assert.Equal(t, "10.0.0.1", pkt[SrcIP])
	assert.Equal(t, "10.0.0.2", clone[SrcIP])
}
