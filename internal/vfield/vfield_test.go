package vfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelodevops/pyretic/internal/header"
)

func TestRegisterAssignsDisjointBitSlices(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("path_tag", 9)) // needs 4 bits (0..8)
	require.NoError(t, r.Register("group", 4))    // needs 2 bits

	combined, err := r.Compress(map[string]any{"path_tag": 8, "group": 3})
	require.NoError(t, err)

	expanded := r.Expand(combined)
	assert.Equal(t, 8, expanded["path_tag"])
	assert.Equal(t, 3, expanded["group"])
}

func TestRegisterRejectsDomainChange(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("path_tag", 4))
	assert.Error(t, r.Register("path_tag", 8))
}

func TestRegisterIsIdempotentForSameDomain(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("path_tag", 4))
	require.NoError(t, r.Register("path_tag", 4))
	assert.Len(t, r.Fields(), 1)
}

func TestRegisterFailsWhenBitsExhausted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("big", 1<<14)) // 14 bits
	assert.Error(t, r.Register("more", 4))        // only 1 bit left
}

func TestCompressRejectsOutOfDomainValue(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("path_tag", 4))
	_, err := r.Compress(map[string]any{"path_tag": 99})
	assert.Error(t, err)
}

func TestMapToVLANRoundTrips(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("path_tag", 1<<10))
	require.NoError(t, r.Register("group", 1<<3))

	combined, err := r.Compress(map[string]any{"path_tag": 777, "group": 5})
	require.NoError(t, err)

	vlan := MapToVLAN(combined)
	roundTripped := FromVLAN(vlan[header.VLANID].(int), vlan[header.VLANPCP].(int))
	assert.Equal(t, combined, roundTripped)

	expanded := r.Expand(roundTripped)
	assert.Equal(t, 777, expanded["path_tag"])
	assert.Equal(t, 5, expanded["group"])
}

func TestTranslateMatchSplitsCompilableFromVirtual(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("path_tag", 16))

	out, err := r.TranslateMatch(map[string]any{
		header.SrcIP: "10.0.0.0/24",
		"path_tag":   3,
	})
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.0/24", out[header.SrcIP])
	assert.Contains(t, out, header.VLANID)
	assert.Contains(t, out, header.VLANPCP)
	assert.NotContains(t, out, "path_tag")
}

func TestTranslateMatchPassesThroughWhenNoVirtualFields(t *testing.T) {
	r := NewRegistry()
	out, err := r.TranslateMatch(map[string]any{header.DstPort: 80})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{header.DstPort: 80}, out)
}
