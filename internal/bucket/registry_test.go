package bucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelodevops/pyretic/internal/header"
)

func TestRegistryDeliversToRegisteredBucketByID(t *testing.T) {
	r := NewRegistry(nil)
	fwd := NewFwdBucket(nil)
	r.Add(fwd)

	var got header.Packet
	fwd.Register(func(pkt header.Packet) { got = pkt })

	r.Deliver(fwd.BucketID(), header.MapPacket{header.SrcIP: "10.0.0.1"})
	fwd.Apply()

	require.NotNil(t, got)
	v, _ := got.Get(header.SrcIP)
	assert.Equal(t, "10.0.0.1", v)
}

func TestRegistryDeliverToUnknownBucketIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	assert.NotPanics(t, func() {
		r.Deliver("nope", header.MapPacket{header.SrcIP: "10.0.0.1"})
	})
}

func TestRegistryRemoveStopsFutureDelivery(t *testing.T) {
	r := NewRegistry(nil)
	fwd := NewFwdBucket(nil)
	r.Add(fwd)
	r.Remove(fwd.BucketID())

	var fired bool
	fwd.Register(func(header.Packet) { fired = true })
	r.Deliver(fwd.BucketID(), header.MapPacket{header.SrcIP: "10.0.0.1"})
	fwd.Apply()

	assert.False(t, fired)
}

func TestRegistryToControllerInvokesHook(t *testing.T) {
	var got header.Packet
	r := NewRegistry(func(pkt header.Packet) { got = pkt })

	r.ToController(header.MapPacket{header.SrcIP: "10.0.0.9"})

	require.NotNil(t, got)
	v, _ := got.Get(header.SrcIP)
	assert.Equal(t, "10.0.0.9", v)
}

func TestRegistryToControllerWithNilHookIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	assert.NotPanics(t, func() {
		r.ToController(header.MapPacket{header.SrcIP: "10.0.0.9"})
	})
}
