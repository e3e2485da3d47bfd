package bucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelodevops/pyretic/internal/header"
)

func TestFwdBucketApplyFiresCallbacksInOrder(t *testing.T) {
	b := NewFwdBucket(nil)
	var got []header.Packet
	b.Register(func(pkt header.Packet) { got = append(got, pkt) })

	b.Deliver(header.MapPacket{header.SrcIP: "10.0.0.1"})
	b.Deliver(header.MapPacket{header.SrcIP: "10.0.0.2"})
	b.Apply()

	require.Len(t, got, 2)
	v, _ := got[0].Get(header.SrcIP)
	assert.Equal(t, "10.0.0.1", v)

	// a second Apply with nothing queued fires no callbacks
	got = nil
	b.Apply()
	assert.Empty(t, got)
}

type noopRuntime struct {
	statsSwitches         []string
	existingStatsSwitches []string
}

func (r *noopRuntime) IssueStatsQuery(string) []string         { return r.statsSwitches }
func (r *noopRuntime) IssueExistingStatsQuery(string) []string { return r.existingStatsSwitches }

func TestCountBucketPullWithNoMatchesIsSynchronous(t *testing.T) {
	rt := &noopRuntime{}
	b := NewCountBucket(rt, nil, nil)

	var packets, bytesTotal uint64
	fired := 0
	b.Register(func(p, bt uint64) { packets, bytesTotal, fired = p, bt, fired+1 })

	b.StartUpdate()
	b.FinishUpdate() // no switches queued for bootstrap since matches is empty
	b.PullStats()

	assert.Equal(t, 1, fired)
	assert.Equal(t, uint64(0), packets)
	assert.Equal(t, uint64(0), bytesTotal)
}

// TestCountBucketLifetimeAccounting reproduces spec scenario 6: a rule sees
// 100 packets/2000 bytes, is torn down and reinstalled under a new
// classifier version, sees 50 more packets/1000 bytes, and a pull after the
// second install must report packets=150, bytes=3000.
func TestCountBucketLifetimeAccounting(t *testing.T) {
	rt := &noopRuntime{statsSwitches: []string{"s1"}}
	b := NewCountBucket(rt, nil, nil)

	b.StartUpdate()
	b.AddMatch("srcip=10.0.0.0/24", 10, 1)
	b.FinishUpdate()

	// switch reports the rule as torn down with 100 packets / 2000 bytes
	b.DeleteMatch("srcip=10.0.0.0/24", 10, 1)
	err := b.HandleFlowRemoved("srcip=10.0.0.0/24", 10, 1, 100, 2000)
	require.NoError(t, err)

	// classifier reinstalled at version 2
	b.StartUpdate()
	b.AddMatch("srcip=10.0.0.0/24", 10, 2)
	b.FinishUpdate()

	var packets, bytesTotal uint64
	b.Register(func(p, bt uint64) { packets, bytesTotal = p, bt })

	b.PullStats()
	b.HandleFlowStatsReply("s1", []StatsEntry{
		{MatchStr: "srcip=10.0.0.0/24", Priority: 10, Version: 2, PacketCount: 50, ByteCount: 1000},
	})

	assert.Equal(t, uint64(150), packets)
	assert.Equal(t, uint64(3000), bytesTotal)
}

func TestCountBucketFlowRemovedRejectsUnmarkedEntry(t *testing.T) {
	b := NewCountBucket(&noopRuntime{}, nil, nil)
	b.StartUpdate()
	b.AddMatch("dstport=80", 5, 1)
	b.FinishUpdate()

	err := b.HandleFlowRemoved("dstport=80", 5, 1, 10, 100)
	assert.Error(t, err, "flow_removed for a match never marked to_be_deleted is an accounting error")
}

func TestRegistryRoutesByBucketID(t *testing.T) {
	fwd := NewFwdBucket(nil)
	var delivered []header.Packet
	fwd.Register(func(pkt header.Packet) { delivered = append(delivered, pkt) })

	var toController int
	reg := NewRegistry(func(header.Packet) { toController++ })
	reg.Add(fwd)

	reg.Deliver(fwd.BucketID(), header.MapPacket{})
	reg.ToController(header.MapPacket{})
	reg.Deliver("unknown-bucket", header.MapPacket{})

	fwd.Apply()
	assert.Len(t, delivered, 1)
	assert.Equal(t, 1, toController)
}
