package classifier

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelodevops/pyretic/internal/action"
	"github.com/marcelodevops/pyretic/internal/header"
	"github.com/marcelodevops/pyretic/internal/match"
	"github.com/marcelodevops/pyretic/internal/rule"
)

func TestIdentityDropControllerClassifiers(t *testing.T) {
	pkt := header.MapPacket{header.SrcIP: "10.0.0.1"}

	assert.Len(t, IdentityClassifier().Eval(pkt, nil), 1)
	assert.Len(t, DropClassifier().Eval(pkt, nil), 0)

	sink := &fakeSink{}
	ControllerClassifier().Eval(pkt, sink)
	assert.Equal(t, 1, sink.controllerHits)
}

type fakeSink struct {
	controllerHits int
	delivered      []string
}

func (s *fakeSink) ToController(header.Packet)            { s.controllerHits++ }
func (s *fakeSink) Deliver(bucketID string, _ header.Packet) { s.delivered = append(s.delivered, bucketID) }

func TestParallelIsUnionAndHasDropIdentity(t *testing.T) {
	left := Classifier{
		rule.New(match.New(map[string]any{header.DstPort: 80}), action.Identity),
		rule.New(match.Identity, action.Drop),
	}
	right := Classifier{
		rule.New(match.New(map[string]any{header.DstPort: 443}), action.Identity),
		rule.New(match.Identity, action.Drop),
	}

	merged := Parallel(left, right)
	pkt80 := header.MapPacket{header.DstPort: 80}
	pkt443 := header.MapPacket{header.DstPort: 443}
	pktOther := header.MapPacket{header.DstPort: 22}

	assert.Len(t, merged.Eval(pkt80, nil), 1)
	assert.Len(t, merged.Eval(pkt443, nil), 1)
	assert.Len(t, merged.Eval(pktOther, nil), 0)

	assert.Equal(t, left, Parallel(Classifier{}, left))
}

func TestParallelOfConflictingCIDRMatchesDropsThatBranch(t *testing.T) {
	a := Classifier{rule.New(match.New(map[string]any{header.SrcIP: "10.0.0.0/24"}), action.Identity)}
	b := Classifier{rule.New(match.New(map[string]any{header.SrcIP: "192.168.0.0/24"}), action.Identity)}

	merged := Parallel(a, b)
	assert.Empty(t, merged.Eval(header.MapPacket{header.SrcIP: "10.0.0.1"}, nil), "expected no match: disjoint CIDRs intersect to Drop")
}

func TestSequentialPushesModifyThroughMatch(t *testing.T) {
	setPort1 := Classifier{rule.New(match.Identity, action.Modify(map[string]any{header.OutPort: "1"}))}
	onlyPort1 := Classifier{
		rule.New(match.New(map[string]any{header.OutPort: "1"}), action.Identity),
		rule.New(match.Identity, action.Drop),
	}

	composed := Sequential(setPort1, onlyPort1)
	pkt := header.MapPacket{}
	out := composed.Eval(pkt, nil)
	require.Len(t, out, 1)
	port, _ := out[0].Get(header.OutPort)
	assert.Equal(t, "1", port)
}

func TestSequentialIdentityIsLeftAndRightUnit(t *testing.T) {
	c := Classifier{rule.New(match.New(map[string]any{header.DstPort: 80}), action.Identity)}
	assert.Equal(t, c, Sequential(IdentityClassifier(), c))
	assert.Equal(t, c, Sequential(c, IdentityClassifier()))
}

func TestSequentialDropShortCircuits(t *testing.T) {
	c := Classifier{rule.New(match.New(map[string]any{header.DstPort: 80}), action.Identity)}
	composed := Sequential(DropClassifier(), c)
	assert.Empty(t, composed.Eval(header.MapPacket{header.DstPort: 80}, nil))
}

func TestSequentialTerminalActionShortCircuitsRightSide(t *testing.T) {
	toController := Classifier{rule.New(match.Identity, action.Controller)}
	neverReached := Classifier{rule.New(match.Identity, action.Drop)}

	composed := Sequential(toController, neverReached)
	sink := &fakeSink{}
	composed.Eval(header.MapPacket{}, sink)
	assert.Equal(t, 1, sink.controllerHits)
}

func TestNegateSwapsIdentityAndDrop(t *testing.T) {
	filter := Classifier{
		rule.New(match.New(map[string]any{header.DstPort: 80}), action.Identity),
		rule.New(match.Identity, action.Drop),
	}
	negated, err := Negate(filter)
	require.NoError(t, err)

	assert.Empty(t, negated.Eval(header.MapPacket{header.DstPort: 80}, nil))
	assert.Len(t, negated.Eval(header.MapPacket{header.DstPort: 22}, nil), 1)
}

func TestNegateRejectsNonFilterAction(t *testing.T) {
	withModify := Classifier{rule.New(match.Identity, action.Modify(map[string]any{header.OutPort: "1"}))}
	_, err := Negate(withModify)
	assert.Error(t, err)
}

func TestCompactDropsShadowedRules(t *testing.T) {
	c := Classifier{
		rule.New(match.Identity, action.Identity),
		rule.New(match.New(map[string]any{header.DstPort: 80}), action.Drop),
	}
	compact := c.Compact()
	require.Len(t, compact, 1)
	assert.True(t, compact[0].Match.IsIdentity())
}

func TestCompactCollapsesDuplicateRules(t *testing.T) {
	c := Classifier{
		rule.New(match.New(map[string]any{header.DstPort: 80}), action.Identity),
		rule.New(match.New(map[string]any{header.DstPort: 80}), action.Identity),
	}
	assert.Len(t, c.Compact(), 1)
}

func TestTotal(t *testing.T) {
	assert.True(t, IdentityClassifier().Total())
	partial := Classifier{rule.New(match.New(map[string]any{header.DstPort: 80}), action.Identity)}
	assert.False(t, partial.Total())
}

func TestBuildIPIndexCandidates(t *testing.T) {
	c := Classifier{
		rule.New(match.New(map[string]any{header.SrcIP: "10.0.0.0/8"}), action.Identity),
		rule.New(match.New(map[string]any{header.SrcIP: "10.1.0.0/16"}), action.Drop),
		rule.New(match.New(map[string]any{header.SrcIP: "192.168.0.0/16"}), action.Controller),
	}
	idx := BuildIPIndex(c, header.SrcIP)

	addr := netip.MustParseAddr("10.1.2.3")
	candidates := idx.Candidates(addr)
	assert.Equal(t, []int{0, 1}, candidates)

	addr2 := netip.MustParseAddr("192.168.5.5")
	assert.Equal(t, []int{2}, idx.Candidates(addr2))

	addr3 := netip.MustParseAddr("8.8.8.8")
	assert.Empty(t, idx.Candidates(addr3))
}
