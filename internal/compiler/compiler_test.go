package compiler

import (
	"testing"

	"github.com/marcelodevops/pyretic/internal/header"
	"github.com/marcelodevops/pyretic/internal/match"
	"github.com/marcelodevops/pyretic/internal/policy"
)

func TestCompileIdentityAndDrop(t *testing.T) {
	c := New(nil)

	cls, err := c.Compile(policy.Identity())
	if err != nil {
		t.Fatalf("compile identity: %v", err)
	}
	if !cls.Total() {
		t.Fatal("identity classifier must be total")
	}
	pkt := header.MapPacket{header.SrcIP: "10.0.0.1"}
	out := cls.Eval(pkt, nil)
	if len(out) != 1 {
		t.Fatalf("identity should forward exactly one copy, got %d", len(out))
	}

	dropCls, err := c.Compile(policy.Drop())
	if err != nil {
		t.Fatalf("compile drop: %v", err)
	}
	if len(dropCls.Eval(pkt, nil)) != 0 {
		t.Fatal("drop classifier should produce no packets")
	}
}

func TestCompileMatchSandwichesIdentityThenDrop(t *testing.T) {
	c := New(nil)
	m := match.New(map[string]any{header.SrcIP: "10.0.0.0/8"})
	p := policy.Match(m)

	cls, err := c.Compile(p)
	if err != nil {
		t.Fatalf("compile match: %v", err)
	}
	inside := header.MapPacket{header.SrcIP: "10.1.2.3"}
	outside := header.MapPacket{header.SrcIP: "192.168.0.1"}

	if len(cls.Eval(inside, nil)) != 1 {
		t.Error("expected match to forward a packet inside the CIDR")
	}
	if len(cls.Eval(outside, nil)) != 0 {
		t.Error("expected match to drop a packet outside the CIDR")
	}
}

func TestCompileMemoizesByPointerIdentity(t *testing.T) {
	c := New(nil)
	shared := policy.Match(match.New(map[string]any{header.DstPort: 80}))
	whole := policy.Parallel(shared, shared)

	cls, err := c.Compile(whole)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if cls == nil {
		t.Fatal("expected a classifier")
	}
	c.mu.Lock()
	_, ok := c.cache[shared]
	c.mu.Unlock()
	if !ok {
		t.Fatal("expected the shared subtree to be cached under its own node identity")
	}
}

func TestCompileParallelIsUnionOfForwards(t *testing.T) {
	c := New(nil)
	left := policy.Sequential(policy.Match(match.New(map[string]any{header.SrcIP: "10.0.0.0/8"})), policy.Modify(map[string]any{header.OutPort: "1"}))
	right := policy.Sequential(policy.Match(match.New(map[string]any{header.SrcIP: "172.16.0.0/12"})), policy.Modify(map[string]any{header.OutPort: "2"}))
	p := policy.Parallel(left, right)

	cls, err := c.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	pkt := header.MapPacket{header.SrcIP: "10.1.1.1"}
	out := cls.Eval(pkt, nil)
	if len(out) != 1 {
		t.Fatalf("expected exactly one forwarded packet, got %d", len(out))
	}
	port, _ := out[0].Get(header.OutPort)
	if port != "1" {
		t.Errorf("expected outport 1, got %v", port)
	}
}

type recordingSink struct {
	delivered []string
}

func (s *recordingSink) ToController(pkt header.Packet) {}
func (s *recordingSink) Deliver(bucketID string, pkt header.Packet) {
	s.delivered = append(s.delivered, bucketID)
}

type fakeBucket struct{ id string }

func (b fakeBucket) BucketID() string { return b.id }

func TestCompileCountBucketDelivers(t *testing.T) {
	c := New(nil)
	b := fakeBucket{id: "b1"}
	p := policy.CountBucket(b)

	cls, err := c.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	sink := &recordingSink{}
	cls.Eval(header.MapPacket{}, sink)
	if len(sink.delivered) != 1 || sink.delivered[0] != "b1" {
		t.Fatalf("expected delivery to bucket b1, got %v", sink.delivered)
	}
}

func TestCompileDynamicInvalidatesAncestors(t *testing.T) {
	c := New(nil)
	portA := policy.Modify(map[string]any{header.OutPort: "1"})
	portB := policy.Modify(map[string]any{header.OutPort: "2"})

	dyn := policy.NewDynamic(portA)
	root := policy.Parallel(policy.Drop(), dyn.Policy)

	cls1, err := c.Compile(root)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	pkt := header.MapPacket{}
	out := cls1.Eval(pkt, nil)
	if len(out) != 1 {
		t.Fatalf("expected one packet, got %d", len(out))
	}
	if p, _ := out[0].Get(header.OutPort); p != "1" {
		t.Fatalf("expected outport 1 before update, got %v", p)
	}

	dyn.Set(portB)

	cls2, err := c.Compile(root)
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}
	out2 := cls2.Eval(pkt, nil)
	if len(out2) != 1 {
		t.Fatalf("expected one packet after update, got %d", len(out2))
	}
	if p, _ := out2[0].Get(header.OutPort); p != "2" {
		t.Fatalf("expected outport 2 after dynamic update, got %v", p)
	}
}

