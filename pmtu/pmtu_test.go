package pmtu_test

import (
	"net/netip"
	"testing"

	"github.com/m-lab/ustack/pmtu"
	"github.com/m-lab/ustack/ustackerr"
)

func TestPacketTooBigClampsAndNotifies(t *testing.T) {
	c := pmtu.New(16)
	addr := netip.MustParseAddr("192.0.2.1")
	c.Seed(addr, 1500)

	var got int
	obs := c.Subscribe(addr, func(newMTU int) { got = newMTU })
	defer obs.Unsubscribe()

	if err := c.HandlePacketTooBig(addr, 1400, 1500); err != ustackerr.Success {
		t.Fatalf("err = %v", err)
	}
	if got != 1400 {
		t.Fatalf("observer saw %d, want 1400", got)
	}
	mtu, ok := c.Estimate(addr)
	if !ok || mtu != 1400 {
		t.Fatalf("estimate = %d,%v want 1400,true", mtu, ok)
	}
}

func TestZeroHintClampsToMinMTU(t *testing.T) {
	c := pmtu.New(16)
	addr := netip.MustParseAddr("192.0.2.2")
	c.Seed(addr, 1500)

	c.HandlePacketTooBig(addr, 0, 1500)
	mtu, _ := c.Estimate(addr)
	if mtu != pmtu.MinMTU {
		t.Fatalf("mtu = %d, want MinMTU (%d)", mtu, pmtu.MinMTU)
	}
}

func TestLargerHintDoesNotIncreaseEstimate(t *testing.T) {
	c := pmtu.New(16)
	addr := netip.MustParseAddr("192.0.2.3")
	c.Seed(addr, 1500)
	c.HandlePacketTooBig(addr, 1000, 1500)
	c.HandlePacketTooBig(addr, 1400, 1500) // larger than current 1000; must not raise it
	mtu, _ := c.Estimate(addr)
	if mtu != 1000 {
		t.Fatalf("mtu = %d, want 1000 (monotonically non-increasing)", mtu)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := pmtu.New(2)
	a1 := netip.MustParseAddr("10.0.0.1")
	a2 := netip.MustParseAddr("10.0.0.2")
	a3 := netip.MustParseAddr("10.0.0.3")

	c.Seed(a1, 1500)
	c.Seed(a2, 1500)
	c.Seed(a3, 1500) // evicts a1

	if _, ok := c.Estimate(a1); ok {
		t.Fatal("expected a1 to be evicted")
	}
	if _, ok := c.Estimate(a3); !ok {
		t.Fatal("expected a3 to be present")
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}
