package iface_test

import (
	"net/netip"
	"testing"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/driver"
	"github.com/m-lab/ustack/iface"
)

func TestContainsAndDirectedBroadcast(t *testing.T) {
	a, _ := driver.NewLoopbackPair()
	ifc := iface.New(1500, "loopback", a)
	ifc.SetAddr(
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("255.255.255.0"),
		netip.MustParseAddr("10.0.0.255"),
		24,
	)

	if !ifc.Contains(netip.MustParseAddr("10.0.0.42")) {
		t.Fatal("expected 10.0.0.42 to be in-subnet")
	}
	if ifc.Contains(netip.MustParseAddr("10.0.1.42")) {
		t.Fatal("10.0.1.42 should not be in-subnet")
	}
	if !ifc.IsDirectedBroadcast(netip.MustParseAddr("10.0.0.255")) {
		t.Fatal("expected 10.0.0.255 to be the directed broadcast")
	}
}

func TestListenerDispatchOrderAndConsume(t *testing.T) {
	a, _ := driver.NewLoopbackPair()
	ifc := iface.New(1500, "loopback", a)

	var order []int
	ifc.AddListener(6, func(bufchain.Ref) bool { order = append(order, 1); return false })
	l2 := ifc.AddListener(6, func(bufchain.Ref) bool { order = append(order, 2); return true })
	ifc.AddListener(6, func(bufchain.Ref) bool { order = append(order, 3); return false })

	node := &bufchain.Node{Data: []byte("x")}
	consumed := ifc.DispatchListeners(6, bufchain.NewRef(node, 1))
	if !consumed {
		t.Fatal("expected listener 2 to consume the packet")
	}
	// Most-recently-added listener is dispatched first (head-insertion list).
	if len(order) != 2 || order[0] != 3 || order[1] != 2 {
		t.Fatalf("order = %v, want [3 2]", order)
	}

	l2.RemoveListener()
	order = nil
	ifc.DispatchListeners(6, bufchain.NewRef(node, 1))
	if len(order) != 2 || order[0] != 3 || order[1] != 1 {
		t.Fatalf("after removal order = %v, want [3 1]", order)
	}
}

func TestStateObserverFanOutAndTeardown(t *testing.T) {
	a, _ := driver.NewLoopbackPair()
	ifc := iface.New(1500, "loopback", a)

	var seen []bool
	o1 := ifc.AddStateObserver(func(s driver.LinkState) { seen = append(seen, s.LinkUp) })
	o2 := ifc.AddStateObserver(func(s driver.LinkState) { seen = append(seen, s.LinkUp) })

	ifc.NotifyStateChange(driver.LinkState{LinkUp: false})
	if len(seen) != 2 {
		t.Fatalf("seen = %v, want 2 notifications", seen)
	}

	o1.RemoveStateObserver()
	o2.RemoveStateObserver()
	ifc.AssertTornDown() // must not panic
}

func TestAssertTornDownPanicsWhenListenersRemain(t *testing.T) {
	a, _ := driver.NewLoopbackPair()
	ifc := iface.New(1500, "loopback", a)
	ifc.AddListener(6, func(bufchain.Ref) bool { return false })

	defer func() {
		if recover() == nil {
			t.Fatal("expected AssertTornDown to panic with a listener still registered")
		}
	}()
	ifc.AssertTornDown()
}
