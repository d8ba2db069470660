// Package iface holds per-interface addressing state and the driver
// binding contract (spec.md §3 "Interface", §4.F). The observer/observable
// pattern (state-change notification fan-out, protocol listener dispatch)
// is an intrusive doubly-linked list per spec.md §9, modeled on
// eventsocket.Server's client fan-out
// (_examples/m-lab-tcp-info/eventsocket/eventsocket.go) but list-based
// rather than map-based so removal from a known position and first-match
// dispatch order are both O(1)/deterministic.
package iface

import (
	"net/netip"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/driver"
)

// Addressing groups the fields that are present together when an address
// assignment exists on the interface (spec.md §3).
type Addressing struct {
	Addr       netip.Addr
	Netmask    netip.Addr
	BcastAddr  netip.Addr
	Prefix     int
	Gateway    netip.Addr
	HasGateway bool
}

// Listener is invoked for every received IPv4 datagram for a given
// protocol on an Iface, before the registered protocol handler. Returning
// true means "consumed" and suppresses further dispatch (spec.md §4.D).
type Listener struct {
	Proto   uint8
	Handle  func(pkt bufchain.Ref) (consumed bool)
	next    *Listener
	prev    *Listener
	iface   *Iface
	removed bool
}

// StateObserver is notified synchronously when the interface's driver
// reports a link state change.
type StateObserver struct {
	Handle  func(driver.LinkState)
	next    *StateObserver
	prev    *StateObserver
	iface   *Iface
	removed bool
}

// Iface is one network interface binding (spec.md §3).
type Iface struct {
	MTU     int
	HWType  string
	Addr    Addressing
	HasAddr bool
	Driver  driver.Driver

	listenersHead      *Listener
	stateObserversHead *StateObserver
}

// New creates an Iface bound to d with the given MTU and hardware type.
func New(mtu int, hwType string, d driver.Driver) *Iface {
	return &Iface{MTU: mtu, HWType: hwType, Driver: d}
}

// SetAddr assigns address state to the interface.
func (ifc *Iface) SetAddr(addr, netmask, bcast netip.Addr, prefix int) {
	ifc.Addr = Addressing{Addr: addr, Netmask: netmask, BcastAddr: bcast, Prefix: prefix}
	ifc.HasAddr = true
}

// SetGateway records a default gateway for this interface.
func (ifc *Iface) SetGateway(gw netip.Addr) {
	ifc.Addr.Gateway = gw
	ifc.Addr.HasGateway = true
}

// Contains reports whether addr falls within this interface's assigned
// subnet.
func (ifc *Iface) Contains(addr netip.Addr) bool {
	if !ifc.HasAddr || !addr.Is4() || !ifc.Addr.Addr.Is4() {
		return false
	}
	prefix := netip.PrefixFrom(ifc.Addr.Addr, ifc.Addr.Prefix)
	return prefix.Contains(addr)
}

// IsDirectedBroadcast reports whether addr is this interface's directed
// broadcast address.
func (ifc *Iface) IsDirectedBroadcast(addr netip.Addr) bool {
	return ifc.HasAddr && ifc.Addr.BcastAddr == addr
}

// AddListener registers a protocol listener. The returned Listener must be
// passed to RemoveListener to unregister (intrusive list node ownership,
// spec.md §9).
func (ifc *Iface) AddListener(proto uint8, handle func(bufchain.Ref) bool) *Listener {
	l := &Listener{Proto: proto, Handle: handle, iface: ifc}
	l.next = ifc.listenersHead
	if ifc.listenersHead != nil {
		ifc.listenersHead.prev = l
	}
	ifc.listenersHead = l
	return l
}

// RemoveListener detaches l from its Iface. Safe to call at most once.
func (l *Listener) RemoveListener() {
	if l.removed {
		return
	}
	l.removed = true
	if l.prev != nil {
		l.prev.next = l.next
	} else {
		l.iface.listenersHead = l.next
	}
	if l.next != nil {
		l.next.prev = l.prev
	}
}

// DispatchListeners calls every registered listener for proto, most
// recently added first (AddListener inserts at the head), until one returns
// true (consumed), per spec.md §4.D step 3.
func (ifc *Iface) DispatchListeners(proto uint8, pkt bufchain.Ref) (consumed bool) {
	for l := ifc.listenersHead; l != nil; l = l.next {
		if l.Proto != proto {
			continue
		}
		if l.Handle(pkt) {
			return true
		}
	}
	return false
}

// AddStateObserver registers a link-state observer.
func (ifc *Iface) AddStateObserver(handle func(driver.LinkState)) *StateObserver {
	o := &StateObserver{Handle: handle, iface: ifc}
	o.next = ifc.stateObserversHead
	if ifc.stateObserversHead != nil {
		ifc.stateObserversHead.prev = o
	}
	ifc.stateObserversHead = o
	return o
}

// RemoveStateObserver detaches o from its Iface.
func (o *StateObserver) RemoveStateObserver() {
	if o.removed {
		return
	}
	o.removed = true
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		o.iface.stateObserversHead = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	}
}

// NotifyStateChange fans a driver state change out to every observer
// synchronously, as eventsocket.Server.sendToAllListeners does for flow
// events.
func (ifc *Iface) NotifyStateChange(state driver.LinkState) {
	for o := ifc.stateObserversHead; o != nil; o = o.next {
		o.Handle(state)
	}
}

// AssertTornDown panics if any listener or observer is still registered;
// the driver must never call back into an Iface after destroying it, and
// the core asserts these lists are empty at destruction time (spec.md
// §4.F).
func (ifc *Iface) AssertTornDown() {
	if ifc.listenersHead != nil || ifc.stateObserversHead != nil {
		panic("iface: listeners/observers still registered at teardown")
	}
}
