package driver

import (
	"net/netip"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/ustackerr"
)

// LoopbackEnd is an in-process test/demo double standing in for a real TAP
// device: two LoopbackEnds are wired so that sending on one delivers to
// the other's registered Receiver, the same way collector_test.go
// exercises the collector against a real net.ListenTCP loopback rather
// than mocking the kernel
// (_examples/m-lab-tcp-info/collector/collector_test.go). Used by the core
// engine's own tests and by cmd/ustackd's demo scenario.
type LoopbackEnd struct {
	peer  *LoopbackEnd
	state LinkState
	recv  Receiver
}

// NewLoopbackPair returns two LoopbackEnds, each of which delivers what is
// sent on it to the other's bound Receiver.
func NewLoopbackPair() (*LoopbackEnd, *LoopbackEnd) {
	a := &LoopbackEnd{state: LinkState{LinkUp: true}}
	b := &LoopbackEnd{state: LinkState{LinkUp: true}}
	a.peer, b.peer = b, a
	return a, b
}

// Bind attaches the Receiver that will see packets sent by the peer end.
// Call this once ip4.Engine (or a test harness implementing Receiver) is
// ready to accept packets.
func (e *LoopbackEnd) Bind(r Receiver) { e.recv = r }

// SendIP4 implements Driver.
func (e *LoopbackEnd) SendIP4(pkt bufchain.Ref, _ netip.Addr, retry *RetryRequest) ustackerr.Error {
	if !e.peer.state.LinkUp {
		return ustackerr.LinkDown
	}
	if e.peer.recv != nil {
		e.peer.recv.RecvIP4Packet(pkt)
	}
	return ustackerr.Success
}

// State implements Driver.
func (e *LoopbackEnd) State() LinkState { return e.state }

// SetLinkUp flips the simulated link state and is useful for exercising
// LinkDown handling in tests.
func (e *LoopbackEnd) SetLinkUp(up bool) { e.state.LinkUp = up }
