// Package stack wires every ustack component into one cooperatively
// scheduled unit (spec.md §5, §12): a timerheap.Heap, an asyncsignal.Bus,
// a set of iface.Iface, an ip4.Engine, a pmtu.Cache, and a tcp.Transport.
// The caller's own event loop remains the external collaborator — Stack
// only exposes the single-threaded entry points spec.md §5 calls for.
package stack

import (
	"net/netip"
	"time"

	"github.com/m-lab/ustack/asyncsignal"
	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/config"
	"github.com/m-lab/ustack/driver"
	"github.com/m-lab/ustack/iface"
	"github.com/m-lab/ustack/ip4"
	"github.com/m-lab/ustack/pmtu"
	"github.com/m-lab/ustack/tcp"
	"github.com/m-lab/ustack/tcpconn"
	"github.com/m-lab/ustack/timerheap"
	"github.com/m-lab/ustack/ustackerr"
)

// Stack owns every per-process piece of ustack state and is not safe for
// concurrent use — all methods must run on the single event-loop thread
// (spec.md §5), the same constraint the teacher's collector.Run ticker
// loop imposes on its own owned state.
type Stack struct {
	Cfg     *config.Config
	Timers  *timerheap.Heap
	Signals *asyncsignal.Bus
	PMTU    *pmtu.Cache
	IP4     *ip4.Engine
	TCP     *tcp.Transport

	ifaces []*iface.Iface
}

// New constructs a Stack from cfg, wiring the IPv4 engine to a fresh PMTU
// cache and the TCP transport to that engine.
func New(cfg *config.Config) *Stack {
	timers := timerheap.New()
	s := &Stack{
		Cfg:     cfg,
		Timers:  timers,
		Signals: asyncsignal.New(),
		PMTU:    pmtu.New(cfg.MaxPmtuEntries),
	}
	s.IP4 = ip4.NewEngine(cfg, s.PMTU)
	s.TCP = tcp.NewTransport(s.IP4, cfg, timers, s.PMTU)
	return s
}

// AddIface registers ifc with the IPv4 engine and this Stack's bookkeeping
// (registration order breaks routing ties, spec.md §8 property 4).
func (s *Stack) AddIface(ifc *iface.Iface) {
	s.ifaces = append(s.ifaces, ifc)
	s.IP4.AddIface(ifc)
}

// ifaceReceiver adapts a bound *iface.Iface into a driver.Receiver that
// hands every arriving frame to the IPv4 engine.
type ifaceReceiver struct {
	stack *Stack
	ifc   *iface.Iface
}

// RecvIP4Packet implements driver.Receiver.
func (r ifaceReceiver) RecvIP4Packet(pkt bufchain.Ref) {
	r.stack.IP4.ProcessRecv(r.ifc, pkt)
}

// BindReceiver returns a driver.Receiver bound to ifc, suitable for
// passing to driver.LoopbackEnd.Bind or a real Driver's receive hookup.
func (s *Stack) BindReceiver(ifc *iface.Iface) driver.Receiver {
	return ifaceReceiver{stack: s, ifc: ifc}
}

// Poll runs every expired timer and drains the async-signal bus, the two
// sources of scheduled work spec.md §5 names; the caller's own event loop
// drives packet arrival separately via BindReceiver's callback. It
// returns the deadline of the next still-pending timer, or the zero time
// if none remain, so the caller knows how long it may safely block.
func (s *Stack) Poll(now time.Time) time.Time {
	next := s.Timers.Run(now)
	s.Signals.Dispatch()
	return next
}

// Listen registers a tcpconn passive-open listener on localPort.
func (s *Stack) Listen(localPort uint16, onConn func(*tcpconn.Connection)) (*tcpconn.Listener, ustackerr.Error) {
	return tcpconn.Listen(s.TCP, localPort, s.Cfg, onConn)
}

// Dial actively opens a connection from localAddr to (remoteAddr,
// remotePort).
func (s *Stack) Dial(localAddr, remoteAddr netip.Addr, remotePort uint16) (*tcpconn.Connection, ustackerr.Error) {
	return tcpconn.Connect(s.TCP, localAddr, remoteAddr, remotePort)
}
