package tcp

import (
	"time"

	"github.com/m-lab/ustack/timerheap"
	"github.com/m-lab/ustack/ustackerr"
)

// Listener accepts inbound connections on a local port (spec.md §4.G,
// §4.J). A configurable MaxPcbs quota bounds SYN_RCVD PCBs charged
// against it; acceptance (OnAccept binding a Connection synchronously)
// detaches the PCB from the quota.
type Listener struct {
	LocalPort     uint16
	MaxPcbs       int
	InitialRcvWnd uint32
	OnAccept      func(pcb *PCB) bool // true = accepted synchronously

	liveSynRcvd int
}

// Table is the PCB demultiplexing table: exact 4-tuple lookup for
// established connections, falling back to per-port listeners (spec.md
// §4.G).
type Table struct {
	pcbs      map[Identity]*PCB
	listeners map[uint16]*Listener
	maxPcbs   int
	count     int
}

// NewTable creates a Table bounded at maxPcbs total PCBs across every
// listener and connection (spec.md §6 TcpMaxPcbs).
func NewTable(maxPcbs int) *Table {
	return &Table{
		pcbs:      make(map[Identity]*PCB),
		listeners: make(map[uint16]*Listener),
		maxPcbs:   maxPcbs,
	}
}

// Listen registers a Listener on localPort. Returns AddrInUse if the port
// already has a listener.
func (t *Table) Listen(localPort uint16, maxPcbs int, initialRcvWnd uint32, onAccept func(*PCB) bool) (*Listener, ustackerr.Error) {
	if _, exists := t.listeners[localPort]; exists {
		return nil, ustackerr.AddrInUse
	}
	l := &Listener{LocalPort: localPort, MaxPcbs: maxPcbs, InitialRcvWnd: initialRcvWnd, OnAccept: onAccept}
	t.listeners[localPort] = l
	return l, ustackerr.Success
}

// Unlisten removes a listener from the table. PCBs created through it are
// left in place.
func (t *Table) Unlisten(l *Listener) {
	delete(t.listeners, l.LocalPort)
}

// Lookup finds an exact 4-tuple match.
func (t *Table) Lookup(id Identity) (*PCB, bool) {
	p, ok := t.pcbs[id]
	return p, ok
}

// LookupListener finds a listener bound to localPort.
func (t *Table) LookupListener(localPort uint16) (*Listener, bool) {
	l, ok := t.listeners[localPort]
	return l, ok
}

// NewPCB allocates and registers a PCB for id, enforcing the table-wide
// MaxPcbs quota. If l is non-nil (a SYN_RCVD PCB being created from a
// listener), the listener's own MaxPcbs quota is also enforced.
func (t *Table) NewPCB(id Identity, l *Listener) (*PCB, ustackerr.Error) {
	if t.count >= t.maxPcbs {
		return nil, ustackerr.NoPcbAvailable
	}
	if l != nil && l.liveSynRcvd >= l.MaxPcbs {
		return nil, ustackerr.NoPcbAvailable
	}
	p := &PCB{Identity: id, table: t}
	t.pcbs[id] = p
	t.count++
	if l != nil {
		l.liveSynRcvd++
	}
	return p, ustackerr.Success
}

// DetachFromListener removes one quota charge from listener l, called once
// a SYN_RCVD PCB is accepted into a live Connection (spec.md §4.G).
func (t *Table) DetachFromListener(l *Listener) {
	if l != nil && l.liveSynRcvd > 0 {
		l.liveSynRcvd--
	}
}

// Remove deletes pcb from the table entirely (abort, or orderly close
// completion without TIME_WAIT, e.g. simultaneous close edge cases).
func (t *Table) Remove(pcb *PCB) {
	if _, ok := t.pcbs[pcb.Identity]; ok {
		delete(t.pcbs, pcb.Identity)
		t.count--
	}
}

// EnterTimeWait transitions pcb into a recycled TIME_WAIT slot: only
// identity and a 2MSL timer remain live (spec.md §3 Lifecycle). The timer
// fires Remove when the wait period elapses.
func (t *Table) EnterTimeWait(pcb *PCB, heap *timerheap.Heap, wait time.Duration) {
	pcb.State = TIME_WAIT
	pcb.SndBuf = nil
	pcb.RcvBuf = nil
	pcb.Delegate = nil
	if pcb.RtxTimer != nil {
		pcb.RtxTimer.Unset()
	}
	if pcb.OutputTimer != nil {
		pcb.OutputTimer.Unset()
	}
	timer := heap.NewTimer(func(*timerheap.Timer) {
		t.Remove(pcb)
	})
	timer.Set(time.Now().Add(wait))
	pcb.RtxTimer = timer
}

// Count returns the number of PCBs currently registered (all states).
func (t *Table) Count() int { return t.count }

// All returns every PCB currently registered, in no particular order. It is
// meant for debugging/export snapshots (e.g. package snapshot), never for
// hot-path lookups.
func (t *Table) All() []*PCB {
	out := make([]*PCB, 0, len(t.pcbs))
	for _, p := range t.pcbs {
		out = append(out, p)
	}
	return out
}
