// Package tcpconn implements the user-facing byte-stream API over a
// tcp.PCB (spec.md §4.J): Listener for passive open, Connection for the
// read/write/close surface of an established stream. It is kept as a
// separate package from tcp so the state machine has no dependency on the
// application-facing API shape — tcp.PCB.Delegate is the only seam
// between them.
package tcpconn

import (
	"net/netip"

	"github.com/m-lab/ustack/config"
	"github.com/m-lab/ustack/tcp"
	"github.com/m-lab/ustack/ustackerr"
)

const defaultBufSize = 64 * 1024

// Listener accepts inbound connections on a local port.
type Listener struct {
	table     *tcp.Table
	transport *tcp.Transport
	inner     *tcp.Listener

	onConn func(*Connection)
}

// Listen registers a passive-open listener on localPort. onConn is called
// synchronously from within segment processing the moment a SYN_RCVD PCB
// is accepted (spec.md §4.J) — it must not block.
func Listen(transport *tcp.Transport, localPort uint16, cfg *config.Config, onConn func(*Connection)) (*Listener, ustackerr.Error) {
	l := &Listener{transport: transport, table: transport.Table, onConn: onConn}
	inner, err := transport.Table.Listen(localPort, cfg.TcpMaxPcbs, defaultBufSize, l.onAccept)
	if !err.OK() {
		return nil, err
	}
	l.inner = inner
	return l, ustackerr.Success
}

// Close stops accepting new connections on this port; PCBs already
// accepted are unaffected.
func (l *Listener) Close() {
	l.table.Unlisten(l.inner)
}

// onAccept is tcp.Listener.OnAccept: it binds send/receive ring buffers
// and a Delegate to the freshly allocated SYN_RCVD PCB, then hands a
// Connection to the registered callback. Returning false rejects the
// connection before any SYN-ACK is sent.
func (l *Listener) onAccept(pcb *tcp.PCB) bool {
	if l.onConn == nil {
		return false
	}
	c := bindConnection(l.transport, pcb, defaultBufSize, int(l.inner.InitialRcvWnd))
	l.onConn(c)
	return true
}

// Connect actively opens a connection to (remoteAddr, remotePort) from
// localAddr, allocating an ephemeral local port (spec.md §4.J).
func Connect(transport *tcp.Transport, localAddr, remoteAddr netip.Addr, remotePort uint16) (*Connection, ustackerr.Error) {
	pcb, err := transport.Connect(localAddr, remoteAddr, remotePort, defaultBufSize, defaultBufSize)
	if !err.OK() {
		return nil, err
	}
	return bindConnection(transport, pcb, 0, 0), ustackerr.Success
}

// Connection is an established (or establishing) TCP byte stream.
type Connection struct {
	transport *tcp.Transport
	pcb       *tcp.PCB

	onData   func()
	onState  func(tcp.State)
	onClosed func(ustackerr.Error)
}

// bindConnection wraps pcb in a Connection and installs it as the PCB's
// Delegate. If sndCap/rcvCap are non-zero and the PCB has no buffers yet
// (the passive-open path), rings of that capacity are allocated first;
// the active-open path (tcp.Transport.Connect) already bound its own.
func bindConnection(t *tcp.Transport, pcb *tcp.PCB, sndCap, rcvCap int) *Connection {
	if pcb.SndBuf == nil && sndCap > 0 {
		t.BindBuffers(pcb, sndCap, rcvCap)
	}
	c := &Connection{transport: t, pcb: pcb}
	pcb.Delegate = c
	return c
}

// LocalAddr, RemoteAddr, LocalPort, RemotePort expose the PCB's identity.
func (c *Connection) LocalAddr() netip.Addr { return c.pcb.LocalAddr }
func (c *Connection) RemoteAddr() netip.Addr { return c.pcb.RemoteAddr }
func (c *Connection) LocalPort() uint16      { return c.pcb.LocalPort }
func (c *Connection) RemotePort() uint16     { return c.pcb.RemotePort }
func (c *Connection) State() tcp.State       { return c.pcb.State }

// OnDataAvailable, OnStateChanged, OnClosed register the callbacks this
// Connection's Delegate methods forward to.
func (c *Connection) OnDataAvailable(f func())         { c.onData = f }
func (c *Connection) OnStateChanged(f func(tcp.State)) { c.onState = f }
func (c *Connection) OnClosed(f func(ustackerr.Error))  { c.onClosed = f }

// SndPush queues data for output and kicks the send-queue drain loop
// (spec.md §4.J: appends to snd_buf and marks the push index).
func (c *Connection) SndPush(data []byte) int {
	if c.pcb.SndBuf == nil {
		return 0
	}
	n := c.pcb.SndBuf.Write(data)
	c.pcb.SndPshIndex = uint32(c.pcb.SndBufTotLen())
	c.transport.KickOutput(c.pcb)
	return n
}

// RecvAvailable returns the number of bytes currently queued in rcv_buf.
func (c *Connection) RecvAvailable() int {
	if c.pcb.RcvBuf == nil {
		return 0
	}
	return c.pcb.RcvBuf.Len()
}

// Recv copies up to len(dst) queued received bytes into dst and consumes
// them from rcv_buf, returning the number of bytes copied.
func (c *Connection) Recv(dst []byte) int {
	if c.pcb.RcvBuf == nil {
		return 0
	}
	n := c.pcb.RcvBuf.Len()
	if n > len(dst) {
		n = len(dst)
	}
	if n == 0 {
		return 0
	}
	ref := c.pcb.RcvBuf.View(0, n)
	ref.Take(n, dst)
	c.pcb.RcvBuf.Consume(n)
	return n
}

// ExtendRcvWnd is called once the application has drained received bytes,
// so the next outgoing ACK announces the freed window (spec.md §4.J).
func (c *Connection) ExtendRcvWnd() {
	c.transport.AnnounceWindow(c.pcb)
}

// Close initiates an orderly close: queues a FIN after all pending send
// data (spec.md §3 Lifecycle).
func (c *Connection) Close() {
	c.transport.CloseSend(c.pcb)
}

// Abort tears the connection down immediately with an RST.
func (c *Connection) Abort() {
	c.transport.Abort(c.pcb)
}

// DataAvailable implements tcp.Delegate.
func (c *Connection) DataAvailable() {
	if c.onData != nil {
		c.onData()
	}
}

// StateChanged implements tcp.Delegate.
func (c *Connection) StateChanged(s tcp.State) {
	if c.onState != nil {
		c.onState(s)
	}
}

// Closed implements tcp.Delegate.
func (c *Connection) Closed(err ustackerr.Error) {
	if c.onClosed != nil {
		c.onClosed(err)
	}
}
