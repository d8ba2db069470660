package tcp

import (
	"net/netip"

	"github.com/m-lab/ustack/ip4"
	"github.com/m-lab/ustack/ringbuf"
	"github.com/m-lab/ustack/ustackerr"
)

// nextEphemeralPort scans the configured ephemeral range for a local port
// not already paired with (remoteAddr, remotePort) (spec.md §4.J, §6
// TcpNumEphemeralPorts), starting just past the last port handed out.
func (t *Transport) nextEphemeralPort(localAddr, remoteAddr netip.Addr, remotePort uint16) (uint16, bool) {
	const base = 49152
	n := t.cfg.TcpNumEphemeralPorts
	if n <= 0 || n > 65535-base {
		n = 65535 - base
	}
	for i := 0; i < n; i++ {
		port := uint16(base + (int(t.ephemeralCursor)+i)%n)
		id := Identity{LocalAddr: localAddr, LocalPort: port, RemoteAddr: remoteAddr, RemotePort: remotePort}
		if _, exists := t.Table.Lookup(id); !exists {
			t.ephemeralCursor = uint32(port-base) + 1
			return port, true
		}
	}
	return 0, false
}

// Connect actively opens a connection: allocates an ephemeral local port
// and a fresh PCB in SYN_SENT bound to sndBufCap/rcvBufCap buffers, and
// sends the initial SYN (spec.md §4.J).
func (t *Transport) Connect(localAddr, remoteAddr netip.Addr, remotePort uint16, sndBufCap, rcvBufCap int) (*PCB, ustackerr.Error) {
	localPort, ok := t.nextEphemeralPort(localAddr, remoteAddr, remotePort)
	if !ok {
		return nil, ustackerr.NoPortAvailable
	}
	id := Identity{LocalAddr: localAddr, LocalPort: localPort, RemoteAddr: remoteAddr, RemotePort: remotePort}
	pcb, err := t.newPCB(id, nil)
	if !err.OK() {
		return nil, err
	}
	t.BindBuffers(pcb, sndBufCap, rcvBufCap)

	mss := uint16(536)
	if outIface, _, rerr := t.engine.RouteFor(remoteAddr, nil); rerr.OK() {
		mss = uint16(outIface.MTU - ip4.HeaderLen - HeaderLen)
	}
	pcb.BaseSndMSS = mss
	pcb.SndMSS = mss
	pcb.State = SYN_SENT
	pcb.ISS = t.nextISN()
	pcb.SndUna = pcb.ISS
	pcb.SndNxt = pcb.ISS + 1
	pcb.RTO = t.cfg.TcpSynRtxTime
	pcb.set(FlagWndScale)
	pcb.RcvWndShift = wndShiftForCapacity(pcb.RcvBuf.Cap())

	t.sendSegment(pcb, pcb.ISS, FlagSYN, BuildOptions(mss, true, pcb.RcvWndShift), 0, 0)
	t.armRtxTimer(pcb)
	return pcb, ustackerr.Success
}

// BindBuffers allocates pcb's snd_buf/rcv_buf rings. Called once, either
// by Connect (active open) or by a Listener.OnAccept callback (passive
// open) before the handshake completes.
func (t *Transport) BindBuffers(pcb *PCB, sndBufCap, rcvBufCap int) {
	pcb.SndBuf = ringbuf.New(sndBufCap)
	pcb.RcvBuf = ringbuf.New(rcvBufCap)
}

// KickOutput resumes the send-queue drain loop, called whenever an
// application pushes new data onto snd_buf.
func (t *Transport) KickOutput(pcb *PCB) {
	t.outputActive(pcb)
}

// AnnounceWindow sends a pure ACK carrying the current announced window,
// used after the application drains rcv_buf so the peer learns the
// window reopened (spec.md §4.J ExtendRcvWnd).
func (t *Transport) AnnounceWindow(pcb *PCB) {
	switch pcb.State {
	case ESTABLISHED, FIN_WAIT_1, FIN_WAIT_2, CLOSE_WAIT:
		t.sendSegment(pcb, pcb.SndNxt, FlagACK, nil, 0, 0)
	}
}

// CloseSend queues a FIN after all data currently in snd_buf (spec.md §3
// Lifecycle: orderly close).
func (t *Transport) CloseSend(pcb *PCB) {
	switch pcb.State {
	case ESTABLISHED:
		pcb.State = FIN_WAIT_1
		if pcb.Delegate != nil {
			pcb.Delegate.StateChanged(FIN_WAIT_1)
		}
	case CLOSE_WAIT:
		pcb.State = LAST_ACK
		if pcb.Delegate != nil {
			pcb.Delegate.StateChanged(LAST_ACK)
		}
	default:
		return
	}
	pcb.set(FlagFinPending)
	t.outputActive(pcb)
}

// Abort tears pcb down immediately with an RST (spec.md §3 Lifecycle).
func (t *Transport) Abort(pcb *PCB) {
	t.abortWithRST(pcb)
}
