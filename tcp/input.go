package tcp

import (
	"net/netip"
	"time"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/iface"
	"github.com/m-lab/ustack/ip4"
	"github.com/m-lab/ustack/ustackerr"
)

// receiveSegment is the ip4.ProtocolHandler Transport registers for proto 6
// (spec.md §4.H): validate the segment, demux to a PCB or listener, and
// dispatch by state. Always returns true — an unparseable or checksum-bad
// segment is simply dropped, not handed on to ICMP.
func (t *Transport) receiveSegment(srcIface *iface.Iface, hdr ip4.Header, payload bufchain.Ref) bool {
	buf := payload.Bytes()
	h, data, ok := ParseSegment(buf)
	if !ok {
		return true
	}
	if !verifySegmentChecksum(hdr, buf) {
		return true
	}

	localAddr := netip.AddrFrom4(hdr.Dst)
	remoteAddr := netip.AddrFrom4(hdr.Src)
	id := Identity{LocalAddr: localAddr, LocalPort: h.DstPort, RemoteAddr: remoteAddr, RemotePort: h.SrcPort}

	if pcb, ok := t.Table.Lookup(id); ok {
		t.dispatchSegment(pcb, srcIface, h, data)
		return true
	}

	if l, ok := t.Table.LookupListener(h.DstPort); ok {
		if h.Flags&FlagRST != 0 {
			return true
		}
		if h.Flags&FlagSYN != 0 && h.Flags&FlagACK == 0 {
			t.handleListenSyn(srcIface, localAddr, remoteAddr, h, l)
			return true
		}
	}

	if h.Flags&FlagRST == 0 {
		t.sendRSTReply(localAddr, remoteAddr, h.DstPort, h.SrcPort, h, len(data))
	}
	return true
}

// verifySegmentChecksum recomputes the pseudo-header + segment checksum
// and reports whether it folds to the all-ones sentinel (spec.md §6).
func verifySegmentChecksum(hdr ip4.Header, buf []byte) bool {
	acc := PseudoHeaderAccumulator(hdr.Src, hdr.Dst, uint16(len(buf)))
	acc.AddIPBuf(buf)
	return acc.Checksum() == 0
}

// wndShiftForCapacity picks the smallest receive-window shift that lets a
// ring of the given capacity ever be announced in a 16-bit TCP window
// field (spec.md §4.H window-scale negotiation).
func wndShiftForCapacity(capacity int) uint8 {
	var shift uint8
	for capacity>>shift > 65535 {
		shift++
	}
	return shift
}

// dispatchSegment routes an already-demuxed segment to the per-state
// handler (spec.md §4.H).
func (t *Transport) dispatchSegment(pcb *PCB, srcIface *iface.Iface, h SegHeader, data []byte) {
	switch pcb.State {
	case SYN_SENT:
		t.handleSynSent(pcb, h, data)
	case SYN_RCVD:
		t.handleSynRcvd(pcb, h, data)
	default:
		t.handleOpenState(pcb, h, data)
	}
}

// handleListenSyn implements the passive-open half of spec.md §4.G/§4.H: a
// SYN arrived on a listened port with no existing PCB. A fresh SYN_RCVD
// PCB is allocated against the listener's quota, then Listener.OnAccept is
// given the chance to bind buffers/Delegate synchronously (lwIP-style
// accept-on-SYN) before the SYN-ACK goes out.
func (t *Transport) handleListenSyn(srcIface *iface.Iface, localAddr, remoteAddr netip.Addr, h SegHeader, l *Listener) {
	id := Identity{LocalAddr: localAddr, LocalPort: h.DstPort, RemoteAddr: remoteAddr, RemotePort: h.SrcPort}
	if _, exists := t.Table.Lookup(id); exists {
		return
	}
	pcb, err := t.newPCB(id, l)
	if !err.OK() {
		return
	}
	pcb.State = SYN_RCVD

	opts := ParseOptions(h.Options)
	mss := uint16(srcIface.MTU - ip4.HeaderLen - HeaderLen)
	if opts.HasMSS && opts.MSS < mss {
		mss = opts.MSS
	}
	pcb.BaseSndMSS = mss
	pcb.SndMSS = mss
	pcb.IRS = h.Seq
	pcb.RcvNxt = h.Seq + 1
	pcb.ISS = t.nextISN()
	pcb.SndUna = pcb.ISS
	pcb.SndNxt = pcb.ISS + 1
	pcb.Cwnd = InitialCwnd(mss)
	pcb.RTO = t.cfg.TcpInitialRtxTime

	if l.OnAccept != nil && !l.OnAccept(pcb) {
		t.Table.DetachFromListener(l)
		t.Table.Remove(pcb)
		return
	}
	t.Table.DetachFromListener(l)

	if pcb.RcvBuf != nil {
		pcb.RcvWndShift = wndShiftForCapacity(pcb.RcvBuf.Cap())
	}
	useWScale := opts.HasWScale
	if useWScale {
		pcb.set(FlagWndScale)
	}
	t.sendSegment(pcb, pcb.ISS, FlagSYN|FlagACK, BuildOptions(mss, useWScale, pcb.RcvWndShift), 0, 0)
	t.armRtxTimer(pcb)
}

// handleSynSent processes the reply to an active-open SYN (spec.md §4.H):
// SYN-ACK completes the handshake, a bare SYN means a simultaneous open,
// RST with a matching ACK aborts.
func (t *Transport) handleSynSent(pcb *PCB, h SegHeader, data []byte) {
	if h.Flags&FlagACK != 0 && (seqLEQ(h.Ack, pcb.ISS) || seqGT(h.Ack, pcb.SndNxt)) {
		if h.Flags&FlagRST == 0 {
			t.sendRSTReply(pcb.LocalAddr, pcb.RemoteAddr, pcb.LocalPort, pcb.RemotePort, h, len(data))
		}
		return
	}
	if h.Flags&FlagRST != 0 {
		if h.Flags&FlagACK != 0 {
			t.destroyPCB(pcb, ustackerr.HardwareError)
		}
		return
	}
	if h.Flags&FlagSYN == 0 {
		return
	}

	pcb.IRS = h.Seq
	pcb.RcvNxt = h.Seq + 1
	opts := ParseOptions(h.Options)
	if opts.HasMSS && opts.MSS < pcb.SndMSS {
		pcb.SndMSS = opts.MSS
	}
	if opts.HasWScale && pcb.has(FlagWndScale) {
		pcb.SndWndShift = opts.WScale
	} else {
		pcb.clear(FlagWndScale)
		pcb.RcvWndShift = 0
	}

	if h.Flags&FlagACK != 0 {
		pcb.SndUna = h.Ack
		pcb.SndWnd = uint32(h.Window) << pcb.SndWndShift
		pcb.State = ESTABLISHED
		pcb.Cwnd = InitialCwnd(pcb.SndMSS)
		if pcb.RtxTimer != nil {
			pcb.RtxTimer.Unset()
		}
		t.sendSegment(pcb, pcb.SndNxt, FlagACK, nil, 0, 0)
		if pcb.Delegate != nil {
			pcb.Delegate.StateChanged(ESTABLISHED)
		}
		t.outputActive(pcb)
		return
	}

	// Simultaneous open: both sides sent a bare SYN. Move to SYN_RCVD and
	// re-send our own SYN (now ACKing theirs), per RFC 9293 §3.5.
	pcb.State = SYN_RCVD
	t.sendSegment(pcb, pcb.ISS, FlagSYN|FlagACK, BuildOptions(pcb.BaseSndMSS, pcb.has(FlagWndScale), pcb.RcvWndShift), 0, 0)
}

// handleSynRcvd processes the final ACK of a passive-open handshake
// (spec.md §4.H).
func (t *Transport) handleSynRcvd(pcb *PCB, h SegHeader, data []byte) {
	if h.Flags&FlagRST != 0 {
		t.destroyPCB(pcb, ustackerr.HardwareError)
		return
	}
	if h.Flags&FlagSYN != 0 && h.Seq != pcb.IRS {
		t.sendRSTReply(pcb.LocalAddr, pcb.RemoteAddr, pcb.LocalPort, pcb.RemotePort, h, len(data))
		return
	}
	if h.Flags&FlagACK == 0 {
		return
	}
	if h.Ack != pcb.SndNxt {
		t.sendRSTReply(pcb.LocalAddr, pcb.RemoteAddr, pcb.LocalPort, pcb.RemotePort, h, len(data))
		return
	}

	pcb.SndUna = h.Ack
	pcb.SndWnd = uint32(h.Window) << pcb.SndWndShift
	pcb.State = ESTABLISHED
	if pcb.RtxTimer != nil {
		pcb.RtxTimer.Unset()
	}
	if pcb.Delegate != nil {
		pcb.Delegate.StateChanged(ESTABLISHED)
	}
	t.processDataAndFin(pcb, h, data)
	if pcb.has(FlagAckPending) {
		t.sendSegment(pcb, pcb.SndNxt, FlagACK, nil, 0, 0)
	}
	t.outputActive(pcb)
}

// handleOpenState processes segments for every post-handshake state
// (ESTABLISHED through TIME_WAIT), spec.md §4.H.
func (t *Transport) handleOpenState(pcb *PCB, h SegHeader, data []byte) {
	if pcb.State == TIME_WAIT {
		if h.Flags&FlagFIN != 0 {
			t.sendSegment(pcb, pcb.SndNxt, FlagACK, nil, 0, 0)
		}
		return
	}

	if h.Flags&FlagRST != 0 {
		t.destroyPCB(pcb, ustackerr.Success)
		return
	}
	if h.Flags&FlagSYN != 0 {
		t.sendRSTReply(pcb.LocalAddr, pcb.RemoteAddr, pcb.LocalPort, pcb.RemotePort, h, len(data))
		t.destroyPCB(pcb, ustackerr.HardwareError)
		return
	}

	if h.Flags&FlagACK != 0 {
		t.processAck(pcb, h)
	}

	t.processDataAndFin(pcb, h, data)

	if pcb.has(FlagAckPending) {
		t.sendSegment(pcb, pcb.SndNxt, FlagACK, nil, 0, 0)
	}

	t.outputActive(pcb)
}

// processAck implements spec.md §4.H/§4.I ACK processing: duplicate-ACK
// counting and fast recovery entry, SndUna advancement, NewReno cwnd
// growth/deflation, RTT sampling, and FIN-related state transitions.
func (t *Transport) processAck(pcb *PCB, h SegHeader) {
	if seqGT(h.Ack, pcb.SndNxt) {
		return // ACKs data we never sent; ignore.
	}
	pcb.SndWnd = uint32(h.Window) << pcb.SndWndShift

	if h.Ack == pcb.SndUna {
		if pcb.InFlight() > 0 {
			pcb.NumDupAck++
			switch {
			case pcb.NumDupAck == 3 && !pcb.has(FlagRecoverActive):
				pcb.EnterFastRecovery()
				t.retransmitHead(pcb)
			case pcb.has(FlagRecoverActive):
				// EnterFastRecovery reset the count, so every duplicate
				// ACK seen while recovering is past the third.
				pcb.InflateOnDupAck()
				t.outputActive(pcb)
			}
		}
		return
	}

	acked := h.Ack - pcb.SndUna
	wasRecovering := pcb.has(FlagRecoverActive)
	t.advanceSndUna(pcb, h.Ack)

	switch {
	case wasRecovering && seqGEQ(h.Ack, pcb.Recover):
		pcb.ExitFastRecoveryOnFullAck()
	case wasRecovering:
		pcb.PartialAckDuringRecovery(acked)
		t.retransmitHead(pcb)
	default:
		pcb.NumDupAck = 0
		pcb.GrowCwndOnAck(acked)
	}

	pcb.CompleteRTTMeasurement(h.Ack, time.Now(), t.cfg.TcpMinRtxTime, t.cfg.TcpMaxRtxTime)

	if pcb.InFlight() > 0 {
		t.armRtxTimer(pcb)
	} else if pcb.RtxTimer != nil {
		pcb.RtxTimer.Unset()
	}

	t.maybeAdvanceCloseState(pcb, h.Ack)
}

// advanceSndUna moves snd_una forward to ack and releases the newly
// acknowledged prefix of SndBuf.
func (t *Transport) advanceSndUna(pcb *PCB, ack uint32) {
	advanced := int(ack - pcb.SndUna)
	pcb.SndUna = ack
	if pcb.SndBuf == nil {
		return
	}
	consume := advanced
	if consume > pcb.SndBufSent {
		consume = pcb.SndBufSent
	}
	if consume > 0 {
		pcb.SndBuf.Consume(consume)
		pcb.SndBufSent -= consume
	}
}

// retransmitHead re-sends up to one SMSS worth of data starting at
// snd_una, used both by the 3rd-dup-ACK fast retransmit and by each
// NewReno partial ACK during recovery (spec.md §4.I, §8 property 8).
func (t *Transport) retransmitHead(pcb *PCB) {
	unacked := pcb.InFlight()
	if unacked <= 0 {
		return
	}
	n := unacked
	if n > int(pcb.SndMSS) {
		n = int(pcb.SndMSS)
	}
	flags := FlagACK
	if n == pcb.SndBufSent && pcb.has(FlagFinSent) {
		flags |= FlagFIN
	}
	t.sendSegment(pcb, pcb.SndUna, flags, nil, 0, n)
}

// maybeAdvanceCloseState advances the FIN-initiated close states once our
// own FIN has been fully acknowledged (spec.md §3 Lifecycle).
func (t *Transport) maybeAdvanceCloseState(pcb *PCB, ack uint32) {
	if !pcb.has(FlagFinSent) || ack != pcb.SndNxt {
		return
	}
	switch pcb.State {
	case FIN_WAIT_1:
		pcb.State = FIN_WAIT_2
		if pcb.Delegate != nil {
			pcb.Delegate.StateChanged(FIN_WAIT_2)
		}
	case CLOSING:
		t.Table.EnterTimeWait(pcb, t.timers, t.cfg.TcpTimeWaitTime)
		if pcb.Delegate != nil {
			pcb.Delegate.StateChanged(TIME_WAIT)
		}
	case LAST_ACK:
		t.destroyPCB(pcb, ustackerr.Success)
	}
}

// processDataAndFin appends in-sequence data to RcvBuf and advances
// rcv_nxt past a FIN that immediately follows it. Out-of-order data is
// dropped without buffering (spec.md §1 Non-goals exclude SACK); the
// cumulative ACK this still triggers drives the sender's fast-retransmit
// or RTO path to refill the gap.
func (t *Transport) processDataAndFin(pcb *PCB, h SegHeader, data []byte) {
	if len(data) > 0 {
		if h.Seq == pcb.RcvNxt && pcb.RcvBuf != nil {
			n := pcb.RcvBuf.Write(data)
			pcb.RcvNxt += uint32(n)
			if n > 0 && pcb.Delegate != nil {
				pcb.Delegate.DataAvailable()
			}
		}
		pcb.set(FlagAckPending)
	}

	finSeq := h.Seq + uint32(len(data))
	if h.Flags&FlagFIN != 0 && finSeq == pcb.RcvNxt {
		pcb.RcvNxt++
		pcb.set(FlagAckPending)
		t.handleRemoteFin(pcb)
	}
}

// handleRemoteFin implements the receive-a-FIN transitions of spec.md §3
// Lifecycle.
func (t *Transport) handleRemoteFin(pcb *PCB) {
	switch pcb.State {
	case ESTABLISHED:
		pcb.State = CLOSE_WAIT
		if pcb.Delegate != nil {
			pcb.Delegate.StateChanged(CLOSE_WAIT)
		}
	case FIN_WAIT_1:
		pcb.State = CLOSING
		if pcb.Delegate != nil {
			pcb.Delegate.StateChanged(CLOSING)
		}
	case FIN_WAIT_2:
		t.Table.EnterTimeWait(pcb, t.timers, t.cfg.TcpTimeWaitTime)
		if pcb.Delegate != nil {
			pcb.Delegate.StateChanged(TIME_WAIT)
		}
	}
}
