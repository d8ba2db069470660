package tcp

import (
	"net/netip"
	"time"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/ip4"
)

// sendSegment builds and transmits one TCP segment: seq/flags/options as
// given, data sliced directly from pcb.SndBuf at [dataOffset, +dataLen)
// with no copy (spec.md §4.B "prepared send" / zero-copy scatter-gather).
func (t *Transport) sendSegment(pcb *PCB, seq uint32, flags uint8, options []byte, dataOffset, dataLen int) {
	var data bufchain.Ref
	if dataLen > 0 && pcb.SndBuf != nil {
		data = pcb.SndBuf.View(dataOffset, dataLen)
	} else {
		data = bufchain.NewRef(&bufchain.Node{}, 0)
	}

	ack := uint32(0)
	if flags&FlagACK != 0 {
		ack = pcb.RcvNxt
	}
	h := SegHeader{
		SrcPort: pcb.LocalPort, DstPort: pcb.RemotePort,
		Seq: seq, Ack: ack, Flags: flags,
		Window: uint16(pcb.AnnouncedWindow()),
	}

	headerBuf := make([]byte, HeaderLen+len(options))
	tcpLen := uint16(len(headerBuf) + data.TotLen())
	acc := PseudoHeaderAccumulator(pcb.LocalAddr.As4(), pcb.RemoteAddr.As4(), tcpLen)
	MarshalSegment(h, options, data, headerBuf, acc)

	dataNode, next := data.HeadNode()
	contNode := &bufchain.Node{Data: dataNode, Next: next}
	var outNode bufchain.Node
	ref := bufchain.SubHeaderToContinuedBy(headerBuf, contNode, int(tcpLen), &outNode)

	t.sendRaw(pcb, ref, nil, nil)

	if flags&FlagACK != 0 {
		pcb.clear(FlagAckPending)
	}
}

// sendRSTReply replies with a bare RST (or RST-ACK) using the RFC 793 formula
// of spec.md §4.H step 2, without requiring a live PCB: if the incoming
// segment carried ACK, seq=ack_num with no ACK flag set; otherwise
// seq=0/ack=seq+seqlen with ACK set.
func (t *Transport) sendRSTReply(localAddr, remoteAddr netip.Addr, localPort, remotePort uint16, in SegHeader, dataLen int) {
	var h SegHeader
	h.SrcPort, h.DstPort = localPort, remotePort
	h.Flags = FlagRST
	if in.Flags&FlagACK != 0 {
		h.Seq = in.Ack
	} else {
		h.Seq = 0
		h.Ack = in.Seq + segLen(in, dataLen)
		h.Flags |= FlagACK
	}
	headerBuf := make([]byte, HeaderLen)
	acc := PseudoHeaderAccumulator(localAddr.As4(), remoteAddr.As4(), HeaderLen)
	empty := bufchain.NewRef(&bufchain.Node{}, 0)
	MarshalSegment(h, nil, empty, headerBuf, acc)
	node := &bufchain.Node{Data: headerBuf}
	ref := bufchain.NewRef(node, HeaderLen)
	t.engine.SendDgram(localAddr, remoteAddr, 64, ip4.ProtoTCP, 0, 0, ref, nil, nil, false)
}

// outputActive implements spec.md §4.I: sends as many segments as the
// window/cwnd/Nagle-equivalent delay rule permit, given queued data
// and/or a pending FIN.
func (t *Transport) outputActive(pcb *PCB) {
	if pcb.State != ESTABLISHED && pcb.State != CLOSE_WAIT && pcb.State != FIN_WAIT_1 && pcb.State != CLOSING && pcb.State != LAST_ACK {
		return
	}

	for {
		queued := pcb.SndBufTotLen() - pcb.SndBufSent
		finPending := pcb.has(FlagFinPending) && !pcb.has(FlagFinSent)
		if queued <= 0 && !finPending {
			break
		}

		remWnd := int(seqMin(pcb.SndWnd, pcb.Cwnd)) - pcb.InFlight()
		if remWnd <= 0 {
			if pcb.SndWnd == 0 {
				t.armWindowProbe(pcb)
			}
			break
		}

		segLen := queued
		if segLen > remWnd {
			segLen = remWnd
		}
		if segLen > int(pcb.SndMSS) {
			segLen = int(pcb.SndMSS)
		}

		sendingFin := finPending && queued <= segLen && remWnd > queued
		if segLen == 0 && !sendingFin {
			break
		}

		pushRange := uint32(pcb.SndBufSent+segLen) > pcb.SndPshIndex
		if !pushRange && segLen < int(pcb.SndMSS) && !sendingFin {
			t.armOutputTimer(pcb)
			break
		}

		flags := FlagACK
		if pushRange || sendingFin {
			flags |= FlagPSH
		}
		if sendingFin {
			flags |= FlagFIN
		}

		seq := pcb.SndUna + uint32(pcb.SndBufSent)
		t.sendSegment(pcb, seq, flags, nil, pcb.SndBufSent, segLen)

		if !pcb.has(FlagRttPending) {
			pcb.StartRTTMeasurement(seq, time.Now())
		}

		pcb.SndBufSent += segLen
		pcb.SndNxt = seqMax(pcb.SndNxt, seq+uint32(segLen))
		if sendingFin {
			pcb.SndNxt++
			pcb.set(FlagFinSent)
		}
		t.armRtxTimer(pcb)

		if queued-segLen <= 0 && !sendingFin {
			break
		}
	}
}

// armOutputTimer schedules the short Nagle-equivalent delayed-send timer
// (spec.md §4.I delay-threshold rule). Both pcb.OutputTimer and
// pcb.RtxTimer are created once, at PCB allocation time, by
// Transport.bindTimers (pcb_timers.go) — arming here only ever calls Set
// on an existing timer.
func (t *Transport) armOutputTimer(pcb *PCB) {
	if pcb.OutputTimer == nil {
		return
	}
	pcb.OutputTimer.Set(time.Now().Add(time.Duration(t.cfg.TcpOutputTimerTicks) * 10 * time.Millisecond))
	pcb.set(FlagOutPending)
}

// armWindowProbe schedules the zero-window probe behavior (spec.md §4.I
// item 4): sends one byte from the head ignoring cwnd, then backs off rto
// using the same schedule as data retransmission (Open Question 2).
func (t *Transport) armWindowProbe(pcb *PCB) {
	t.armRtxTimer(pcb)
}

// armRtxTimer (re)schedules pcb.RtxTimer for RTO from now.
func (t *Transport) armRtxTimer(pcb *PCB) {
	if pcb.RtxTimer != nil {
		pcb.RtxTimer.Set(time.Now().Add(pcb.RTO))
	}
}
