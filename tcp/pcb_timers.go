package tcp

import (
	"github.com/m-lab/ustack/timerheap"
	"github.com/m-lab/ustack/ustackerr"
)

// bindTimers creates pcb's OutputTimer and RtxTimer, wiring their handlers
// back into this Transport. Called once, at PCB allocation (see
// Transport.newPCB).
func (t *Transport) bindTimers(pcb *PCB) {
	pcb.OutputTimer = t.timers.NewTimer(func(*timerheap.Timer) {
		pcb.clear(FlagOutPending)
		t.outputActive(pcb)
	})
	pcb.RtxTimer = t.timers.NewTimer(func(*timerheap.Timer) {
		t.rtxFired(pcb)
	})
}

// rtxFired multiplexes the single RtxTimer across the four behaviors of
// spec.md §4.I: SYN retransmit, idle reset, data retransmit, and window
// probe, selected by the PCB's current state and flags.
func (t *Transport) rtxFired(pcb *PCB) {
	switch pcb.State {
	case SYN_SENT, SYN_RCVD:
		t.synRetransmit(pcb)
		return
	case TIME_WAIT:
		return
	}

	if pcb.SndWnd == 0 && pcb.SndBufTotLen()-pcb.SndBufSent > 0 {
		t.windowProbe(pcb)
		return
	}

	if pcb.InFlight() > 0 {
		t.dataRetransmit(pcb)
		return
	}

	pcb.ResetIdleCwnd()
}

// synRetransmit re-sends the SYN (or SYN-ACK) and exponentially backs off
// RTO up to MaxRtxTime, aborting the connection after MaxSynRtx attempts
// (spec.md §4.I item 1).
func (t *Transport) synRetransmit(pcb *PCB) {
	pcb.SynRtx++
	if pcb.SynRtx > t.cfg.TcpMaxSynRtx {
		t.destroyPCB(pcb, ustackerr.HardwareError)
		return
	}
	flags := FlagSYN
	options := BuildOptions(pcb.BaseSndMSS, true, pcb.RcvWndShift)
	if pcb.State == SYN_RCVD {
		flags |= FlagACK
	}
	t.sendSegment(pcb, pcb.ISS, flags, options, 0, 0)
	pcb.clear(FlagRttPending)
	pcb.RTO = clampRTO(pcb.RTO*2, t.cfg.TcpMinRtxTime, t.cfg.TcpMaxRtxTime)
	t.armRtxTimer(pcb)
}

// dataRetransmit implements spec.md §4.I item 3: halve ssthresh (floored),
// reset cwnd to one segment, clear fast-recovery state, re-queue all
// unacknowledged data from the head, and resume output.
func (t *Transport) dataRetransmit(pcb *PCB) {
	pcb.DataRtx++
	if pcb.DataRtx > t.cfg.TcpMaxRtx {
		t.destroyPCB(pcb, ustackerr.HardwareError)
		return
	}
	pcb.DiscardRTTMeasurementIfRetransmitted(pcb.SndUna, pcb.SndUna+uint32(pcb.SndBufSent))
	pcb.EnterDataRetransmit()
	pcb.SndBufSent = 0
	if pcb.has(FlagFinSent) {
		pcb.set(FlagFinPending)
		pcb.clear(FlagFinSent)
	}
	pcb.RTO = clampRTO(pcb.RTO*2, t.cfg.TcpMinRtxTime, t.cfg.TcpMaxRtxTime)
	t.outputActive(pcb)
}

// windowProbe sends one byte of sequence space from the head, ignoring
// cwnd, and backs off rto using the data-retransmit schedule (spec.md §9
// Open Question 2: "the source doubles rto uniformly; preserve").
func (t *Transport) windowProbe(pcb *PCB) {
	probeLen := 1
	if pcb.SndBufTotLen()-pcb.SndBufSent < 1 {
		probeLen = 0
	}
	t.sendSegment(pcb, pcb.SndUna+uint32(pcb.SndBufSent), FlagACK, nil, pcb.SndBufSent, probeLen)
	pcb.RTO = clampRTO(pcb.RTO*2, t.cfg.TcpMinRtxTime, t.cfg.TcpMaxRtxTime)
	t.armRtxTimer(pcb)
}

// destroyPCB tears the PCB down, notifying its delegate (if any) and
// removing it from the table (spec.md §3 Lifecycle: "Destroyed by abort").
func (t *Transport) destroyPCB(pcb *PCB, err ustackerr.Error) {
	if pcb.RtxTimer != nil {
		pcb.RtxTimer.Unset()
	}
	if pcb.OutputTimer != nil {
		pcb.OutputTimer.Unset()
	}
	if pcb.Delegate != nil {
		d := pcb.Delegate
		pcb.Delegate = nil
		d.Closed(err)
	}
	t.Table.Remove(pcb)
}

// abortWithRST sends RST and immediately destroys pcb (spec.md §3
// Lifecycle).
func (t *Transport) abortWithRST(pcb *PCB) {
	t.sendSegment(pcb, pcb.SndNxt, FlagRST, nil, 0, 0)
	t.destroyPCB(pcb, ustackerr.Success)
}
