package tcp

// InitialCwnd returns the RFC 5681 initial congestion window for a given
// SMSS: 4 segments up to 1095 bytes, 3 up to 2190 bytes, 2 above that
// (spec.md §4.I item 2).
func InitialCwnd(smss uint16) uint32 {
	switch {
	case smss > 2190:
		return uint32(2 * smss)
	case smss > 1095:
		return uint32(3 * smss)
	default:
		return uint32(4 * smss)
	}
}

// EnterFastRecovery implements the 3rd-duplicate-ACK entry point of
// RFC 5681/6582 NewReno (spec.md §4.I, §8 property 8): ssthresh is set
// from in-flight data, cwnd inflates to ssthresh + 3*MSS, and recover is
// pinned at the current send-next.
func (p *PCB) EnterFastRecovery() {
	flight := uint32(p.InFlight())
	half := flight / 2
	floor := uint32(2) * uint32(p.SndMSS)
	if half > floor {
		p.Ssthresh = half
	} else {
		p.Ssthresh = floor
	}
	p.Cwnd = p.Ssthresh + 3*uint32(p.SndMSS)
	p.Recover = p.SndNxt
	p.set(FlagRecoverActive)
	p.NumDupAck = 0
}

// InflateOnDupAck is called for each duplicate ACK received while fast
// recovery is active, beyond the third.
func (p *PCB) InflateOnDupAck() {
	p.Cwnd += uint32(p.SndMSS)
}

// ExitFastRecoveryOnFullAck deflates cwnd once an ACK covers Recover,
// per spec.md §4.I: cwnd = min(ssthresh, snd_mss + max(flight, snd_mss)).
func (p *PCB) ExitFastRecoveryOnFullAck() {
	flight := uint32(p.InFlight())
	inner := flight
	if uint32(p.SndMSS) > inner {
		inner = uint32(p.SndMSS)
	}
	cwnd := uint32(p.SndMSS) + inner
	if p.Ssthresh < cwnd {
		cwnd = p.Ssthresh
	}
	p.Cwnd = cwnd
	p.clear(FlagRecoverActive)
	p.NumDupAck = 0
}

// PartialAckDuringRecovery implements the NewReno partial-ACK rule
// (spec.md §4.I): retransmit the head segment (left to the caller),
// deflate cwnd by min(acked, cwnd-snd_mss), and add back snd_mss if the
// ACK covered at least a full segment.
func (p *PCB) PartialAckDuringRecovery(acked uint32) {
	reduce := acked
	room := p.Cwnd - uint32(p.SndMSS)
	if reduce > room {
		reduce = room
	}
	p.Cwnd -= reduce
	if acked >= uint32(p.SndMSS) {
		p.Cwnd += uint32(p.SndMSS)
	}
}

// EnterDataRetransmit implements the RTO data-retransmit branch of
// spec.md §4.I item 3: ssthresh halves in-flight (floored at 2*MSS), cwnd
// resets to one segment, recover pins at snd_nxt, and any fast-recovery
// state is cleared so the retransmitted segment starts a clean slow start.
func (p *PCB) EnterDataRetransmit() {
	flight := uint32(p.InFlight())
	half := flight / 2
	floor := uint32(2) * uint32(p.SndMSS)
	if half > floor {
		p.Ssthresh = half
	} else {
		p.Ssthresh = floor
	}
	p.Cwnd = uint32(p.SndMSS)
	p.Recover = p.SndNxt
	p.clear(FlagRecoverActive)
	p.NumDupAck = 0
}

// ResetIdleCwnd implements spec.md §4.I item 2: after a quiescent period
// with no outstanding data, cwnd returns to the initial value and
// cwnd_acked is cleared (spec.md §8 property 10).
func (p *PCB) ResetIdleCwnd() {
	p.Cwnd = InitialCwnd(p.SndMSS)
	p.CwndAcked = 0
}

// GrowCwndOnAck implements RFC 5681 slow start / congestion avoidance
// growth for a fresh (non-recovery) ACK that advanced snd_una by acked
// bytes: byte-counted slow start below ssthresh, one-MSS-per-window
// congestion avoidance above it (spec.md §4.I item 2).
func (p *PCB) GrowCwndOnAck(acked uint32) {
	if p.Cwnd <= p.Ssthresh {
		grow := acked
		if grow > uint32(p.SndMSS) {
			grow = uint32(p.SndMSS)
		}
		p.Cwnd += grow
		return
	}
	p.CwndAcked += acked
	if p.CwndAcked >= p.Cwnd {
		p.CwndAcked -= p.Cwnd
		p.Cwnd += uint32(p.SndMSS)
	}
}

// ClampCwndToMSS raises cwnd and ssthresh up to the current SndMSS if
// either has fallen below it (spec.md §4.E: a PMTU-driven MSS shrink must
// not leave cwnd/ssthresh below the new floor).
func (p *PCB) ClampCwndToMSS() {
	if p.Cwnd < uint32(p.SndMSS) {
		p.Cwnd = uint32(p.SndMSS)
	}
	if p.Ssthresh < uint32(p.SndMSS) {
		p.Ssthresh = uint32(p.SndMSS)
	}
}
