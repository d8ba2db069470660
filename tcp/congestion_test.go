package tcp

import "testing"

func TestInitialCwnd(t *testing.T) {
	cases := []struct {
		smss uint16
		want uint32
	}{
		{536, 4 * 536},
		{1095, 4 * 1095},
		{1096, 3 * 1096},
		{2190, 3 * 2190},
		{2191, 2 * 2191},
	}
	for _, c := range cases {
		if got := InitialCwnd(c.smss); got != c.want {
			t.Errorf("InitialCwnd(%d) = %d, want %d", c.smss, got, c.want)
		}
	}
}

func TestEnterFastRecovery(t *testing.T) {
	p := &PCB{SndMSS: 1000, SndUna: 1000, SndNxt: 5000}
	p.EnterFastRecovery()

	if want := uint32(2000); p.Ssthresh != want {
		t.Errorf("Ssthresh = %d, want %d (half of 4000 in-flight)", p.Ssthresh, want)
	}
	if want := p.Ssthresh + 3000; p.Cwnd != want {
		t.Errorf("Cwnd = %d, want %d", p.Cwnd, want)
	}
	if p.Recover != p.SndNxt {
		t.Errorf("Recover = %d, want %d", p.Recover, p.SndNxt)
	}
	if p.NumDupAck != 0 {
		t.Errorf("NumDupAck = %d, want 0", p.NumDupAck)
	}
}

func TestEnterFastRecoveryFlightBelowFloor(t *testing.T) {
	p := &PCB{SndMSS: 1000, SndUna: 1000, SndNxt: 1500}
	p.EnterFastRecovery()
	if want := uint32(2000); p.Ssthresh != want {
		t.Errorf("Ssthresh = %d, want floor %d", p.Ssthresh, want)
	}
}

func TestGrowCwndOnAckSlowStart(t *testing.T) {
	p := &PCB{SndMSS: 1000, Cwnd: 3000, Ssthresh: 10000}
	p.GrowCwndOnAck(1000)
	if p.Cwnd != 4000 {
		t.Errorf("Cwnd = %d, want 4000", p.Cwnd)
	}
	// acked larger than one MSS is still clamped to one MSS per ACK in
	// slow start (byte-counted, not uncapped).
	p.GrowCwndOnAck(5000)
	if p.Cwnd != 5000 {
		t.Errorf("Cwnd after oversized ack = %d, want 5000", p.Cwnd)
	}
}

func TestGrowCwndOnAckCongestionAvoidance(t *testing.T) {
	p := &PCB{SndMSS: 1000, Cwnd: 10000, Ssthresh: 5000}
	// Below a full cwnd of acked bytes: no growth yet, just accumulation.
	p.GrowCwndOnAck(4000)
	if p.Cwnd != 10000 {
		t.Errorf("Cwnd = %d, want unchanged 10000 before a full window accrues", p.Cwnd)
	}
	if p.CwndAcked != 4000 {
		t.Errorf("CwndAcked = %d, want 4000", p.CwndAcked)
	}
	// Crossing a full cwnd's worth of acked bytes grows by one MSS.
	p.GrowCwndOnAck(6000)
	if p.Cwnd != 11000 {
		t.Errorf("Cwnd = %d, want 11000 after a full window accrued", p.Cwnd)
	}
	if p.CwndAcked != 0 {
		t.Errorf("CwndAcked = %d, want 0 after wraparound", p.CwndAcked)
	}
}

func TestPartialAckDuringRecovery(t *testing.T) {
	p := &PCB{SndMSS: 1000, Cwnd: 8000}
	p.PartialAckDuringRecovery(1500)
	// reduce = min(1500, cwnd-mss=7000) = 1500; cwnd = 8000-1500 = 6500;
	// acked >= mss so +1000 => 7500.
	if p.Cwnd != 7500 {
		t.Errorf("Cwnd = %d, want 7500", p.Cwnd)
	}
}

func TestResetIdleCwnd(t *testing.T) {
	p := &PCB{SndMSS: 536, Cwnd: 50000, CwndAcked: 100}
	p.ResetIdleCwnd()
	if p.Cwnd != InitialCwnd(536) {
		t.Errorf("Cwnd = %d, want initial cwnd %d", p.Cwnd, InitialCwnd(536))
	}
	if p.CwndAcked != 0 {
		t.Errorf("CwndAcked = %d, want 0", p.CwndAcked)
	}
}

func TestClampCwndToMSS(t *testing.T) {
	p := &PCB{SndMSS: 1400, Cwnd: 500, Ssthresh: 500}
	p.ClampCwndToMSS()
	if p.Cwnd != 1400 || p.Ssthresh != 1400 {
		t.Errorf("Cwnd/Ssthresh = %d/%d, want both raised to 1400", p.Cwnd, p.Ssthresh)
	}
}
