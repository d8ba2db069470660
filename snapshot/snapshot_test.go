package snapshot

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/ustack/tcp"
)

func testPCB() *tcp.PCB {
	return &tcp.PCB{
		Identity: tcp.Identity{
			LocalAddr:  netip.MustParseAddr("10.0.0.1"),
			LocalPort:  7000,
			RemoteAddr: netip.MustParseAddr("10.0.0.2"),
			RemotePort: 54321,
		},
		State:     tcp.ESTABLISHED,
		SndUna:    100,
		SndNxt:    200,
		SndWnd:    65535,
		SndMSS:    1460,
		RcvNxt:    50,
		Cwnd:      4380,
		Ssthresh:  65535,
		NumDupAck: 0,
		SRTT:      50 * time.Millisecond,
		RTTVar:    10 * time.Millisecond,
		RTO:       200 * time.Millisecond,
		SynRtx:    0,
		DataRtx:   1,
	}
}

func TestOfFlattensPCBFields(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pcb := testPCB()

	s := Of(pcb, now)

	if s.LocalAddr != "10.0.0.1" || s.LocalPort != 7000 {
		t.Errorf("local = %s:%d, want 10.0.0.1:7000", s.LocalAddr, s.LocalPort)
	}
	if s.RemoteAddr != "10.0.0.2" || s.RemotePort != 54321 {
		t.Errorf("remote = %s:%d, want 10.0.0.2:54321", s.RemoteAddr, s.RemotePort)
	}
	if s.State != "ESTABLISHED" {
		t.Errorf("State = %q, want ESTABLISHED", s.State)
	}
	if s.SndUna != 100 || s.SndNxt != 200 || s.SndWnd != 65535 || s.SndMSS != 1460 {
		t.Errorf("unexpected send sequence fields: %+v", s)
	}
	if s.RcvNxt != 50 {
		t.Errorf("RcvNxt = %d, want 50", s.RcvNxt)
	}
	if s.Cwnd != 4380 || s.Ssthresh != 65535 {
		t.Errorf("unexpected congestion fields: %+v", s)
	}
	if s.DataRtx != 1 || s.SynRtx != 0 {
		t.Errorf("unexpected retransmit counters: %+v", s)
	}
	if !s.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", s.Timestamp, now)
	}
	// Nil SndBuf/RcvBuf must not panic and should read as zero.
	if s.SndQueued != 0 || s.RcvQueued != 0 {
		t.Errorf("queued bytes with nil buffers = %d/%d, want 0/0", s.SndQueued, s.RcvQueued)
	}
	if s.ConnID == "" {
		t.Error("ConnID is empty, want a stable per-connection id")
	}
}

func TestOfConnIDIsStablePerPCB(t *testing.T) {
	pcb := testPCB()
	a := Of(pcb, time.Now())
	b := Of(pcb, time.Now())
	if a.ConnID != b.ConnID {
		t.Errorf("ConnID changed across calls for the same PCB: %q != %q", a.ConnID, b.ConnID)
	}
}

func TestOfTableAndWriteCSV(t *testing.T) {
	table := tcp.NewTable(10)

	a, err := table.NewPCB(tcp.Identity{
		LocalAddr:  netip.MustParseAddr("10.0.0.1"),
		LocalPort:  7000,
		RemoteAddr: netip.MustParseAddr("10.0.0.2"),
		RemotePort: 54321,
	}, nil)
	if !err.OK() {
		t.Fatalf("NewPCB: %v", err)
	}
	a.State = tcp.ESTABLISHED

	b, err := table.NewPCB(tcp.Identity{
		LocalAddr:  netip.MustParseAddr("10.0.0.1"),
		LocalPort:  7000,
		RemoteAddr: netip.MustParseAddr("10.0.0.2"),
		RemotePort: 54322,
	}, nil)
	if !err.OK() {
		t.Fatalf("NewPCB: %v", err)
	}
	b.State = tcp.ESTABLISHED

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := OfTable(table, now)
	if len(snaps) != 2 {
		t.Fatalf("OfTable returned %d snapshots, want 2", len(snaps))
	}

	var buf strings.Builder
	if err := WriteCSV(snaps, &buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d CSV lines (header + rows), want 3:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "local_addr") {
		t.Errorf("header row missing local_addr column: %q", lines[0])
	}
}
