// Package snapshot turns the live state of a tcp.Table into a flat,
// CSV/JSON-marshalable record (spec.md §2 domain-stack wiring), the same
// "fixed struct with csv tags, marshaled with gocsv" texture the teacher's
// own snapshot.Snapshot uses for tcp_info dumps.
package snapshot

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/ustack/connid"
	"github.com/m-lab/ustack/tcp"
)

// Snapshot is a point-in-time view of one PCB, flattened for export.
type Snapshot struct {
	Timestamp time.Time `csv:"timestamp"`
	ConnID    string    `csv:"conn_id"`

	LocalAddr  string `csv:"local_addr"`
	LocalPort  uint16 `csv:"local_port"`
	RemoteAddr string `csv:"remote_addr"`
	RemotePort uint16 `csv:"remote_port"`

	State string `csv:"state"`

	SndUna uint32 `csv:"snd_una"`
	SndNxt uint32 `csv:"snd_nxt"`
	SndWnd uint32 `csv:"snd_wnd"`
	SndMSS uint16 `csv:"snd_mss"`
	RcvNxt uint32 `csv:"rcv_nxt"`

	Cwnd      uint32 `csv:"cwnd"`
	Ssthresh  uint32 `csv:"ssthresh"`
	NumDupAck int    `csv:"num_dup_ack"`

	SRTT   time.Duration `csv:"srtt"`
	RTTVar time.Duration `csv:"rtt_var"`
	RTO    time.Duration `csv:"rto"`

	SndQueued int `csv:"snd_queued"`
	RcvQueued int `csv:"rcv_queued"`

	SynRtx  int `csv:"syn_rtx"`
	DataRtx int `csv:"data_rtx"`
}

// Of flattens a single PCB into a Snapshot stamped with now. ConnID is the
// same stable per-connection identifier connid.For produces elsewhere, so
// a snapshot row can be correlated with other logs/captures of the same
// connection; a PCB whose identity can't be hashed (connid.For erroring)
// gets an empty ConnID rather than failing the whole snapshot.
func Of(pcb *tcp.PCB, now time.Time) *Snapshot {
	id, _ := connid.For(pcb)
	return &Snapshot{
		Timestamp:  now,
		ConnID:     id,
		LocalAddr:  pcb.LocalAddr.String(),
		LocalPort:  pcb.LocalPort,
		RemoteAddr: pcb.RemoteAddr.String(),
		RemotePort: pcb.RemotePort,
		State:      pcb.State.String(),
		SndUna:     pcb.SndUna,
		SndNxt:     pcb.SndNxt,
		SndWnd:     pcb.SndWnd,
		SndMSS:     pcb.SndMSS,
		RcvNxt:     pcb.RcvNxt,
		Cwnd:       pcb.Cwnd,
		Ssthresh:   pcb.Ssthresh,
		NumDupAck:  pcb.NumDupAck,
		SRTT:       pcb.SRTT,
		RTTVar:     pcb.RTTVar,
		RTO:        pcb.RTO,
		SndQueued:  pcb.SndBufTotLen(),
		RcvQueued:  rcvQueued(pcb),
		SynRtx:     pcb.SynRtx,
		DataRtx:    pcb.DataRtx,
	}
}

func rcvQueued(pcb *tcp.PCB) int {
	if pcb.RcvBuf == nil {
		return 0
	}
	return pcb.RcvBuf.Len()
}

// OfTable flattens every PCB currently registered in table, all stamped
// with the same timestamp so a single dump is internally consistent.
func OfTable(table *tcp.Table, now time.Time) []*Snapshot {
	pcbs := table.All()
	out := make([]*Snapshot, 0, len(pcbs))
	for _, pcb := range pcbs {
		out = append(out, Of(pcb, now))
	}
	return out
}

// WriteCSV marshals snapshots to w as CSV, one row per PCB.
func WriteCSV(snapshots []*Snapshot, w io.Writer) error {
	return gocsv.Marshal(snapshots, w)
}
