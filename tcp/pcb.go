package tcp

import (
	"net/netip"
	"time"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/ringbuf"
	"github.com/m-lab/ustack/timerheap"
	"github.com/m-lab/ustack/ustackerr"
)

// Flags are the PCB bit flags of spec.md §3.
type Flags uint16

const (
	FlagFinSent Flags = 1 << iota
	FlagFinPending
	FlagRttPending
	FlagRttValid
	FlagAckPending
	FlagOutPending
	FlagOutRetry
	FlagRtxActive
	FlagRecoverActive
	FlagCwndInit
	FlagCwndIncrd
	FlagIdleTimer
	FlagWndScale
)

func (p *PCB) has(f Flags) bool  { return p.flags&f != 0 }
func (p *PCB) set(f Flags)       { p.flags |= f }
func (p *PCB) clear(f Flags)     { p.flags &^= f }
func (p *PCB) setTo(f Flags, v bool) {
	if v {
		p.set(f)
	} else {
		p.clear(f)
	}
}

// Delegate receives PCB lifecycle notifications. tcpconn.Connection
// implements this to bridge PCB events to the user-facing API without
// creating an import cycle between tcp and tcpconn.
type Delegate interface {
	DataAvailable()
	StateChanged(State)
	Closed(err ustackerr.Error)
}

// Identity is the 4-tuple identifying a PCB (spec.md §3).
type Identity struct {
	LocalAddr   netip.Addr
	LocalPort   uint16
	RemoteAddr  netip.Addr
	RemotePort  uint16
}

// PCB is a Protocol Control Block: all per-connection TCP state (spec.md
// §3). Buffers (SndBuf/RcvBuf) are only meaningful once a live Connection
// owns the PCB; a PCB in SYN_RCVD queued on a listener has nil buffers.
type PCB struct {
	Identity
	State State

	// Sequence variables.
	SndUna, SndNxt uint32
	SndWnd         uint32
	SndMSS         uint16
	BaseSndMSS     uint16
	RcvNxt         uint32
	RcvAnnWnd      uint32
	RcvWndShift    uint8
	SndWndShift    uint8
	ISS, IRS       uint32

	// Congestion control.
	Cwnd, Ssthresh uint32
	CwndAcked      uint32
	Recover        uint32
	NumDupAck      int

	// RTT/RTO (RFC 6298).
	RTO         time.Duration
	SRTT        time.Duration
	RTTVar      time.Duration
	RTTTestSeq  uint32
	RTTTestTime time.Time

	// Buffers; nil until a Connection binds (spec.md §3).
	SndBuf      *ringbuf.Ring
	SndBufSent  int // bytes of SndBuf already sent at least once (snd_buf_cur cursor)
	SndPshIndex uint32
	RcvBuf      *ringbuf.Ring

	flags Flags

	OutputTimer *timerheap.Timer
	RtxTimer    *timerheap.Timer

	SynRtx  int
	DataRtx int

	Delegate Delegate

	table *Table
}

// SndBufTotLen returns the number of unsent-or-unacknowledged bytes still
// queued in SndBuf.
func (p *PCB) SndBufTotLen() int {
	if p.SndBuf == nil {
		return 0
	}
	return p.SndBuf.Len()
}

// SndBufCurRef returns a view of SndBuf starting at the next-to-send cursor
// (spec.md §3 snd_buf_cur).
func (p *PCB) SndBufCurRef() bufchain.Ref {
	if p.SndBuf == nil || p.SndBufSent >= p.SndBuf.Len() {
		return bufchain.NewRef(&bufchain.Node{}, 0)
	}
	return p.SndBuf.View(p.SndBufSent, p.SndBuf.Len()-p.SndBufSent)
}

// InFlight returns the number of bytes sent but not yet acknowledged.
func (p *PCB) InFlight() int { return int(p.SndNxt - p.SndUna) }

// AnnouncedWindow computes the advertised receive window per spec.md
// §4.H: min(MaxWindow, rcv_buf.free) >> rcv_wnd_shift.
func (p *PCB) AnnouncedWindow() uint32 {
	const maxWindow = 65535
	free := maxWindow
	if p.RcvBuf != nil {
		free = p.RcvBuf.Free()
		if free > maxWindow {
			free = maxWindow
		}
	}
	return uint32(free) >> p.RcvWndShift
}
