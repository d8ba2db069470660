// Package pcapdump writes raw IPv4 datagrams passing through ustack to a
// standard pcap file, for offline inspection with tcpdump/Wireshark. It is
// strictly off the hot send/receive path: a Dumper is attached by a caller
// (e.g. cmd/ustackd under a debug flag) at an iface.Listener callback, it
// is never consulted by ip4.Engine or tcp.Transport themselves.
package pcapdump

import (
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/m-lab/ustack/bufchain"
)

// Dumper writes every IPv4 datagram handed to Write as one pcap record.
// ustack hands datagrams around as bare IPv4 bytes (no Ethernet framing),
// so the file header declares LinkTypeRaw.
type Dumper struct {
	w       *pcapgo.Writer
	snaplen uint32
}

// NewDumper wraps w in a pcap writer with the given per-packet capture
// length and writes the pcap file header immediately.
func NewDumper(w io.Writer, snaplen uint32) (*Dumper, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snaplen, layers.LinkTypeRaw); err != nil {
		return nil, err
	}
	return &Dumper{w: pw, snaplen: snaplen}, nil
}

// Write appends one pcap record for pkt, truncating to the configured
// snaplen if pkt is longer.
func (d *Dumper) Write(pkt bufchain.Ref, at time.Time) error {
	data := pkt.Bytes()
	capLen := len(data)
	if uint32(capLen) > d.snaplen {
		capLen = int(d.snaplen)
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     at,
		CaptureLength: capLen,
		Length:        len(data),
	}
	return d.w.WritePacket(ci, data[:capLen])
}

// Tap returns an iface.Listener-compatible handler that dumps every
// datagram it sees and always returns false (not consumed), so it can be
// registered alongside the real protocol handler without affecting
// delivery.
func (d *Dumper) Tap() func(pkt bufchain.Ref) bool {
	return func(pkt bufchain.Ref) bool {
		_ = d.Write(pkt, time.Now())
		return false
	}
}
