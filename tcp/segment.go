package tcp

import (
	"encoding/binary"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/checksum"
	"github.com/m-lab/ustack/ip4"
)

// HeaderLen is the fixed TCP header length ustack ever builds on send;
// options are appended separately only for handshake segments (spec.md
// §6: "segment offset field always 5 for data segments").
const HeaderLen = 20

// Flag bits (RFC 793; no ECE/CWR, matching spec.md §1 Non-goals).
const (
	FlagFIN uint8 = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// SegHeader is a parsed TCP segment header.
type SegHeader struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	DataOffset       int // header length in bytes, including options
	Flags            uint8
	Window           uint16
	Checksum         uint16
	Options          []byte
}

// ParseSegment parses buf (header + options + data) into a header and the
// data slice. Returns ok=false if truncated.
func ParseSegment(buf []byte) (SegHeader, []byte, bool) {
	if len(buf) < HeaderLen {
		return SegHeader{}, nil, false
	}
	offsetReserved := buf[12]
	dataOffset := int(offsetReserved>>4) * 4
	if dataOffset < HeaderLen || dataOffset > len(buf) {
		return SegHeader{}, nil, false
	}
	h := SegHeader{
		SrcPort:    binary.BigEndian.Uint16(buf[0:2]),
		DstPort:    binary.BigEndian.Uint16(buf[2:4]),
		Seq:        binary.BigEndian.Uint32(buf[4:8]),
		Ack:        binary.BigEndian.Uint32(buf[8:12]),
		DataOffset: dataOffset,
		Flags:      buf[13],
		Window:     binary.BigEndian.Uint16(buf[14:16]),
		Checksum:   binary.BigEndian.Uint16(buf[16:18]),
	}
	if dataOffset > HeaderLen {
		h.Options = buf[HeaderLen:dataOffset]
	}
	return h, buf[dataOffset:], true
}

// segLen returns the sequence-number length of a segment (data bytes plus
// one for SYN, plus one for FIN), used throughout ACK/window arithmetic.
func segLen(h SegHeader, dataLen int) uint32 {
	n := uint32(dataLen)
	if h.Flags&FlagSYN != 0 {
		n++
	}
	if h.Flags&FlagFIN != 0 {
		n++
	}
	return n
}

// MarshalSegment writes a TCP header (plus options, if any) into buf,
// which must be exactly HeaderLen+len(options) bytes, and computes the
// checksum over the pseudo-header + header + data via acc (already primed
// with the pseudo-header by the caller, spec.md §4.B "prepared send"). The
// segment payload itself is never copied: acc walks data's chain directly
// via Accumulator.AddChain.
func MarshalSegment(h SegHeader, options []byte, data bufchain.Ref, buf []byte, acc checksum.Accumulator) {
	dataOffset := HeaderLen + len(options)
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	buf[12] = byte(dataOffset/4) << 4
	buf[13] = h.Flags
	binary.BigEndian.PutUint16(buf[14:16], h.Window)
	buf[16], buf[17] = 0, 0
	binary.BigEndian.PutUint16(buf[18:20], 0)
	copy(buf[HeaderLen:dataOffset], options)

	acc.AddIPBuf(buf[:dataOffset])
	acc.AddChain(data)
	binary.BigEndian.PutUint16(buf[16:18], acc.Checksum())
}

// PseudoHeaderAccumulator primes a checksum accumulator with the IPv4
// pseudo-header (src, dst, zero+proto, tcp length) as spec.md §6 requires.
func PseudoHeaderAccumulator(src, dst [4]byte, tcpLen uint16) checksum.Accumulator {
	var acc checksum.Accumulator
	ip4.ChecksumPseudoHeader(&acc, src, dst, ip4.ProtoTCP, tcpLen)
	return acc
}
