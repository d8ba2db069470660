// Package ip4 implements the IPv4 engine: header build/parse, routing,
// fragmentation on send, reassembly on receive, and ICMP echo/destination
// unreachable handling (spec.md §4.D). Wire parsing is grounded on
// inetdiag's struct-overlay style
// (_examples/m-lab-tcp-info/inetdiag/structs.go), adapted here to explicit
// encoding/binary reads since ip4 headers are not kernel ABI structs and
// need per-field bit extraction (DSCP/ECN, flags/fragment-offset) that an
// unsafe struct overlay cannot express.
package ip4

import (
	"encoding/binary"

	"github.com/m-lab/ustack/checksum"
)

// HeaderLen is the fixed on-wire length ustack ever builds; options are
// transmitted never, only parsed on receive (spec.md §1 Non-goals, §6).
const HeaderLen = 20

// MaxHeaderLen is the largest possible IHL (the 4-bit field tops out at 15
// 4-byte words), i.e. the most a received header plus options can occupy.
const MaxHeaderLen = 60

// Flag bits of the 3-bit flags field.
const (
	FlagDF = 1 << 1 // Don't Fragment
	FlagMF = 1 << 0 // More Fragments
)

// Header is the parsed form of an IPv4 header (RFC 791), with DSCP/ECN
// split out of the combined ToS byte per spec.md §6.
type Header struct {
	IHL            int // header length in bytes, including options
	DSCP           uint8
	ECN            uint8
	TotalLen       int
	Identification uint16
	Flags          uint8
	FragOffset     int // in 8-byte units
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	Src            [4]byte
	Dst            [4]byte
	Options        []byte // parsed but never re-transmitted
}

// DF reports whether the Don't Fragment flag is set.
func (h Header) DF() bool { return h.Flags&FlagDF != 0 }

// MF reports whether the More Fragments flag is set.
func (h Header) MF() bool { return h.Flags&FlagMF != 0 }

// FragByteOffset returns the fragment offset in bytes.
func (h Header) FragByteOffset() int { return h.FragOffset * 8 }

// ParseHeader parses buf (which must contain at least the header) into a
// Header. It does not verify the checksum; callers check that separately
// against the remainder of spec.md §4.D step 1's validation list.
func ParseHeader(buf []byte) (Header, bool) {
	if len(buf) < HeaderLen {
		return Header{}, false
	}
	version := buf[0] >> 4
	ihl := int(buf[0]&0x0f) * 4
	if version != 4 || ihl < HeaderLen || ihl > len(buf) {
		return Header{}, false
	}
	totalLen := int(binary.BigEndian.Uint16(buf[2:4]))
	if totalLen < ihl {
		return Header{}, false
	}
	flagsFrag := binary.BigEndian.Uint16(buf[6:8])
	h := Header{
		IHL:            ihl,
		DSCP:           buf[1] >> 2,
		ECN:            buf[1] & 0x3,
		TotalLen:       totalLen,
		Identification: binary.BigEndian.Uint16(buf[4:6]),
		Flags:          uint8(flagsFrag >> 13),
		FragOffset:     int(flagsFrag & 0x1fff),
		TTL:            buf[8],
		Protocol:       buf[9],
		Checksum:       binary.BigEndian.Uint16(buf[10:12]),
	}
	copy(h.Src[:], buf[12:16])
	copy(h.Dst[:], buf[16:20])
	if ihl > HeaderLen {
		h.Options = append([]byte(nil), buf[HeaderLen:ihl]...)
	}
	return h, true
}

// ChecksumOK verifies buf's header checksum over its own IHL bytes
// (including any parsed options, per spec.md §6: "options ... parsed and
// checksummed on receive").
func ChecksumOK(buf []byte, ihl int) bool {
	return checksum.Inverted(buf[:ihl]) == 0
}

// Marshal writes h as a fixed HeaderLen-byte header into buf (which must
// have length >= HeaderLen), computing and filling in the checksum. Options
// are never written on send (spec.md §6).
func (h Header) Marshal(buf []byte) {
	buf[0] = 0x40 | byte(HeaderLen/4)
	buf[1] = h.DSCP<<2 | h.ECN&0x3
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.TotalLen))
	binary.BigEndian.PutUint16(buf[4:6], h.Identification)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Flags)<<13|uint16(h.FragOffset)&0x1fff)
	buf[8] = h.TTL
	buf[9] = h.Protocol
	buf[10], buf[11] = 0, 0
	copy(buf[12:16], h.Src[:])
	copy(buf[16:20], h.Dst[:])
	binary.BigEndian.PutUint16(buf[10:12], checksum.Inverted(buf[:HeaderLen]))
}
