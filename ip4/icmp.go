package ip4

import (
	"encoding/binary"
	"net/netip"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/checksum"
	"github.com/m-lab/ustack/iface"
)

const (
	icmpTypeEchoReply      = 0
	icmpTypeDestUnreach    = 3
	icmpTypeEchoRequest    = 8
	icmpCodeFragNeeded     = 4
	icmpHeaderLen          = 8 // type, code, checksum, 4-byte rest-of-header
)

// handleICMP dispatches a received ICMP message that no listener or
// protocol handler consumed (spec.md §4.D step 3, §6 ICMP).
func (e *Engine) handleICMP(rcvIface *iface.Iface, hdr Header, payload bufchain.Ref) {
	if payload.TotLen() < icmpHeaderLen {
		return
	}
	buf := payload.Bytes()
	icmpType := buf[0]
	code := buf[1]
	var rest [4]byte
	copy(rest[:], buf[4:8])

	switch icmpType {
	case icmpTypeEchoRequest:
		e.handleEchoRequest(rcvIface, hdr, buf)
	case icmpTypeDestUnreach:
		e.handleDestUnreachable(code, rest, buf[icmpHeaderLen:])
	}
}

// handleEchoRequest replies to an Echo Request with the same
// Rest-of-Header and identifier/sequence/data, per spec.md §6.
func (e *Engine) handleEchoRequest(rcvIface *iface.Iface, hdr Header, icmpBuf []byte) {
	srcAddr := netip.AddrFrom4(hdr.Src)
	dstAddr := netip.AddrFrom4(hdr.Dst)
	if srcAddr == broadcastAll || srcAddr.IsMulticast() {
		return // unicast source required
	}
	accepted := rcvIface.HasAddr && rcvIface.Addr.Addr == dstAddr
	accepted = accepted || dstAddr == broadcastAll
	if rcvIface.IsDirectedBroadcast(dstAddr) {
		accepted = e.cfg.AllowBroadcastPing
	}
	if !accepted {
		return
	}

	reply := append([]byte(nil), icmpBuf...)
	reply[0] = icmpTypeEchoReply
	reply[2], reply[3] = 0, 0
	binary.BigEndian.PutUint16(reply[2:4], checksum.Inverted(reply))

	node := &bufchain.Node{Data: reply}
	ref := bufchain.NewRef(node, len(reply))
	e.SendDgram(dstAddr, srcAddr, e.cfg.IcmpTTL, ProtoICMP, 0, 0, ref, rcvIface, nil, false)
}

// handleDestUnreachable parses the embedded original IPv4 header + first 8
// bytes of its payload to recover the 5-tuple, then invokes the
// registered unreachable handler (spec.md §4.D step 3, §6).
func (e *Engine) handleDestUnreachable(code uint8, rest [4]byte, embedded []byte) {
	if e.unreachable == nil || len(embedded) < HeaderLen+4 {
		return
	}
	origHdr, ok := ParseHeader(embedded[:HeaderLen])
	if !ok {
		return
	}
	portsOff := origHdr.IHL
	if len(embedded) < portsOff+4 {
		return
	}
	srcPort := binary.BigEndian.Uint16(embedded[portsOff : portsOff+2])
	dstPort := binary.BigEndian.Uint16(embedded[portsOff+2 : portsOff+4])

	origSrc := netip.AddrFrom4(origHdr.Src)
	origDst := netip.AddrFrom4(origHdr.Dst)

	if code == icmpCodeFragNeeded && e.pmtu != nil {
		hintMTU := int(binary.BigEndian.Uint16(rest[2:4]))
		outIface, _, rerr := e.route(origDst, nil)
		ifaceMTU := 65535
		if rerr.OK() {
			ifaceMTU = outIface.MTU
		}
		e.pmtu.HandlePacketTooBig(origDst, hintMTU, ifaceMTU)
	}

	e.unreachable(code, rest, origHdr.Protocol, origSrc, origDst, srcPort, dstPort)
}
