package ip4

import (
	"net/netip"
	"time"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/checksum"
	"github.com/m-lab/ustack/config"
	"github.com/m-lab/ustack/driver"
	"github.com/m-lab/ustack/iface"
	"github.com/m-lab/ustack/metrics"
	"github.com/m-lab/ustack/pmtu"
	"github.com/m-lab/ustack/ustackerr"
)

const (
	ProtoICMP = 1
	ProtoTCP  = 6
)

// ProtocolHandler is the Engine-wide fallback dispatched after per-iface
// listeners decline a datagram (spec.md §4.D step 3). consumed mirrors a
// listener's return: unconsumed datagrams fall through to ICMP handling
// when applicable.
type ProtocolHandler func(srcIface *iface.Iface, hdr Header, payload bufchain.Ref) (consumed bool)

// ICMPUnreachableHandler receives a parsed Destination Unreachable
// notification: code, the 4-byte rest-of-header (next-hop MTU for
// Fragmentation-Needed), and the 5-tuple recovered from the embedded
// original header (spec.md §4.D step 3, §6 ICMP).
type ICMPUnreachableHandler func(code uint8, restOfHeader [4]byte, origProto uint8, origSrc, origDst netip.Addr, origSrcPort, origDstPort uint16)

// Engine is the IPv4 send/receive engine (spec.md §4.D) bound to a set of
// interfaces and a PMTU cache.
type Engine struct {
	cfg   *config.Config
	pmtu  *pmtu.Cache
	ident uint16

	ifaces []*iface.Iface

	reass *reassCache

	protoHandlers map[uint8]ProtocolHandler
	unreachable   ICMPUnreachableHandler
}

// NewEngine constructs an Engine. cfg and pmtuCache are owned by the
// caller (typically stack.Stack) and must outlive the Engine.
func NewEngine(cfg *config.Config, pmtuCache *pmtu.Cache) *Engine {
	return &Engine{
		cfg:           cfg,
		pmtu:          pmtuCache,
		reass:         newReassCache(cfg.MaxReassEntries, 30*time.Second),
		protoHandlers: make(map[uint8]ProtocolHandler),
	}
}

// AddIface registers an interface with the engine. Registration order
// breaks longest-prefix-match routing ties (spec.md §8 property 4).
func (e *Engine) AddIface(ifc *iface.Iface) {
	e.ifaces = append(e.ifaces, ifc)
}

// RouteFor exposes route() for callers (e.g. tcp output) that need to
// learn the outbound interface for a remote address before sending, to
// seed or query the PMTU cache.
func (e *Engine) RouteFor(dst netip.Addr, prefIface *iface.Iface) (*iface.Iface, netip.Addr, ustackerr.Error) {
	return e.route(dst, prefIface)
}

// RegisterProtocolHandler installs the engine-wide fallback handler for
// proto, invoked when no per-iface listener consumes a datagram.
func (e *Engine) RegisterProtocolHandler(proto uint8, h ProtocolHandler) {
	e.protoHandlers[proto] = h
}

// RegisterICMPUnreachableHandler installs the callback for parsed
// Destination Unreachable notifications (used by TCP for PMTU discovery).
func (e *Engine) RegisterICMPUnreachableHandler(h ICMPUnreachableHandler) {
	e.unreachable = h
}

// nextIdent returns the next 16-bit identification value, wrapping freely
// (spec.md §3: "no uniqueness tracking; wrap is expected").
func (e *Engine) nextIdent() uint16 {
	e.ident++
	return e.ident
}

// SendDgram implements the send path of spec.md §4.D: route, broadcast
// policy, and (if needed) fragmentation.
func (e *Engine) SendDgram(src, dst netip.Addr, ttl uint8, proto uint8, dscp, ecn uint8, payload bufchain.Ref, prefIface *iface.Iface, retry *driver.RetryRequest, allowBroadcast bool) ustackerr.Error {
	outIface, nextHop, rerr := e.route(dst, prefIface)
	if !rerr.OK() {
		return rerr
	}

	if !allowBroadcast && (dst == broadcastAll || outIface.IsDirectedBroadcast(dst)) {
		return ustackerr.BroadcastRejected
	}

	totalLen := HeaderLen + payload.TotLen()
	ident := e.nextIdent()
	hdr := Header{
		DSCP: dscp, ECN: ecn,
		Identification: ident,
		TTL:            ttl,
		Protocol:       proto,
	}
	copy(hdr.Src[:], src.AsSlice())
	copy(hdr.Dst[:], dst.AsSlice())

	if totalLen <= outIface.MTU {
		hdr.TotalLen = totalLen
		headerBuf := make([]byte, HeaderLen)
		hdr.Marshal(headerBuf)
		dataNode, next := payload.HeadNode()
		contNode := &bufchain.Node{Data: dataNode, Next: next}
		var outNode bufchain.Node
		ref := bufchain.SubHeaderToContinuedBy(headerBuf, contNode, totalLen, &outNode)
		return outIface.Driver.SendIP4(ref, nextHop, retry)
	}

	if hdr.Flags&FlagDF != 0 {
		return ustackerr.FragmentationNeeded
	}
	return e.sendFragmented(hdr, payload, outIface, nextHop, retry)
}

// sendFragmented implements spec.md §4.D step 3's fragmentation rule:
// first fragment length rounds iface.MTU down to a multiple of 8 bytes of
// payload; later fragments repeat the header with updated offset/MF.
func (e *Engine) sendFragmented(hdr Header, payload bufchain.Ref, outIface *iface.Iface, nextHop netip.Addr, retry *driver.RetryRequest) ustackerr.Error {
	firstPayloadLen := ((outIface.MTU - HeaderLen) &^ 7)
	if firstPayloadLen <= 0 {
		return ustackerr.FragmentationNeeded
	}

	total := payload.TotLen()
	offset := 0
	for offset < total {
		chunkLen := firstPayloadLen
		if total-offset < chunkLen {
			chunkLen = total - offset
		}
		more := offset+chunkLen < total

		fragHdr := hdr
		fragHdr.TotalLen = HeaderLen + chunkLen
		fragHdr.FragOffset = offset / 8
		fragHdr.Flags = 0
		if more {
			fragHdr.Flags |= FlagMF
		}

		headerBuf := make([]byte, HeaderLen)
		fragHdr.Marshal(headerBuf)

		view := payload.SubFromTo(offset, chunkLen)
		dataNode, next := view.HeadNode()
		contNode := &bufchain.Node{Data: dataNode, Next: next}
		var outNode bufchain.Node
		ref := bufchain.SubHeaderToContinuedBy(headerBuf, contNode, HeaderLen+chunkLen, &outNode)

		if err := outIface.Driver.SendIP4(ref, nextHop, retry); !err.OK() {
			return err
		}
		metrics.FragmentsSentTotal.Inc()
		offset += chunkLen
	}
	return ustackerr.Success
}

// ProcessRecv implements the receive path of spec.md §4.D.
func (e *Engine) ProcessRecv(rcvIface *iface.Iface, pkt bufchain.Ref) {
	if pkt.TotLen() < HeaderLen {
		return
	}
	peekLen := pkt.TotLen()
	if peekLen > MaxHeaderLen {
		peekLen = MaxHeaderLen
	}
	head := make([]byte, peekLen)
	pkt.Take(peekLen, head) // Ref.Take does not mutate pkt; this only peeks
	hdr, ok := ParseHeader(head)
	if !ok {
		return
	}
	if hdr.TotalLen > pkt.TotLen() {
		return
	}
	full := make([]byte, hdr.IHL)
	pkt.Take(hdr.IHL, full)
	if !ChecksumOK(full, hdr.IHL) {
		return
	}

	payload := pkt.SubFromTo(hdr.IHL, hdr.TotalLen-hdr.IHL)

	if hdr.MF() || hdr.FragOffset != 0 {
		dstAddr := netip.AddrFrom4(hdr.Dst)
		if !rcvIface.HasAddr || rcvIface.Addr.Addr != dstAddr {
			return
		}
		key := fragKey{src: hdr.Src, dst: hdr.Dst, proto: hdr.Protocol, ident: hdr.Identification}
		fragData := payload.Bytes()
		reassembled, rhdr, done := e.reass.addFragment(key, hdr.FragByteOffset(), fragData, hdr.MF(), hdr, time.Now())
		if !done {
			return
		}
		hdr = rhdr
		payload = buildChain(reassembled)
	}

	if rcvIface.DispatchListeners(hdr.Protocol, payload) {
		return
	}
	if h, ok := e.protoHandlers[hdr.Protocol]; ok {
		if h(rcvIface, hdr, payload) {
			return
		}
	}

	if hdr.Protocol == ProtoICMP {
		e.handleICMP(rcvIface, hdr, payload)
	}
}

// ICMP echo-reply and destination-unreachable handling are in icmp.go.

// ChecksumPseudoHeader folds the IPv4 pseudo-header (src, dst, zero,
// proto, length) into acc, as needed by TCP's segment checksum.
func ChecksumPseudoHeader(acc *checksum.Accumulator, src, dst [4]byte, proto uint8, tcpLen uint16) {
	acc.AddIPBuf(src[:])
	acc.AddIPBuf(dst[:])
	acc.AddWord16(uint16(proto))
	acc.AddWord16(tcpLen)
}
