// Package tcp's Transport wires the PCB table to an ip4.Engine: it is the
// glue spec.md §2's data-flow diagram calls "TCP input/output processing",
// registered as the engine's protocol handler for proto 6 and as the
// ICMP-unreachable subscriber that re-clamps a PCB's MSS from the PMTU
// cache (ip4.Engine itself records the new estimate in the cache).
package tcp

import (
	"net/netip"
	"time"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/config"
	"github.com/m-lab/ustack/driver"
	"github.com/m-lab/ustack/iface"
	"github.com/m-lab/ustack/ip4"
	"github.com/m-lab/ustack/pmtu"
	"github.com/m-lab/ustack/timerheap"
	"github.com/m-lab/ustack/ustackerr"
)

// Transport owns the PCB table and binds it to the IPv4 engine, the PMTU
// cache, the timer heap and the stack-wide configuration.
type Transport struct {
	Table  *Table
	engine *ip4.Engine
	cfg    *config.Config
	timers *timerheap.Heap
	pmtu   *pmtu.Cache

	isnSeed         uint32
	ephemeralCursor uint32
}

// NewTransport creates a Transport and registers it with engine as the
// TCP protocol handler and ICMP-unreachable subscriber.
func NewTransport(engine *ip4.Engine, cfg *config.Config, timers *timerheap.Heap, pmtuCache *pmtu.Cache) *Transport {
	t := &Transport{
		Table:  NewTable(cfg.TcpMaxPcbs),
		engine: engine,
		cfg:    cfg,
		timers: timers,
		pmtu:   pmtuCache,
	}
	engine.RegisterProtocolHandler(ip4.ProtoTCP, t.receiveSegment)
	engine.RegisterICMPUnreachableHandler(t.handleUnreachable)
	return t
}

// nextISN produces a fresh initial sequence number. Real stacks derive
// this from a clock-driven counter plus a connection-keyed hash (RFC
// 9293 §3.4.1); ustack advances a counter by 64000 plus the low 16 bits
// of the wall clock on every call, sufficient for the single-process embedding this stack targets and
// avoiding a dependency on a cryptographic ISN generator the pack does
// not provide.
func (t *Transport) nextISN() uint32 {
	t.isnSeed += 64000 + uint32(time.Now().UnixNano()&0xffff)
	return t.isnSeed
}

// handleUnreachable implements the PMTU side of spec.md §4.D step 3 /
// §4.E: an ICMP Fragmentation-Needed report recovered a 5-tuple; if a live
// PCB matches, reclamp its snd_mss from the cache (the cache itself was
// already updated by ip4.Engine before this callback fires).
func (t *Transport) handleUnreachable(code uint8, rest [4]byte, origProto uint8, origSrc, origDst netip.Addr, origSrcPort, origDstPort uint16) {
	if origProto != ip4.ProtoTCP {
		return
	}
	id := Identity{LocalAddr: origSrc, LocalPort: origSrcPort, RemoteAddr: origDst, RemotePort: origDstPort}
	pcb, ok := t.Table.Lookup(id)
	if !ok {
		return
	}
	t.reclampMSS(pcb)
}

// reclampMSS recomputes snd_mss from the PMTU cache for pcb's remote
// address, clamping cwnd/ssthresh up if it shrank (spec.md §4.E, §8
// property 9).
func (t *Transport) reclampMSS(pcb *PCB) {
	mtu, ok := t.pmtu.Estimate(pcb.RemoteAddr)
	if !ok {
		return
	}
	const ip4TCPHeaderSize = ip4.HeaderLen + HeaderLen
	floor := pmtu.MinMTU - ip4TCPHeaderSize
	newMSS := mtu - ip4TCPHeaderSize
	if newMSS > int(pcb.BaseSndMSS) {
		newMSS = int(pcb.BaseSndMSS)
	}
	if newMSS < floor {
		newMSS = floor
	}
	if uint16(newMSS) == pcb.SndMSS {
		return
	}
	pcb.SndMSS = uint16(newMSS)
	pcb.ClampCwndToMSS()
}

// sendRaw hands a fully built IPv4-payload-ready TCP segment to the
// engine, using the PCB's bound local interface if known.
func (t *Transport) sendRaw(pcb *PCB, ref bufchain.Ref, outIface *iface.Iface, retry *driver.RetryRequest) {
	t.engine.SendDgram(pcb.LocalAddr, pcb.RemoteAddr, 64, ip4.ProtoTCP, 0, 0, ref, outIface, retry, false)
}

// newPCB allocates a PCB via Table.NewPCB and wires its OutputTimer and
// RtxTimer handlers back into this Transport, so every PCB the Transport
// creates is immediately ready for output scheduling.
func (t *Transport) newPCB(id Identity, l *Listener) (*PCB, ustackerr.Error) {
	pcb, err := t.Table.NewPCB(id, l)
	if !err.OK() {
		return nil, err
	}
	t.bindTimers(pcb)
	return pcb, ustackerr.Success
}
