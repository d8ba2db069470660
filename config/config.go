// Package config holds the statically composed configuration record
// consumed by every other ustack package (spec.md §6). It is a plain
// struct, not a plugin/options-pattern type — the heavy compile-time
// configuration machinery of the original C++ template library collapses
// to this one record per spec.md §9.
package config

import "time"

// Config is the configuration record from spec.md §6.
type Config struct {
	// HeaderBeforeIp is the link-layer header room a driver needs before
	// the IP header (default 14, room for an Ethernet header). ip4.Engine
	// does not read it: buffers handed to Driver.SendIP4 start at the IP
	// header with no room reserved before it.
	HeaderBeforeIp int

	// IcmpTTL is the TTL used on generated ICMP packets (echo reply,
	// destination unreachable).
	IcmpTTL uint8

	// AllowBroadcastPing allows ICMP echo requests addressed to an
	// interface's directed broadcast address to receive a reply.
	AllowBroadcastPing bool

	// MaxReassEntries bounds the number of in-flight IPv4 reassembly
	// entries; capacity exhaustion drops the oldest entry.
	MaxReassEntries int

	// MaxPmtuEntries bounds the number of tracked remote-address PMTU
	// estimates; capacity exhaustion drops the oldest entry.
	MaxPmtuEntries int

	// MaxPmtuEstimateCeiling is an upper bound for PMTU estimates. pmtu.Cache
	// does not read it; its estimates are bounded only by the interface MTU
	// the caller passes in.
	MaxPmtuEstimateCeiling int

	// TcpNumEphemeralPorts bounds the range of ports Connect() will pick
	// an unused local port from.
	TcpNumEphemeralPorts int

	// TcpMaxPcbs bounds the total number of PCBs (all states) the stack
	// will allocate across every listener and connection.
	TcpMaxPcbs int

	TcpMinRtxTime          time.Duration
	TcpMaxRtxTime          time.Duration
	TcpInitialRtxTime      time.Duration
	TcpSynRtxTime          time.Duration
	TcpMaxSynRtx           int
	TcpMaxRtx              int
	TcpFinWait2Time        time.Duration
	TcpTimeWaitTime        time.Duration
	TcpOutputTimerTicks    int
	TcpOutputRetryFullTicks  int
	TcpOutputRetryOtherTicks int
}

// Default returns the configuration used by cmd/ustackd and by tests that
// don't care about tuning the specifics, with values chosen the way the
// original project's static configuration does (conservative RFC 6298
// bounds, a modest ephemeral port range).
func Default() Config {
	return Config{
		HeaderBeforeIp:           14,
		IcmpTTL:                  64,
		AllowBroadcastPing:       false,
		MaxReassEntries:          16,
		MaxPmtuEntries:           256,
		MaxPmtuEstimateCeiling:   65535,
		TcpNumEphemeralPorts:     16384,
		TcpMaxPcbs:               2048,
		TcpMinRtxTime:            250 * time.Millisecond,
		TcpMaxRtxTime:            60 * time.Second,
		TcpInitialRtxTime:        1 * time.Second,
		TcpSynRtxTime:            1 * time.Second,
		TcpMaxSynRtx:             6,
		TcpMaxRtx:                12,
		TcpFinWait2Time:          60 * time.Second,
		TcpTimeWaitTime:          2 * 60 * time.Second,
		TcpOutputTimerTicks:      1,
		TcpOutputRetryFullTicks:  4,
		TcpOutputRetryOtherTicks: 1,
	}
}
