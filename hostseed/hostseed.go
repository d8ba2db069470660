// Package hostseed seeds an iface.Iface's addressing from the running
// host's own network configuration, for integration tests and a
// cmd/ustackd -seed-host flag that wants a real address/gateway instead of
// a hand-picked one. It is a thin convenience layer, not part of the core
// send/receive path.
package hostseed

import "net/netip"

// Addressing is the host-observed configuration for one link.
type Addressing struct {
	Addr       netip.Addr
	Netmask    netip.Addr
	Prefix     int
	BcastAddr  netip.Addr
	Gateway    netip.Addr
	HasGateway bool
}
