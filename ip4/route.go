package ip4

import (
	"net/netip"

	"github.com/m-lab/ustack/iface"
	"github.com/m-lab/ustack/ustackerr"
)

var broadcastAll = netip.MustParseAddr("255.255.255.255")

// route implements spec.md §4.D step 1 / §8 property 4: if prefIface is
// non-nil, accept only via that interface's subnet/gateway/broadcast
// rules; otherwise pick the interface with the longest matching prefix,
// ties broken toward the most-recently-added interface (registration
// order in e.ifaces), falling back to the most-recently-added interface
// with a gateway.
func (e *Engine) route(dst netip.Addr, prefIface *iface.Iface) (*iface.Iface, netip.Addr, ustackerr.Error) {
	if prefIface != nil {
		if dst == broadcastAll || prefIface.Contains(dst) {
			return prefIface, dst, ustackerr.Success
		}
		if prefIface.HasAddr && prefIface.Addr.HasGateway {
			return prefIface, prefIface.Addr.Gateway, ustackerr.Success
		}
		return nil, netip.Addr{}, ustackerr.NoIPRoute
	}

	var best *iface.Iface
	bestPrefix := -1
	for _, ifc := range e.ifaces {
		if !ifc.HasAddr || !ifc.Contains(dst) {
			continue
		}
		if ifc.Addr.Prefix >= bestPrefix {
			best = ifc
			bestPrefix = ifc.Addr.Prefix
		}
	}
	if best != nil {
		return best, dst, ustackerr.Success
	}

	var gwIface *iface.Iface
	for _, ifc := range e.ifaces {
		if ifc.HasAddr && ifc.Addr.HasGateway {
			gwIface = ifc
		}
	}
	if gwIface != nil {
		return gwIface, gwIface.Addr.Gateway, ustackerr.Success
	}
	return nil, netip.Addr{}, ustackerr.NoIPRoute
}
