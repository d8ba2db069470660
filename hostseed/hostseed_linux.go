package hostseed

import (
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/m-lab/ustack/iface"
)

// ForLink reads linkName's first IPv4 address and its netmask/prefix via
// the host's netlink socket, plus the gateway of the first IPv4 route on
// that link that has one.
func ForLink(linkName string) (Addressing, error) {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return Addressing{}, fmt.Errorf("hostseed: link %q: %w", linkName, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return Addressing{}, fmt.Errorf("hostseed: addrs for %q: %w", linkName, err)
	}
	if len(addrs) == 0 {
		return Addressing{}, fmt.Errorf("hostseed: link %q has no IPv4 address", linkName)
	}
	a := addrs[0]
	prefix, _ := a.Mask.Size()
	addr, ok := netip.AddrFromSlice(a.IP.To4())
	if !ok {
		return Addressing{}, fmt.Errorf("hostseed: link %q address %v is not IPv4", linkName, a.IP)
	}
	bcast := broadcastOf(addr, prefix)

	result := Addressing{
		Addr:      addr,
		Netmask:   netmaskOf(prefix),
		Prefix:    prefix,
		BcastAddr: bcast,
	}

	routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
	if err == nil {
		for _, r := range routes {
			if r.Gw == nil {
				continue
			}
			gw, ok := netip.AddrFromSlice(r.Gw.To4())
			if !ok {
				continue
			}
			result.Gateway = gw
			result.HasGateway = true
			break
		}
	}
	return result, nil
}

// Apply seeds ifc with the Addressing this package discovered.
func Apply(ifc *iface.Iface, a Addressing) {
	ifc.SetAddr(a.Addr, a.Netmask, a.BcastAddr, a.Prefix)
	if a.HasGateway {
		ifc.SetGateway(a.Gateway)
	}
}

func netmaskOf(prefix int) netip.Addr {
	var b [4]byte
	for i := 0; i < prefix; i++ {
		b[i/8] |= 1 << (7 - uint(i%8))
	}
	return netip.AddrFrom4(b)
}

func broadcastOf(addr netip.Addr, prefix int) netip.Addr {
	mask := netmaskOf(prefix)
	a4 := addr.As4()
	m4 := mask.As4()
	var b [4]byte
	for i := range b {
		b[i] = a4[i] | ^m4[i]
	}
	return netip.AddrFrom4(b)
}
