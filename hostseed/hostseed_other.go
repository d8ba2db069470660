//go:build !linux

package hostseed

import (
	"fmt"
	"runtime"

	"github.com/m-lab/ustack/iface"
)

// ForLink is unsupported outside Linux (netlink is Linux-only).
func ForLink(linkName string) (Addressing, error) {
	return Addressing{}, fmt.Errorf("hostseed: unsupported on %s", runtime.GOOS)
}

// Apply is unreachable on non-Linux since ForLink always errors first.
func Apply(ifc *iface.Iface, a Addressing) {
	ifc.SetAddr(a.Addr, a.Netmask, a.BcastAddr, a.Prefix)
	if a.HasGateway {
		ifc.SetGateway(a.Gateway)
	}
}
