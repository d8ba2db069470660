package tapfd

import (
	"net/netip"
	"os"
	"testing"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/ustackerr"
)

// requireRoot skips the test unless running as root, since TUNSETIFF needs
// CAP_NET_ADMIN.
func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("tapfd tests require root (CAP_NET_ADMIN)")
	}
}

func TestOpenAndClose(t *testing.T) {
	requireRoot(t)

	dev, err := Open("ustacktest0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	if !dev.State().LinkUp {
		t.Fatal("expected link up after Open")
	}
	dev.SetLinkUp(false)
	if dev.State().LinkUp {
		t.Fatal("expected link down after SetLinkUp(false)")
	}
}

func TestSendIP4RejectsWhenLinkDown(t *testing.T) {
	requireRoot(t)

	dev, err := Open("ustacktest1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	dev.SetLinkUp(false)
	pkt := bufchain.NewRef(&bufchain.Node{Data: []byte{0x45, 0, 0, 20}}, 4)
	if got := dev.SendIP4(pkt, netip.Addr{}, nil); got != ustackerr.LinkDown {
		t.Fatalf("SendIP4 with link down = %v, want LinkDown", got)
	}
}
