package connid

import (
	"net/netip"
	"testing"

	"github.com/m-lab/ustack/tcp"
)

func TestForIsDeterministic(t *testing.T) {
	pcb := &tcp.PCB{
		Identity: tcp.Identity{
			LocalAddr:  netip.MustParseAddr("10.0.0.1"),
			LocalPort:  12345,
			RemoteAddr: netip.MustParseAddr("10.0.0.2"),
			RemotePort: 7000,
		},
		ISS: 0xdeadbeef,
	}
	a, err := For(pcb)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	b, err := For(pcb)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if a != b {
		t.Fatalf("For is not deterministic: %q != %q", a, b)
	}
	if a == "" {
		t.Fatal("For returned an empty string")
	}
}

func TestForDiffersByIdentity(t *testing.T) {
	base := tcp.PCB{
		Identity: tcp.Identity{
			LocalAddr:  netip.MustParseAddr("10.0.0.1"),
			LocalPort:  12345,
			RemoteAddr: netip.MustParseAddr("10.0.0.2"),
			RemotePort: 7000,
		},
		ISS: 1,
	}
	other := base
	other.RemotePort = 7001

	a, err := For(&base)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	b, err := For(&other)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if a == b {
		t.Fatalf("For produced the same id for two different identities: %q", a)
	}
}
