package driver_test

import (
	"net/netip"
	"testing"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/driver"
	"github.com/m-lab/ustack/ustackerr"
)

type recvFunc func(bufchain.Ref)

func (f recvFunc) RecvIP4Packet(pkt bufchain.Ref) { f(pkt) }

func TestLoopbackPairDeliversToPeer(t *testing.T) {
	a, b := driver.NewLoopbackPair()
	var got []byte
	b.Bind(recvFunc(func(pkt bufchain.Ref) { got = pkt.Bytes() }))

	node := &bufchain.Node{Data: []byte("hello")}
	ref := bufchain.NewRef(node, 5)
	if err := a.SendIP4(ref, netip.Addr{}, nil); err != ustackerr.Success {
		t.Fatalf("SendIP4 = %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestLoopbackLinkDown(t *testing.T) {
	a, b := driver.NewLoopbackPair()
	b.SetLinkUp(false)
	node := &bufchain.Node{Data: []byte("x")}
	err := a.SendIP4(bufchain.NewRef(node, 1), netip.Addr{}, nil)
	if err != ustackerr.LinkDown {
		t.Fatalf("err = %v, want LinkDown", err)
	}
}
