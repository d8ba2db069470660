package tcpconn

import (
	"testing"

	"github.com/m-lab/ustack/tcp"
	"github.com/m-lab/ustack/ustackerr"
)

// Connection's Delegate methods (DataAvailable/StateChanged/Closed) only
// forward to whatever callback was registered via the On* setters; they
// don't touch pcb/transport, so a zero-value Connection exercises them
// directly without needing a live tcp.Transport.

func TestConnectionForwardsDataAvailable(t *testing.T) {
	c := &Connection{}
	called := false
	c.OnDataAvailable(func() { called = true })
	c.DataAvailable()
	if !called {
		t.Error("DataAvailable did not invoke the registered callback")
	}
}

func TestConnectionForwardsStateChanged(t *testing.T) {
	c := &Connection{}
	var got tcp.State = -1
	c.OnStateChanged(func(s tcp.State) { got = s })
	c.StateChanged(tcp.ESTABLISHED)
	if got != tcp.ESTABLISHED {
		t.Errorf("StateChanged forwarded %v, want ESTABLISHED", got)
	}
}

func TestConnectionForwardsClosed(t *testing.T) {
	c := &Connection{}
	var got ustackerr.Error = ustackerr.Success
	c.OnClosed(func(e ustackerr.Error) { got = e })
	c.Closed(ustackerr.LinkDown)
	if got != ustackerr.LinkDown {
		t.Errorf("Closed forwarded %v, want LinkDown", got)
	}
}

func TestConnectionCallbacksNilSafe(t *testing.T) {
	c := &Connection{}
	// None of these should panic when no callback has been registered.
	c.DataAvailable()
	c.StateChanged(tcp.CLOSED)
	c.Closed(ustackerr.Success)
}
