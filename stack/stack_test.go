package stack

import (
	"net/netip"
	"testing"

	"github.com/m-lab/ustack/config"
	"github.com/m-lab/ustack/driver"
	"github.com/m-lab/ustack/iface"
	"github.com/m-lab/ustack/tcp"
	"github.com/m-lab/ustack/tcpconn"
)

func newLoopbackPair(t *testing.T) (server, client *Stack, serverAddr, clientAddr netip.Addr) {
	t.Helper()
	cfg := config.Default()
	server = New(&cfg)
	client = New(&cfg)

	serverEnd, clientEnd := driver.NewLoopbackPair()

	serverAddr = netip.MustParseAddr("10.0.0.1")
	clientAddr = netip.MustParseAddr("10.0.0.2")
	netmask := netip.MustParseAddr("255.255.255.0")
	bcast := netip.MustParseAddr("10.0.0.255")

	serverIface := iface.New(1500, "loopback", serverEnd)
	serverIface.SetAddr(serverAddr, netmask, bcast, 24)
	server.AddIface(serverIface)
	serverEnd.Bind(server.BindReceiver(serverIface))

	clientIface := iface.New(1500, "loopback", clientEnd)
	clientIface.SetAddr(clientAddr, netmask, bcast, 24)
	client.AddIface(clientIface)
	clientEnd.Bind(client.BindReceiver(clientIface))

	return server, client, serverAddr, clientAddr
}

func TestHandshakeCompletesSynchronously(t *testing.T) {
	server, client, serverAddr, clientAddr := newLoopbackPair(t)

	var accepted *tcpconn.Connection
	_, err := server.Listen(7000, func(c *tcpconn.Connection) {
		accepted = c
	})
	if !err.OK() {
		t.Fatalf("Listen: %v", err)
	}

	conn, err := client.Dial(clientAddr, serverAddr, 7000)
	if !err.OK() {
		t.Fatalf("Dial: %v", err)
	}

	if conn.State() != tcp.ESTABLISHED {
		t.Fatalf("client state = %s, want ESTABLISHED", conn.State())
	}
	if accepted == nil {
		t.Fatal("server never accepted a connection")
	}
	if accepted.State() != tcp.ESTABLISHED {
		t.Fatalf("server state = %s, want ESTABLISHED", accepted.State())
	}
	if accepted.RemotePort() != conn.LocalPort() {
		t.Fatalf("server sees remote port %d, want client's local port %d", accepted.RemotePort(), conn.LocalPort())
	}
}

func TestBulkTransferAndClose(t *testing.T) {
	server, client, serverAddr, clientAddr := newLoopbackPair(t)

	var accepted *tcpconn.Connection
	received := make([]byte, 0, 4096)
	_, err := server.Listen(7001, func(c *tcpconn.Connection) {
		accepted = c
		c.OnDataAvailable(func() {
			buf := make([]byte, 4096)
			for {
				n := c.Recv(buf)
				if n == 0 {
					break
				}
				received = append(received, buf[:n]...)
				c.ExtendRcvWnd()
			}
		})
	})
	if !err.OK() {
		t.Fatalf("Listen: %v", err)
	}

	conn, err := client.Dial(clientAddr, serverAddr, 7001)
	if !err.OK() {
		t.Fatalf("Dial: %v", err)
	}

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	sent := 0
	for sent < len(payload) {
		n := conn.SndPush(payload[sent:])
		if n == 0 {
			t.Fatal("SndPush made no progress")
		}
		sent += n
	}

	if len(received) != len(payload) {
		t.Fatalf("received %d bytes, want %d", len(received), len(payload))
	}
	for i := range payload {
		if received[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d", i, received[i], payload[i])
		}
	}

	conn.Close()
	if conn.State() != tcp.FIN_WAIT_2 && conn.State() != tcp.TIME_WAIT {
		t.Fatalf("client state after close = %s, want FIN_WAIT_2 or TIME_WAIT", conn.State())
	}
	if accepted.State() != tcp.CLOSE_WAIT {
		t.Fatalf("server state after client close = %s, want CLOSE_WAIT", accepted.State())
	}

	accepted.Close()
	if accepted.State() != tcp.LAST_ACK && accepted.State() != tcp.CLOSED {
		t.Fatalf("server state after its own close = %s, want LAST_ACK or CLOSED", accepted.State())
	}
}
