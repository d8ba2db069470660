// Command ustackd is a demo binary wiring two in-process ustack stacks
// over a virtual link and running a bulk transfer between them, in the
// same "wire everything together, run a ticker loop, expose prometheus"
// shape as the teacher's own main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/rs/xid"

	"github.com/m-lab/ustack/archive"
	"github.com/m-lab/ustack/config"
	"github.com/m-lab/ustack/driver"
	"github.com/m-lab/ustack/hostseed"
	"github.com/m-lab/ustack/iface"
	"github.com/m-lab/ustack/ip4"
	"github.com/m-lab/ustack/pcapdump"
	"github.com/m-lab/ustack/snapshot"
	"github.com/m-lab/ustack/stack"
	"github.com/m-lab/ustack/tcp"
	"github.com/m-lab/ustack/tcpconn"
	"github.com/m-lab/ustack/ustackerr"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	promPort    = flag.String("prom", ":9090", "Prometheus metrics export address and port.")
	payloadSize = flag.Int("payload", 1<<20, "Bytes to transfer in the demo bulk-transfer scenario.")
	seedHost    = flag.String("seed-host", "", "If set, seed the server-side interface's addressing from this host link instead of the built-in demo addresses.")
	runFor      = flag.Duration("run-for", 10*time.Second, "Maximum time to let the demo scenario run before giving up.")
	pcapOut     = flag.String("pcap", "", "If set, write a pcap capture of every TCP datagram seen on either interface to this file.")
	snapshotOut = flag.String("snapshot-out", "", "If set, write a zstd-compressed CSV snapshot of both stacks' PCB tables to <value>-server.csv.zst and <value>-client.csv.zst when the run ends.")
)

const listenPort = 7000

// mustOK fatals like rtx.Must, but for the ustackerr.Error results core
// ustack APIs return rather than plain errors (rtx.Must itself only ever
// sees plain errors at this boundary, matching the teacher's own usage).
func mustOK(err ustackerr.Error, format string, args ...interface{}) {
	if !err.OK() {
		log.Fatalf(format+": %v", append(args, err)...)
	}
}

// addPCAPTap wires d's Tap into ifc's TCP listener chain, the only traffic
// this demo ever carries, so captured files are readable pcap of the
// connection under test rather than an empty trace.
func addPCAPTap(ifc *iface.Iface, d *pcapdump.Dumper) {
	ifc.AddListener(ip4.ProtoTCP, d.Tap())
}

// dumpSnapshot writes table's current PCB state to <prefix>-<label>.csv.zst,
// tagging each row with connid.For via snapshot.Of so it can be correlated
// against a pcap capture or a log line for the same connection (spec.md §2
// domain-stack wiring: snapshot -> CSV -> zstd export).
func dumpSnapshot(prefix, label string, table *tcp.Table) {
	snaps := snapshot.OfTable(table, time.Now())
	w, err := archive.NewWriter(fmt.Sprintf("%s-%s.csv.zst", prefix, label))
	if err != nil {
		log.Printf("snapshot %s: could not open writer: %v", label, err)
		return
	}
	if err := snapshot.WriteCSV(snaps, w); err != nil {
		log.Printf("snapshot %s: WriteCSV: %v", label, err)
	}
	if err := w.Close(); err != nil {
		log.Printf("snapshot %s: Close: %v", label, err)
	}
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)
	os.Exit(run())
}

// run holds everything that must clean up via defer (listener, pcap file,
// snapshot dump, prometheus server) before the process exits; main only
// calls os.Exit once run has returned, so those defers always fire.
func run() int {
	ctx, cancel := context.WithTimeout(context.Background(), *runFor)
	defer cancel()

	runID := xid.New().String()
	log.Printf("run %s: starting demo scenario", runID)

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	serverAddr := netip.MustParseAddr("10.0.0.1")
	clientAddr := netip.MustParseAddr("10.0.0.2")
	netmask := netip.MustParseAddr("255.255.255.0")
	bcast := netip.MustParseAddr("10.0.0.255")
	prefix := 24

	if *seedHost != "" {
		a, err := hostseed.ForLink(*seedHost)
		rtx.Must(err, "Could not seed addressing from host link %q", *seedHost)
		serverAddr = a.Addr
		netmask = a.Netmask
		bcast = a.BcastAddr
		prefix = a.Prefix
	}

	cfg := config.Default()

	serverStack := stack.New(&cfg)
	clientStack := stack.New(&cfg)

	serverEnd, clientEnd := driver.NewLoopbackPair()

	serverIface := iface.New(1500, "loopback", serverEnd)
	serverIface.SetAddr(serverAddr, netmask, bcast, prefix)
	serverStack.AddIface(serverIface)
	serverEnd.Bind(serverStack.BindReceiver(serverIface))

	clientIface := iface.New(1500, "loopback", clientEnd)
	clientIface.SetAddr(clientAddr, netmask, bcast, 24)
	clientStack.AddIface(clientIface)
	clientEnd.Bind(clientStack.BindReceiver(clientIface))

	if *pcapOut != "" {
		f, err := os.Create(*pcapOut)
		rtx.Must(err, "Could not create pcap file %q", *pcapOut)
		defer f.Close()
		dumper, err := pcapdump.NewDumper(f, 65535)
		rtx.Must(err, "Could not start pcap dumper")
		addPCAPTap(serverIface, dumper)
		addPCAPTap(clientIface, dumper)
	}

	if *snapshotOut != "" {
		defer dumpSnapshot(*snapshotOut, "server", serverStack.TCP.Table)
		defer dumpSnapshot(*snapshotOut, "client", clientStack.TCP.Table)
	}

	received := make(chan int, 1)
	var totalRecv int

	listener, lerr := serverStack.Listen(listenPort, func(c *tcpconn.Connection) {
		log.Printf("run %s: server accepted connection from %s:%d", runID, c.RemoteAddr(), c.RemotePort())
		c.OnDataAvailable(func() {
			buf := make([]byte, 65536)
			for {
				n := c.Recv(buf)
				if n == 0 {
					break
				}
				totalRecv += n
				c.ExtendRcvWnd()
			}
		})
		c.OnClosed(func(ustackerr.Error) {
			received <- totalRecv
		})
	})
	mustOK(lerr, "Could not listen on port %d", listenPort)
	defer listener.Close()

	conn, derr := clientStack.Dial(clientAddr, serverAddr, listenPort)
	mustOK(derr, "Could not dial server")

	conn.OnStateChanged(func(s tcp.State) {
		log.Printf("client: state -> %s", s)
	})

	payload := make([]byte, *payloadSize)
	sent := 0

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for ctx.Err() == nil {
		if sent < len(payload) && conn.State() == tcp.ESTABLISHED {
			n := conn.SndPush(payload[sent:])
			sent += n
			if sent >= len(payload) {
				conn.Close()
			}
		}

		now := time.Now()
		serverStack.Poll(now)
		clientStack.Poll(now)

		select {
		case got := <-received:
			fmt.Printf("run %s: demo transfer complete: sent=%d received=%d\n", runID, sent, got)
			return 0
		case <-ticker.C:
		case <-ctx.Done():
		}
	}

	log.Println("demo scenario timed out")
	return 1
}
