package tapfd

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"unsafe"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/driver"
	"github.com/m-lab/ustack/ustackerr"
)

const (
	tunDevice = "/dev/net/tun"
	ifnamsize = unix.IFNAMSIZ
)

// ifReq mirrors struct ifreq's name+flags prefix (linux/if.h), the part
// TUNSETIFF needs.
type ifReq struct {
	Name  [ifnamsize]byte
	Flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

// TapDevice is a driver.Driver reading and writing raw IPv4 packets
// through a Linux TUN interface (IFF_TUN|IFF_NO_PI: no Ethernet framing,
// no per-packet info header).
type TapDevice struct {
	name string
	file *os.File
	conn net.Conn
	fd   uintptr

	mu    sync.Mutex
	state driver.LinkState
}

// Open creates (or attaches to) the TUN interface named name and returns a
// TapDevice ready to Send/Run. Requires CAP_NET_ADMIN.
func Open(name string) (*TapDevice, error) {
	f, err := os.OpenFile(tunDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tapfd: open %s: %w", tunDevice, err)
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = unix.IFF_TUN | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("tapfd: TUNSETIFF %s: %w", name, errno)
	}

	conn, err := net.FileConn(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tapfd: FileConn: %w", err)
	}

	return &TapDevice{
		name:  name,
		file:  f,
		conn:  conn,
		fd:    netfd.GetFdFromConn(conn),
		state: driver.LinkState{LinkUp: true},
	}, nil
}

// Close releases the TUN file descriptor.
func (d *TapDevice) Close() error {
	cerr := d.conn.Close()
	ferr := d.file.Close()
	if cerr != nil {
		return cerr
	}
	return ferr
}

// SendIP4 implements driver.Driver: writes pkt's bytes straight to the TUN
// device, which expects a bare IPv4 datagram (IFF_NO_PI, no L2 header).
func (d *TapDevice) SendIP4(pkt bufchain.Ref, _ netip.Addr, retry *driver.RetryRequest) ustackerr.Error {
	d.mu.Lock()
	up := d.state.LinkUp
	d.mu.Unlock()
	if !up {
		return ustackerr.LinkDown
	}
	if _, err := d.conn.Write(pkt.Bytes()); err != nil {
		return ustackerr.HardwareError
	}
	return ustackerr.Success
}

// State implements driver.Driver.
func (d *TapDevice) State() driver.LinkState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetLinkUp flips the driver's reported link state.
func (d *TapDevice) SetLinkUp(up bool) {
	d.mu.Lock()
	d.state.LinkUp = up
	d.mu.Unlock()
}

// ErrClosed is returned by Run once the device has been closed.
var ErrClosed = errors.New("tapfd: device closed")

// Run blocks reading frames from the TUN device and delivering each one to
// recv, until the device is closed or a read error occurs. Meant to run on
// its own goroutine, feeding recv.RecvIP4Packet back onto the stack's
// single event-loop thread (e.g. via an asyncsignal.Signal), matching the
// single-threaded-core constraint spec.md §5 imposes on the engine itself.
func (d *TapDevice) Run(recv driver.Receiver) error {
	buf := make([]byte, 65536)
	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		recv.RecvIP4Packet(bufchain.NewRef(&bufchain.Node{Data: frame}, n))
	}
}
