// Package connid produces a globally-stable log/metric-correlation string
// for a tcp.PCB. ustack has no kernel socket to read a cookie from, so the
// 4-tuple plus ISN stand in for the kernel's socket cookie — the same
// shape of 64-bit "identity-ish quantity" the teacher's uuid.FromCookie
// was written to stringify
// (_examples/m-lab-tcp-info/uuid/uuid.go's FromCookie/getCookie).
package connid

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/m-lab/ustack/tcp"
	"github.com/m-lab/uuid"
)

// cookie folds a PCB's identity and initial sequence number into a single
// 64-bit value, the same "opaque per-connection integer" role the kernel
// socket cookie plays for the teacher.
func cookie(id tcp.Identity, iss uint32) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	for _, a := range id.LocalAddr.As4() {
		h.Write([]byte{a})
	}
	binary.BigEndian.PutUint16(buf[:2], id.LocalPort)
	h.Write(buf[:2])
	for _, a := range id.RemoteAddr.As4() {
		h.Write([]byte{a})
	}
	binary.BigEndian.PutUint16(buf[:2], id.RemotePort)
	h.Write(buf[:2])
	binary.BigEndian.PutUint32(buf[:4], iss)
	h.Write(buf[:4])
	return h.Sum64()
}

// For returns the stable identifier string for pcb, in the same
// "<prefix>_<hex cookie>" shape uuid.FromCookie produces.
func For(pcb *tcp.PCB) (string, error) {
	return uuid.FromCookie(cookie(pcb.Identity, pcb.ISS))
}
