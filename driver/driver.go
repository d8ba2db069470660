// Package driver defines the external collaborator contract between
// ustack's core and whatever moves bytes to/from the wire (spec.md §1,
// §6). The TAP device / Ethernet / ARP handling itself stays out of
// scope; only this interface is consumed by ip4.Engine.
package driver

import (
	"net/netip"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/ustackerr"
)

// LinkState reports driver-observable link status.
type LinkState struct {
	LinkUp bool
}

// RetryRequest is a one-shot notification token: if a send fails with a
// retriable error (ustackerr.ArpQueryInProgress, ustackerr.OutputBufferFull)
// and the caller passed a non-nil RetryRequest, the driver calls Notify
// exactly once, later, when the send is worth retrying.
type RetryRequest struct {
	callback func()
}

// NewRetryRequest wraps callback, invoked at most once by Notify.
func NewRetryRequest(callback func()) *RetryRequest {
	return &RetryRequest{callback: callback}
}

// Notify fires the retry callback; calls after the first do nothing. Safe
// to call from the driver's own goroutine; the callback itself must only
// touch engine state from the event-loop thread (spec.md §5), so real
// drivers post it back onto the loop (e.g. via an asyncsignal.Signal)
// rather than calling it inline from an arbitrary context.
func (r *RetryRequest) Notify() {
	if r != nil && r.callback != nil {
		cb := r.callback
		r.callback = nil
		cb()
	}
}

// Driver is the core -> driver send contract (spec.md §6): SendIP4 is
// given a buffer that starts at the IP header, the resolved next-hop
// address, and an optional retry request. No link-layer room is reserved
// before the IP header; ip4.Engine does not read
// config.Config.HeaderBeforeIp. State reports link-layer status for the owning Iface's
// observers.
type Driver interface {
	SendIP4(pkt bufchain.Ref, nextHop netip.Addr, retry *RetryRequest) ustackerr.Error
	State() LinkState
}

// Receiver is the driver -> core receive contract (spec.md §6):
// RecvIP4Packet is called by the driver whenever a frame arrives; the
// referenced memory need not outlive the call.
type Receiver interface {
	RecvIP4Packet(pkt bufchain.Ref)
}
