// Package asyncsignal implements the thread-safe wakeup+queue pair other
// threads use to schedule work on the single event-loop thread (spec.md
// §3/§4.C/§5). It is modeled on eventsocket.Server's mutex-guarded client
// set and drain-until-empty dispatch loop
// (_examples/m-lab-tcp-info/eventsocket/eventsocket.go), but fans out to a
// single owning goroutine instead of many network clients, and the
// "wakeup" is a size-1 channel rather than a socket write.
package asyncsignal

import "sync"

// Handler runs on the event-loop thread when its Signal has been
// signaled and is being dispatched.
type Handler func()

// Signal is a single intrusive list element: a signaler may belong to at
// most one of the bus's two lists (pending, dispatch) at a time, matching
// the intrusive-list ownership rule from spec.md §9.
type Signal struct {
	handler Handler
	bus     *Bus
	queued  bool
	next    *Signal
}

// Bus is the async-signal wakeup queue. Signal is safe to call from any
// goroutine; Dispatch must only be called from the owning event-loop
// thread.
type Bus struct {
	mu      sync.Mutex
	pending *Signal // tail-less singly linked list, built head-first
	wake    chan struct{}
}

// New returns a Bus ready to receive signals.
func New() *Bus {
	return &Bus{wake: make(chan struct{}, 1)}
}

// NewSignal creates a Signal bound to b with the given handler, initially
// not queued.
func (b *Bus) NewSignal(handler Handler) *Signal {
	return &Signal{handler: handler, bus: b}
}

// Signal enqueues s on the pending list if it isn't already queued
// (idempotent between dispatches, per spec.md §4.C) and wakes the event
// loop exactly once on the empty->non-empty transition.
func (s *Signal) Signal() {
	b := s.bus
	b.mu.Lock()
	wasEmpty := b.pending == nil
	if !s.queued {
		s.queued = true
		s.next = b.pending
		b.pending = s
	}
	b.mu.Unlock()
	if wasEmpty {
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

// Reset clears the local "wake pending" notification without running any
// handlers; it does not affect queued signals. Reset is local to the
// caller (the event-loop thread) and never needs the mutex.
func (b *Bus) Reset() {
	select {
	case <-b.wake:
	default:
	}
}

// WakeChan returns the channel the event loop should select on alongside
// timerheap deadlines and I/O readiness (spec.md §5's suspension point).
func (b *Bus) WakeChan() <-chan struct{} { return b.wake }

// Dispatch splices the pending list into a local dispatch list under the
// lock, then runs every handler with the lock released (so Signal() from
// another thread is never blocked by a slow handler), draining until the
// local list is empty. A signal enqueued by Signal() *during* Dispatch is
// left on Bus.pending and is delivered on the next Dispatch call, per the
// "late signal ... next pass" rule in spec.md §4.C.
func (b *Bus) Dispatch() {
	b.mu.Lock()
	local := b.pending
	b.pending = nil
	b.mu.Unlock()

	for local != nil {
		s := local
		local = local.next
		s.next = nil
		b.mu.Lock()
		s.queued = false
		b.mu.Unlock()
		s.handler()
	}
}
