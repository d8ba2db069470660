// Package ringbuf implements the fixed-capacity byte ring buffer backing a
// TCP PCB's snd_buf/rcv_buf (spec.md §3). It exposes its readable region as
// a bufchain.Ref so the rest of the stack (checksum, ip4 send path) never
// needs to know a ring exists underneath — a wrapped region is presented
// as a two-node chain built directly over the backing array, without
// copying, matching the "eager advancement across
// ring-buffer chunks" note in spec.md's Glossary.
package ringbuf

import "github.com/m-lab/ustack/bufchain"

// Ring is a single-producer/single-consumer circular byte buffer. Not
// goroutine-safe; owned exclusively by the event-loop thread like every
// other piece of PCB state (spec.md §5).
type Ring struct {
	buf        []byte
	head, size int
}

// New allocates a Ring with the given fixed capacity.
func New(capacity int) *Ring {
	return &Ring{buf: make([]byte, capacity)}
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of occupied bytes.
func (r *Ring) Len() int { return r.size }

// Free returns the number of bytes available to Write.
func (r *Ring) Free() int { return len(r.buf) - r.size }

// Write copies as much of data as fits (min(len(data), Free())) into the
// ring at the tail and returns the number of bytes written.
func (r *Ring) Write(data []byte) int {
	n := len(data)
	if n > r.Free() {
		n = r.Free()
	}
	tail := (r.head + r.size) % len(r.buf)
	for i := 0; i < n; i++ {
		r.buf[(tail+i)%len(r.buf)] = data[i]
	}
	r.size += n
	return n
}

// Consume advances the head past n bytes (n must be <= Len()), discarding
// them — used once TCP output has copied a segment out, or the
// application has read received bytes.
func (r *Ring) Consume(n int) {
	if n > r.size {
		panic("ringbuf: Consume exceeds Len")
	}
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
}

// View returns a zero-copy bufchain.Ref over [offset, offset+length) of
// the currently occupied region. The Ref is only valid until the next
// Write or Consume call touches the overlapping bytes.
func (r *Ring) View(offset, length int) bufchain.Ref {
	if offset+length > r.size {
		panic("ringbuf: View range exceeds Len")
	}
	if length == 0 {
		return bufchain.NewRef(&bufchain.Node{}, 0)
	}
	start := (r.head + offset) % len(r.buf)
	firstLen := len(r.buf) - start
	if firstLen >= length {
		node := &bufchain.Node{Data: r.buf[start : start+length]}
		return bufchain.NewRef(node, length)
	}
	second := &bufchain.Node{Data: r.buf[:length-firstLen]}
	first := &bufchain.Node{Data: r.buf[start:], Next: second}
	return bufchain.NewRef(first, length)
}

// FullView returns a view over the entire occupied region.
func (r *Ring) FullView() bufchain.Ref { return r.View(0, r.size) }
