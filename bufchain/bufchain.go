// Package bufchain implements the scatter/gather byte-range abstraction
// used throughout ustack: a Ref is a cursor (node, offset, length) over a
// singly-linked chain of Nodes, and every higher layer (checksum, ip4, tcp)
// reads and writes through it instead of copying into flat buffers.
package bufchain

import "errors"

// ErrShortChain is returned when an operation needs more bytes than are
// reachable from the current cursor position.
var ErrShortChain = errors.New("bufchain: chain shorter than requested length")

// Node is one link of a buffer chain. Ownership is intrusive: a Node
// belongs to at most one chain at a time, matching spec.md's note on
// intrusive collections.
type Node struct {
	Data []byte
	Next *Node
}

// Ref is a view over a Node chain: readable bytes start at Node.Data[Offset]
// and run for TotLen bytes across successive Next links.
//
// Invariants (spec.md §3): Offset <= len(Node.Data); the bytes reachable
// from (Node, Offset) across Next links are >= TotLen. Eager advancement:
// any operation that exhausts a node's remaining bytes and has a non-nil
// Next moves the cursor to (Next, 0) before returning, so for ring-backed
// chains Offset is never equal to a chunk's length.
type Ref struct {
	node   *Node
	offset int
	totLen int
}

// NewRef builds a Ref over chain starting at offset 0 with the given total
// length. totLen must not exceed the bytes reachable from node.
func NewRef(node *Node, totLen int) Ref {
	return Ref{node: node, offset: 0, totLen: totLen}
}

// TotLen returns the number of readable bytes in the view.
func (r Ref) TotLen() int { return r.totLen }

// IsNull reports whether the ref has no backing node (zero value).
func (r Ref) IsNull() bool { return r.node == nil }

// eagerAdvance moves (node, offset) forward to (Next, 0) whenever offset
// has reached the end of node's data and a continuation exists. This is
// the normative eager-advancement rule from spec.md §3/Glossary.
func eagerAdvance(node *Node, offset int) (*Node, int) {
	for node != nil && offset >= len(node.Data) && node.Next != nil {
		node = node.Next
		offset = 0
	}
	return node, offset
}

// visit is the single traversal primitive every cursor-advance operation in
// this package is built on. It calls fn once per chunk starting at the
// current cursor, stopping after max bytes have been offered (or the chain
// ends). fn returns the number of bytes it consumed from the chunk it was
// given; returning less than the chunk's length terminates the walk early
// (used by FindByte and StartsWith).
func visit(node *Node, offset int, max int, fn func(chunk []byte) int) (*Node, int, int) {
	node, offset = eagerAdvance(node, offset)
	consumed := 0
	for max > 0 && node != nil {
		chunk := node.Data[offset:]
		if len(chunk) > max {
			chunk = chunk[:max]
		}
		if len(chunk) == 0 {
			break
		}
		n := fn(chunk)
		consumed += n
		offset += n
		max -= n
		if n < len(chunk) {
			// Early termination requested by fn.
			break
		}
		node, offset = eagerAdvance(node, offset)
	}
	return node, offset, consumed
}

// Skip advances the view past n bytes without reading them.
func (r Ref) Skip(n int) Ref {
	if n > r.totLen {
		panic(bufchainError("Skip: n exceeds TotLen"))
	}
	node, offset, _ := visit(r.node, r.offset, n, func(chunk []byte) int { return len(chunk) })
	return Ref{node: node, offset: offset, totLen: r.totLen - n}
}

// Take copies the first n bytes of the view into dst (which must have
// length >= n) and returns the resulting view advanced past them.
func (r Ref) Take(n int, dst []byte) Ref {
	if n > r.totLen || n > len(dst) {
		panic(bufchainError("Take: n exceeds available bytes"))
	}
	written := 0
	node, offset, _ := visit(r.node, r.offset, n, func(chunk []byte) int {
		c := copy(dst[written:n], chunk)
		written += c
		return c
	})
	return Ref{node: node, offset: offset, totLen: r.totLen - n}
}

// Give copies n bytes from src into the view's backing storage (the
// inverse of Take) and returns the view advanced past them.
func (r Ref) Give(n int, src []byte) Ref {
	if n > r.totLen || n > len(src) {
		panic(bufchainError("Give: n exceeds available bytes"))
	}
	written := 0
	node, offset, _ := visit(r.node, r.offset, n, func(chunk []byte) int {
		c := copy(chunk, src[written:n])
		written += c
		return c
	})
	return Ref{node: node, offset: offset, totLen: r.totLen - n}
}

// GiveSameByte fills the next n bytes of the view with b and advances past
// them.
func (r Ref) GiveSameByte(b byte, n int) Ref {
	if n > r.totLen {
		panic(bufchainError("GiveSameByte: n exceeds available bytes"))
	}
	node, offset, _ := visit(r.node, r.offset, n, func(chunk []byte) int {
		for i := range chunk {
			chunk[i] = b
		}
		return len(chunk)
	})
	return Ref{node: node, offset: offset, totLen: r.totLen - n}
}

// FindByte scans up to max bytes of the view for b, returning the number
// of bytes preceding the match and whether it was found. It does not
// advance the receiver.
func (r Ref) FindByte(b byte, max int) (pos int, found bool) {
	if max > r.totLen {
		max = r.totLen
	}
	scanned := 0
	_, _, _ = visit(r.node, r.offset, max, func(chunk []byte) int {
		for i, c := range chunk {
			if c == b {
				found = true
				pos = scanned + i
				return i // stop the walk right at the match
			}
		}
		scanned += len(chunk)
		return len(chunk)
	})
	return pos, found
}

// StartsWith reports whether the view begins with prefix.
func (r Ref) StartsWith(prefix []byte) bool {
	if len(prefix) > r.totLen {
		return false
	}
	matched := true
	idx := 0
	_, _, _ = visit(r.node, r.offset, len(prefix), func(chunk []byte) int {
		for i, c := range chunk {
			if c != prefix[idx+i] {
				matched = false
				return i
			}
		}
		idx += len(chunk)
		return len(chunk)
	})
	return matched
}

// SubTo returns a view of the first n bytes of the receiver, sharing the
// same backing nodes.
func (r Ref) SubTo(n int) Ref {
	if n > r.totLen {
		panic(bufchainError("SubTo: n exceeds TotLen"))
	}
	node, offset := eagerAdvance(r.node, r.offset)
	return Ref{node: node, offset: offset, totLen: n}
}

// RevealHeader extends the view backwards by n bytes, exposing a
// previously-hidden header. The caller is responsible for n bytes having
// been reserved before the current first node (mirrors HideHeader's
// inverse); preconditions are the caller's responsibility, as in the
// original spec.
func (r Ref) RevealHeader(n int, headerNode *Node) Ref {
	return Ref{node: headerNode, offset: 0, totLen: r.totLen + n}
}

// HideHeader advances the view past n header bytes, shrinking TotLen by n.
// Equivalent to Skip but named for the header-hiding use case in ip4/tcp
// send paths.
func (r Ref) HideHeader(n int) Ref {
	return r.Skip(n)
}

// SubFromTo returns a view starting at byte offset off within the receiver
// and running for len bytes.
func (r Ref) SubFromTo(off, length int) Ref {
	if off+length > r.totLen {
		panic(bufchainError("SubFromTo: range exceeds TotLen"))
	}
	return r.Skip(off).SubTo(length)
}

// HeadNode returns the remainder of the current chunk (offset already
// applied, so index 0 of the returned slice is the next unread byte) and
// the chain's continuation, without copying. Combined with a caller-owned
// Node, this lets fragmentation build a zero-offset, zero-copy view
// starting at an arbitrary point in the middle of a chunk (the `contNode`
// argument SubHeaderToContinuedBy expects).
func (r Ref) HeadNode() (data []byte, next *Node) {
	node, offset := eagerAdvance(r.node, r.offset)
	if node == nil {
		return nil, nil
	}
	return node.Data[offset:], node.Next
}

// SubHeaderToContinuedBy is the fragmentation primitive: it installs
// outNode as a node whose Data is header and whose Next is the
// continuation chain taken from the receiver (no data is copied). The
// returned Ref is only valid while outNode is alive, exactly as spec.md
// §4.A describes.
func SubHeaderToContinuedBy(header []byte, contNode *Node, totalLen int, outNode *Node) Ref {
	outNode.Data = header
	outNode.Next = contNode
	return Ref{node: outNode, offset: 0, totLen: totalLen}
}

// Bytes materializes the view into a freshly allocated slice. Used at
// boundaries (driver send/recv, tests) where a flat []byte is required.
func (r Ref) Bytes() []byte {
	out := make([]byte, r.totLen)
	r.Take(r.totLen, out)
	return out
}

type bufchainError string

func (e bufchainError) Error() string { return string(e) }
