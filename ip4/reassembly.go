package ip4

import (
	"time"

	"github.com/m-lab/ustack/bufchain"
	"github.com/m-lab/ustack/metrics"
)

// fragKey identifies a reassembly entry (spec.md §3 "Reassembly entry").
type fragKey struct {
	src, dst [4]byte
	proto    uint8
	ident    uint16
}

type byteRange struct{ start, end int }

// reassEntry accumulates fragments for one datagram. buf grows lazily to
// totalLen once the last fragment (MF=0) is seen; ranges tracks which
// byte spans of buf have been filled so completion can be detected
// without re-scanning fragment metadata.
type reassEntry struct {
	buf      []byte
	totalLen int // 0 until the last fragment has been seen
	ranges   []byteRange
	deadline time.Time
	hdr      Header // header of the first fragment, reused for the reassembled datagram
}

func (e *reassEntry) addFragment(offset int, data []byte, moreFragments bool, hdr Header) {
	if offset == 0 {
		e.hdr = hdr
	}
	if !moreFragments {
		e.totalLen = offset + len(data)
	}
	need := offset + len(data)
	if need > len(e.buf) {
		grown := make([]byte, need)
		copy(grown, e.buf)
		e.buf = grown
	}
	copy(e.buf[offset:need], data)
	e.ranges = append(e.ranges, byteRange{offset, need})
	e.mergeRanges()
}

func (e *reassEntry) mergeRanges() {
	if len(e.ranges) < 2 {
		return
	}
	for i := 1; i < len(e.ranges); i++ {
		r := e.ranges[i]
		for j := range e.ranges[:i] {
			o := &e.ranges[j]
			if r.start <= o.end && r.end >= o.start {
				if r.start < o.start {
					o.start = r.start
				}
				if r.end > o.end {
					o.end = r.end
				}
				e.ranges = append(e.ranges[:i], e.ranges[i+1:]...)
				// The grown range may now touch another one; rescan.
				i = 0
				break
			}
		}
	}
}

func (e *reassEntry) complete() bool {
	if e.totalLen == 0 {
		return false
	}
	for _, r := range e.ranges {
		if r.start == 0 && r.end >= e.totalLen {
			return true
		}
	}
	return false
}

// reassCache is the bounded, drop-oldest (spec.md §9) reassembly table.
type reassCache struct {
	entries map[fragKey]*reassEntry
	order   []fragKey
	max     int
	ttl     time.Duration
}

func newReassCache(maxEntries int, ttl time.Duration) *reassCache {
	return &reassCache{entries: make(map[fragKey]*reassEntry, maxEntries), max: maxEntries, ttl: ttl}
}

// addFragment inserts data for key, evicting the oldest entry if the table
// is full and key is new. Returns the reassembled payload and header if
// this fragment completed the datagram.
func (c *reassCache) addFragment(key fragKey, offset int, data []byte, moreFragments bool, hdr Header, now time.Time) ([]byte, Header, bool) {
	c.expire(now)
	e, ok := c.entries[key]
	if !ok {
		if len(c.entries) >= c.max {
			c.evictOldest()
			metrics.ReassemblyDropsTotal.WithLabelValues("capacity").Inc()
		}
		e = &reassEntry{deadline: now.Add(c.ttl)}
		c.entries[key] = e
		c.order = append(c.order, key)
	}
	e.addFragment(offset, data, moreFragments, hdr)
	if e.complete() {
		delete(c.entries, key)
		return e.buf[:e.totalLen], e.hdr, true
	}
	return nil, Header{}, false
}

func (c *reassCache) evictOldest() {
	for len(c.order) > 0 {
		k := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[k]; ok {
			delete(c.entries, k)
			return
		}
	}
}

func (c *reassCache) expire(now time.Time) {
	for k, e := range c.entries {
		if now.After(e.deadline) {
			delete(c.entries, k)
			metrics.ReassemblyDropsTotal.WithLabelValues("ttl").Inc()
		}
	}
}

// buildChain wraps a reassembled flat buffer in a single-node bufchain.Ref
// so downstream code always consumes a Ref regardless of whether a
// datagram arrived whole or reassembled.
func buildChain(data []byte) bufchain.Ref {
	return bufchain.NewRef(&bufchain.Node{Data: data}, len(data))
}
