// Package pmtu tracks a per-remote-address path-MTU estimate (spec.md
// §4.E). Sizing and eviction policy are grounded on
// _examples/m-lab-tcp-info/cache/cache.go's generation-based map cache —
// here a single map is enough: entries never age or expire and leave the
// cache only through drop-oldest eviction when it is full, but
// the "map keyed by a cheap comparable id, size observed via a metric,
// capacity enforced by eviction" shape is carried over directly.
package pmtu

import (
	"net/netip"

	"github.com/m-lab/ustack/metrics"
	"github.com/m-lab/ustack/ustackerr"
)

// MinMTU is the floor below which a path-MTU estimate is never clamped
// (spec.md §9 design notes).
const MinMTU = 256

// Observer is notified synchronously whenever the estimate for an address
// changes. Observers must not destroy the Cache from within the callback
// (spec.md §4.E).
type Observer struct {
	Addr    netip.Addr
	Handle  func(newMTU int)
	next    *Observer
	prev    *Observer
	cache   *Cache
	removed bool
}

type entry struct {
	mtu       int
	observers *Observer
}

// Cache holds PMTU estimates keyed by remote address, bounded by
// maxEntries (spec.md §9: "static capacity ... capacity exhaustion as
// NoMtuEntryAvailable / drop-oldest").
type Cache struct {
	entries    map[netip.Addr]*entry
	order      []netip.Addr // insertion order, for drop-oldest eviction
	maxEntries int
}

// New creates a Cache with the given capacity.
func New(maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[netip.Addr]*entry, maxEntries),
		maxEntries: maxEntries,
	}
}

// Estimate returns the current PMTU estimate for addr and whether an entry
// exists at all. Callers with no entry should use an interface's MTU as
// the initial estimate.
func (c *Cache) Estimate(addr netip.Addr) (mtu int, ok bool) {
	e, ok := c.entries[addr]
	if !ok {
		return 0, false
	}
	return e.mtu, true
}

// Seed records an initial PMTU estimate for addr (typically the owning
// interface's MTU) if no entry exists yet. Returns NoMtuEntryAvailable if
// the cache is full and addr is new.
func (c *Cache) Seed(addr netip.Addr, ifaceMTU int) ustackerr.Error {
	if _, ok := c.entries[addr]; ok {
		return ustackerr.Success
	}
	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	if len(c.entries) >= c.maxEntries {
		return ustackerr.NoMtuEntryAvailable
	}
	c.entries[addr] = &entry{mtu: ifaceMTU}
	c.order = append(c.order, addr)
	return ustackerr.Success
}

func (c *Cache) evictOldest() {
	for len(c.order) > 0 {
		addr := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[addr]; ok {
			delete(c.entries, addr)
			return
		}
	}
}

// HandlePacketTooBig lowers the estimate for addr to
// min(ifaceMTU, max(MinMTU, mtuHint)) iff strictly smaller than the
// current estimate, and notifies observers synchronously on change
// (spec.md §4.E, §8 property 9; Open Question 1: zero hints clamp to
// MinMTU rather than being rejected).
func (c *Cache) HandlePacketTooBig(addr netip.Addr, mtuHint, ifaceMTU int) ustackerr.Error {
	e, ok := c.entries[addr]
	if !ok {
		if len(c.entries) >= c.maxEntries {
			c.evictOldest()
		}
		if len(c.entries) >= c.maxEntries {
			return ustackerr.NoMtuEntryAvailable
		}
		e = &entry{mtu: ifaceMTU}
		c.entries[addr] = e
		c.order = append(c.order, addr)
	}

	candidate := mtuHint
	if candidate < MinMTU {
		candidate = MinMTU
	}
	if candidate > ifaceMTU {
		candidate = ifaceMTU
	}
	if candidate >= e.mtu {
		return ustackerr.Success
	}
	e.mtu = candidate
	metrics.PMTUEstimateHistogram.Observe(float64(candidate))
	for o := e.observers; o != nil; o = o.next {
		o.Handle(candidate)
	}
	return ustackerr.Success
}

// Subscribe registers an observer for changes to addr's estimate. The
// returned Observer must be passed to Unsubscribe to unregister.
func (c *Cache) Subscribe(addr netip.Addr, handle func(newMTU int)) *Observer {
	e, ok := c.entries[addr]
	if !ok {
		e = &entry{mtu: MinMTU}
		c.entries[addr] = e
		c.order = append(c.order, addr)
	}
	o := &Observer{Addr: addr, Handle: handle, cache: c}
	o.next = e.observers
	if e.observers != nil {
		e.observers.prev = o
	}
	e.observers = o
	return o
}

// Unsubscribe detaches o. Safe to call at most once.
func (o *Observer) Unsubscribe() {
	if o.removed {
		return
	}
	o.removed = true
	e, ok := o.cache.entries[o.Addr]
	if !ok {
		return
	}
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		e.observers = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	}
}

// Len reports the number of addresses currently tracked.
func (c *Cache) Len() int { return len(c.entries) }
