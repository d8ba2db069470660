// Package timerheap implements the monotonic-clock priority queue and
// four-state timer lifecycle from spec.md §3/§4.C. Scheduling is
// single-threaded cooperative (spec.md §5): all mutation happens on the
// event-loop thread that calls Heap.Run.
package timerheap

import "time"

// State is one of the four logical timer states from spec.md §3. A fifth
// state, Idle, is the zero value for a Timer not currently in the heap.
type State int

const (
	// Idle means the timer is not scheduled and not in the heap.
	Idle State = iota
	// Pending means the timer is scheduled for a future deadline.
	Pending
	// Dispatch means the timer's deadline has passed during the current
	// Run pass and its handler is about to fire (or is firing).
	Dispatch
	// TempUnset means a handler unset this timer during the current
	// dispatch pass; it is removed once the pass completes.
	TempUnset
	// TempSet means a handler (re)scheduled this timer during the current
	// dispatch pass; it is promoted back to Pending once the pass
	// completes.
	TempSet
)

// Handler is invoked when a Timer fires. It may freely Set or Unset any
// timer, including the one currently firing — the two-phase dispatch model
// below makes that safe.
type Handler func(t *Timer)

// Timer is an intrusively-owned heap element: its index field is the
// only state owned by the heap itself, matching the "node lives inside its
// owner" rule from spec.md §9.
type Timer struct {
	Deadline time.Time
	handler  Handler
	state    State
	heap     *Heap
	index    int
}

// State reports the timer's current lifecycle state.
func (t *Timer) State() State { return t.state }

// Heap is the timer priority queue. It is not safe for concurrent use; all
// calls must come from the single event-loop thread (spec.md §5).
type Heap struct {
	items []*Timer
}

// New returns an empty Heap.
func New() *Heap { return &Heap{} }

// NewTimer creates a Timer bound to h with the given handler, initially
// Idle (not scheduled).
func (h *Heap) NewTimer(handler Handler) *Timer {
	return &Timer{handler: handler, heap: h, state: Idle, index: -1}
}

// Set (re)schedules t to fire at deadline. If called from within a
// dispatch pass (the timer's own handler, or another timer's handler), the
// change is recorded as TempSet and only takes effect as Pending once the
// current Run pass completes — this is the delayed-timer-update contract
// from spec.md §5.
func (t *Timer) Set(deadline time.Time) {
	t.Deadline = deadline
	switch t.state {
	case Idle, TempUnset:
		t.state = Pending
		t.heap.push(t)
	case Pending:
		t.heap.fix(t)
	case Dispatch:
		// Already fired this pass; re-arm for the next pass without
		// re-entering the heap until dispatch finishes.
		t.state = TempSet
	case TempSet:
		// Already marked for promotion; just update the deadline.
	}
}

// Unset cancels t. Valid from any context, including t's own handler.
func (t *Timer) Unset() {
	switch t.state {
	case Pending:
		t.heap.remove(t)
		t.state = Idle
	case Dispatch:
		t.state = TempUnset
	case TempSet:
		t.state = Idle
	case TempUnset, Idle:
		// Already not scheduled.
	}
}

// Run fires every timer whose deadline is <= now, in non-decreasing
// deadline order (spec.md §8 property 3), using the two-phase dispatch
// model from spec.md §3: timers due this pass flip Pending->Dispatch
// before any handler runs, so handlers can mutate the heap (including
// unsetting themselves or other due timers) without corrupting iteration.
// It returns the deadline of the next still-pending timer, or the zero
// time if none remain.
func (h *Heap) Run(now time.Time) time.Time {
	var due []*Timer
	for len(h.items) > 0 && !h.items[0].Deadline.After(now) {
		t := h.items[0]
		h.popRoot()
		t.state = Dispatch
		t.index = -1
		due = append(due, t)
	}

	for _, t := range due {
		if t.state == Dispatch {
			t.handler(t)
		}
	}

	for _, t := range due {
		switch t.state {
		case TempUnset:
			t.state = Idle
		case TempSet:
			t.state = Pending
			h.push(t)
		case Dispatch:
			// Handler did not reschedule; timer goes idle.
			t.state = Idle
		}
	}

	if len(h.items) == 0 {
		return time.Time{}
	}
	return h.items[0].Deadline
}

// Len reports the number of timers currently Pending.
func (h *Heap) Len() int { return len(h.items) }

// --- binary min-heap over Deadline, intrusive via Timer.index ---

func (h *Heap) push(t *Timer) {
	t.index = len(h.items)
	h.items = append(h.items, t)
	h.siftUp(t.index)
}

func (h *Heap) popRoot() *Timer {
	root := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items[0].index = 0
	h.items = h.items[:last]
	if last > 0 {
		h.siftDown(0)
	}
	return root
}

func (h *Heap) remove(t *Timer) {
	i := t.index
	last := len(h.items) - 1
	if i != last {
		h.items[i] = h.items[last]
		h.items[i].index = i
	}
	h.items = h.items[:last]
	t.index = -1
	if i < len(h.items) {
		h.siftDown(i)
		h.siftUp(i)
	}
}

func (h *Heap) fix(t *Timer) {
	i := t.index
	h.siftDown(i)
	h.siftUp(i)
}

func (h *Heap) less(i, j int) bool {
	return h.items[i].Deadline.Before(h.items[j].Deadline)
}

func (h *Heap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h *Heap) siftDown(i int) {
	n := len(h.items)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && h.less(left, smallest) {
			smallest = left
		}
		if right < n && h.less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.swap(i, smallest)
		i = smallest
	}
}
