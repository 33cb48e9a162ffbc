// Package table maps opaque handles to live response slots.
//
// Handles are generation-tagged arena keys: the low 32 bits index the arena,
// the high 32 bits carry the generation of the entry at the time the handle
// was issued. Removing an entry bumps its generation, so a stale handle can
// never resolve to a slot created later at the same index. Handle 0 is never
// issued.
package table

import (
	"errors"
	"math"
	"sync"

	"powerbridge/internal/slot"
)

// Handle is an opaque, process-local reference to one response.
type Handle uint64

// Index returns the arena index encoded in h.
func (h Handle) Index() uint32 { return uint32(h) }

// Generation returns the generation encoded in h.
func (h Handle) Generation() uint32 { return uint32(h >> 32) }

func makeHandle(idx, gen uint32) Handle { return Handle(uint64(gen)<<32 | uint64(idx)) }

// ErrTableFull is returned by Insert when the configured capacity is reached.
var ErrTableFull = errors.New("response table full")

type entry struct {
	gen  uint32
	slot *slot.Slot // nil when vacant
}

// Table is the sole index to live slots. The zero value is not usable; call New.
type Table struct {
	mu      sync.RWMutex
	entries []entry
	free    []uint32
	live    int
	max     int
	retired int
}

// New returns an empty table. max <= 0 means unlimited.
func New(max int) *Table {
	return &Table{max: max}
}

// Insert registers s under a freshly minted handle.
func (t *Table) Insert(s *slot.Slot) (Handle, error) {
	if s == nil {
		return 0, errors.New("nil slot")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.max > 0 && t.live >= t.max {
		return 0, ErrTableFull
	}
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if uint64(len(t.entries)) >= math.MaxUint32 {
			return 0, ErrTableFull
		}
		idx = uint32(len(t.entries))
		t.entries = append(t.entries, entry{gen: 1})
	}
	e := &t.entries[idx]
	e.slot = s
	t.live++
	return makeHandle(idx, e.gen), nil
}

// Lookup resolves h to its live slot.
func (t *Table) Lookup(h Handle) (*slot.Slot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.resolveLocked(h)
	if !ok {
		return nil, false
	}
	return e.slot, true
}

// Remove unregisters h and returns the slot it referred to. The handle is
// retired: it never resolves again.
func (t *Table) Remove(h Handle) (*slot.Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.resolveLocked(h)
	if !ok {
		return nil, false
	}
	s := e.slot
	e.slot = nil
	t.live--
	if e.gen == math.MaxUint32 {
		// generation space exhausted; never reuse this index
		t.retired++
	} else {
		e.gen++
		t.free = append(t.free, h.Index())
	}
	return s, true
}

// Drain removes every live slot and returns them.
func (t *Table) Drain() []*slot.Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*slot.Slot, 0, t.live)
	for i := range t.entries {
		e := &t.entries[i]
		if e.slot == nil {
			continue
		}
		out = append(out, e.slot)
		e.slot = nil
		if e.gen == math.MaxUint32 {
			t.retired++
			continue
		}
		e.gen++
		t.free = append(t.free, uint32(i))
	}
	t.live = 0
	return out
}

// Len returns the number of live slots.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Handles returns the handles of every live slot in arena order.
func (t *Table) Handles() []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Handle, 0, t.live)
	for i, e := range t.entries {
		if e.slot != nil {
			out = append(out, makeHandle(uint32(i), e.gen))
		}
	}
	return out
}

func (t *Table) resolveLocked(h Handle) (*entry, bool) {
	if h == 0 {
		return nil, false
	}
	idx := h.Index()
	if uint64(idx) >= uint64(len(t.entries)) {
		return nil, false
	}
	e := &t.entries[idx]
	if e.slot == nil || e.gen != h.Generation() {
		return nil, false
	}
	return e, true
}

// Retired returns the number of arena indices permanently taken out of use.
func (t *Table) Retired() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retired
}
