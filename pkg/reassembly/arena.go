package reassembly

import "fmt"

// Handle refers to a Fragment stored in a Reassembler. Handles survive
// finalization; they go stale only when the Reassembler is Reset.
type Handle struct {
	index uint32
	gen   uint32
}

// Valid reports whether h was issued by an arena (the zero Handle never is)
func (h Handle) Valid() bool {
	return h.gen != 0
}

// String returns string representation of Handle
func (h Handle) String() string {
	if !h.Valid() {
		return "frag(-)"
	}
	return fmt.Sprintf("frag(%d.%d)", h.index, h.gen)
}

type slot struct {
	gen  uint32
	used bool
	frag Fragment
}

// arena stores fragments by index. Releasing a slot bumps its generation so
// handles to the old occupant no longer resolve.
type arena struct {
	slots []slot
	free  []uint32
}

func (a *arena) alloc(f Fragment) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{gen: 1})
		idx = uint32(len(a.slots) - 1)
	}

	s := &a.slots[idx]
	s.used = true
	h := Handle{index: idx, gen: s.gen}
	f.Handle = h
	s.frag = f
	return h
}

// get returns the fragment for h, or nil when h is stale
func (a *arena) get(h Handle) *Fragment {
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if !s.used || s.gen != h.gen {
		return nil
	}
	return &s.frag
}

// releaseAll frees every slot, keeping the slice for reuse
func (a *arena) releaseAll() {
	a.free = a.free[:0]
	for i := range a.slots {
		s := &a.slots[i]
		if s.used {
			s.used = false
			s.gen++
			s.frag = Fragment{}
		}
		a.free = append(a.free, uint32(i))
	}
}

// live returns the number of occupied slots
func (a *arena) live() int {
	return len(a.slots) - len(a.free)
}
