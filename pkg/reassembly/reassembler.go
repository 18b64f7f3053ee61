// Package reassembly accumulates fragments into SDUs, one in-flight SDU per
// channel, and indexes every completed SDU so that presenting a frame again
// returns the result it produced the first time.
package reassembly

import (
	"sort"
	"sync"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/types"
)

// fragKey identifies one fragment of one frame
type fragKey struct {
	key     channel.Key
	frameID uint64
	seq     int64
	idx     int
}

// sduKey identifies a completed SDU by its closing fragment
type sduKey struct {
	key channel.Key
	seq int64
	idx int
}

// inflight is the per-channel accumulator. An empty chain is the Empty
// state, a non-empty chain the Accumulating state.
type inflight struct {
	chain  []Handle
	length int

	// boundary is set when the last SDU on the channel was closed, so the
	// next fragment starts a new SDU. closedSeq is the seq it closed at,
	// valid when hasClosed.
	boundary  bool
	hasClosed bool
	closedSeq int64
}

// State is a snapshot of a channel's accumulator
type State struct {
	Accumulating bool
	Fragments    int
	Length       int
	AtBoundary   bool
}

// Reassembler holds the fragment store, the per-channel accumulators and
// the reassembly table for one capture.
type Reassembler struct {
	mu sync.RWMutex

	arena     arena
	channels  map[channel.Key]*inflight
	fragments map[fragKey]Handle
	table     map[sduKey]*SDU
	sdus      []*SDU

	log logger.Logger
}

// New creates an empty Reassembler. A nil log selects the package default.
func New(log logger.Logger) *Reassembler {
	return &Reassembler{
		channels:  make(map[channel.Key]*inflight),
		fragments: make(map[fragKey]Handle),
		table:     make(map[sduKey]*SDU),
		log:       logger.OrDefault(log),
	}
}

func (r *Reassembler) channel(key channel.Key) *inflight {
	st, ok := r.channels[key]
	if !ok {
		st = &inflight{}
		r.channels[key] = st
	}
	return st
}

// AddFragment stores data as fragment idx of frame frameID and adds it to
// the channel's in-flight SDU: appended in unordered mode, inserted by
// (seq, idx) in ordered mode. A terminal fragment completes the SDU, which
// is returned.
//
// If the fragment was added before, nothing changes: the original handle is
// returned together with the SDU it completed, if any.
//
// Soft conditions are returned as warnings: an orphan when a non-start
// fragment opens the accumulator, a non-contiguous sequence when the new
// fragment is more than one SN away from its chain neighbour.
func (r *Reassembler) AddFragment(key channel.Key, frameID uint64, seq int64, idx int, data []byte, flags Flags) (Handle, *SDU, []types.Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fk := fragKey{key: key, frameID: frameID, seq: seq, idx: idx}
	if h, ok := r.fragments[fk]; ok {
		if f := r.arena.get(h); f != nil && f.SDU != nil && f.SDU.Closing == h {
			return h, f.SDU, nil
		}
		return h, nil, nil
	}

	st := r.channel(key)
	ordered := key.Mode() == channel.ModeOrdered

	var warnings []types.Warning
	if len(st.chain) == 0 && !flags.Start {
		switch {
		case st.boundary && (!ordered || !st.hasClosed || seq <= st.closedSeq+1):
			flags.Start = true
		default:
			w := types.NewWarning(types.WarnOrphanFragment, "%s frame %d seq %d: no SDU start", key, frameID, seq)
			r.log.Debug("reassembly: %s", w)
			warnings = append(warnings, w)
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	h := r.arena.alloc(Fragment{
		Key:     key,
		FrameID: frameID,
		Seq:     seq,
		Index:   idx,
		Length:  len(buf),
		Flags:   flags,
		Data:    buf,
	})
	r.fragments[fk] = h

	pos := len(st.chain)
	if ordered {
		pos = r.after(st.chain, seq, idx)
	}
	st.chain = append(st.chain, Handle{})
	copy(st.chain[pos+1:], st.chain[pos:])
	st.chain[pos] = h
	st.length += len(buf)
	st.boundary = false

	if pos > 0 {
		if w, gap := r.gap(st.chain[pos-1], h); gap {
			warnings = append(warnings, w)
		}
	}
	if pos+1 < len(st.chain) {
		if w, gap := r.gap(h, st.chain[pos+1]); gap {
			warnings = append(warnings, w)
		}
	}

	if flags.Terminal {
		return h, r.finalize(key, st, h, seq, idx, 0), warnings
	}
	return h, nil, warnings
}

// after returns the chain position of the first fragment ordered after
// (seq, idx)
func (r *Reassembler) after(chain []Handle, seq int64, idx int) int {
	return sort.Search(len(chain), func(i int) bool {
		g := r.arena.get(chain[i])
		return g.Seq > seq || (g.Seq == seq && g.Index > idx)
	})
}

// gap reports a NonContiguousSequence warning when b is more than one SN
// away from a
func (r *Reassembler) gap(a, b Handle) (types.Warning, bool) {
	fa, fb := r.arena.get(a), r.arena.get(b)
	d := fb.Seq - fa.Seq
	if d < 0 {
		d = -d
	}
	if d <= 1 {
		return types.Warning{}, false
	}
	w := types.NewWarning(types.WarnNonContiguousSequence, "%s: seq %d followed by %d", fa.Key, fa.Seq, fb.Seq)
	r.log.Debug("reassembly: %s", w)
	return w, true
}

// Finalize closes the channel's in-flight SDU without adding data, as when
// a later frame's LI shows the earlier trailing data was a whole SDU. The
// close is recorded as a zero-length fragment idx of frameID, so finalizing
// the same frame again returns the same SDU (or nil again). trim drops that
// many octets from the end of the SDU.
func (r *Reassembler) Finalize(key channel.Key, frameID uint64, seq int64, idx int, trim int) *SDU {
	r.mu.Lock()
	defer r.mu.Unlock()

	fk := fragKey{key: key, frameID: frameID, seq: seq, idx: idx}
	if h, ok := r.fragments[fk]; ok {
		if f := r.arena.get(h); f != nil {
			return f.SDU
		}
		return nil
	}

	h := r.arena.alloc(Fragment{
		Key:     key,
		FrameID: frameID,
		Seq:     seq,
		Index:   idx,
		Flags:   Flags{Terminal: true},
	})
	r.fragments[fk] = h

	sdu := r.finalize(key, r.channel(key), h, seq, idx, trim)
	if sdu != nil {
		r.arena.get(h).SDU = sdu
	}
	return sdu
}

// finalize converts the accumulator into a completed SDU. In ordered mode
// only the fragments ordered up to (seq, idx) are consumed; fragments of
// later SNs that arrived early stay in flight. Must hold r.mu.
func (r *Reassembler) finalize(key channel.Key, st *inflight, closing Handle, seq int64, idx int, trim int) *SDU {
	st.boundary = true
	st.hasClosed = true
	st.closedSeq = seq

	n := len(st.chain)
	if key.Mode() == channel.ModeOrdered {
		n = r.after(st.chain, seq, idx)
	}
	if n == 0 {
		return nil
	}
	chain := append([]Handle(nil), st.chain[:n]...)
	st.chain = append([]Handle(nil), st.chain[n:]...)

	sdu := &SDU{
		ID:        len(r.sdus) + 1,
		Key:       key,
		Fragments: chain,
		Closing:   closing,
		Seq:       seq,
		Index:     idx,
	}

	var buf []byte
	seen := make(map[uint64]struct{})
	var prevSeq int64
	for i, h := range chain {
		f := r.arena.get(h)
		buf = append(buf, f.Data...)
		st.length -= f.Length
		f.Data = nil
		f.SDU = sdu

		if i == 0 {
			sdu.Complete = f.Flags.Start
		} else if d := f.Seq - prevSeq; d > 1 || d < -1 {
			sdu.Warnings = append(sdu.Warnings,
				types.NewWarning(types.WarnNonContiguousSequence, "%s: seq %d followed by %d", key, prevSeq, f.Seq))
		}
		prevSeq = f.Seq

		if _, ok := seen[f.FrameID]; !ok {
			seen[f.FrameID] = struct{}{}
			sdu.Frames = append(sdu.Frames, f.FrameID)
		}
	}
	if !sdu.Complete {
		sdu.Warnings = append([]types.Warning{
			types.NewWarning(types.WarnOrphanFragment, "%s: SDU closed at seq %d has no start", key, seq),
		}, sdu.Warnings...)
	}

	if trim > len(buf) {
		trim = len(buf)
	}
	sdu.Data = buf[:len(buf)-trim]
	if sdu.Data == nil {
		sdu.Data = []byte{}
	}

	r.table[sduKey{key: key, seq: seq, idx: idx}] = sdu
	r.sdus = append(r.sdus, sdu)

	r.log.Debug("reassembly: completed %s", sdu)
	return sdu
}

// Discard drops the channel's in-flight SDU, as on an RLC reset. The
// fragments stay queryable, marked Discarded. Returns how many were dropped.
func (r *Reassembler) Discard(key channel.Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.channels[key]
	if !ok {
		return 0
	}
	n := len(st.chain)
	for _, h := range st.chain {
		if f := r.arena.get(h); f != nil {
			f.Data = nil
			f.Discarded = true
		}
	}
	st.chain = nil
	st.length = 0
	st.boundary = true
	st.hasClosed = false
	return n
}

// Lookup returns the SDU closed by fragment (seq, idx) on key
func (r *Reassembler) Lookup(key channel.Key, seq int64, idx int) (*SDU, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sdu, ok := r.table[sduKey{key: key, seq: seq, idx: idx}]
	return sdu, ok
}

// Fragment returns a copy of the fragment record for h
func (r *Reassembler) Fragment(h Handle) (Fragment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f := r.arena.get(h)
	if f == nil {
		return Fragment{}, false
	}
	return *f, true
}

// State returns a snapshot of the channel's accumulator
func (r *Reassembler) State(key channel.Key) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.channels[key]
	if !ok {
		return State{}
	}
	return State{
		Accumulating: len(st.chain) > 0,
		Fragments:    len(st.chain),
		Length:       st.length,
		AtBoundary:   st.boundary,
	}
}

// SDUs returns every completed SDU in completion order
func (r *Reassembler) SDUs() []*SDU {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SDU, len(r.sdus))
	copy(out, r.sdus)
	return out
}

// Fragments returns the number of stored fragment records
func (r *Reassembler) Fragments() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.arena.live()
}

// Reset tears down every channel and forgets all fragments and SDUs.
// Handles issued before Reset no longer resolve.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arena.releaseAll()
	r.channels = make(map[channel.Key]*inflight)
	r.fragments = make(map[fragKey]Handle)
	r.table = make(map[sduKey]*SDU)
	r.sdus = nil
}
