// Package dedup detects retransmitted data PDUs: a PDU whose sequence number
// was already seen on the same channel, in a different frame, within the
// retransmission window.
package dedup

import (
	"sort"
	"sync"
	"time"

	"avaneesh/rlc-go/pkg/channel"
)

// DefaultWindow is the default retransmission window
const DefaultWindow = 5 * time.Second

// Verdict is the outcome of Check
type Verdict struct {
	Duplicate bool
	Original  uint64 // Frame that first carried the SN; valid when Duplicate
}

// entry is one recorded (SN, frame, time) tuple
type entry struct {
	seq     int64
	frameID uint64
	at      time.Time
}

// Detector keeps one history per channel, ordered by sequence number.
// Entries outside the window are ignored by lookups but never purged; a
// capture's history lives as long as the capture.
type Detector struct {
	mu      sync.Mutex
	window  time.Duration
	history map[channel.Key][]entry
}

// New creates a Detector. A non-positive window selects DefaultWindow.
func New(window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{
		window:  window,
		history: make(map[channel.Key][]entry),
	}
}

// Window returns the retransmission window
func (d *Detector) Window() time.Duration {
	return d.window
}

// Check records (seq, frameID, at) for key and reports whether it repeats an
// SN seen in another frame within the window. Presenting the same frame
// again is a re-visit: it reports Fresh and changes nothing.
func (d *Detector) Check(key channel.Key, seq int64, frameID uint64, at time.Time) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	hist := d.history[key]
	lo := sort.Search(len(hist), func(i int) bool { return hist[i].seq >= seq })
	hi := lo
	for hi < len(hist) && hist[hi].seq == seq {
		hi++
	}

	var (
		original *entry
		revisit  bool
	)
	for i := lo; i < hi; i++ {
		e := &hist[i]
		if e.frameID == frameID {
			revisit = true
			break
		}
		if !within(e.at, at, d.window) {
			continue
		}
		if original == nil || e.at.After(original.at) {
			original = e
		}
	}

	switch {
	case revisit:
		return Verdict{}
	case original != nil:
		return Verdict{Duplicate: true, Original: original.frameID}
	}

	// Insert after every entry with the same SN so arrival order is kept
	// within one SN.
	hist = append(hist, entry{})
	copy(hist[hi+1:], hist[hi:])
	hist[hi] = entry{seq: seq, frameID: frameID, at: at}
	d.history[key] = hist
	return Verdict{}
}

// Len returns the number of history entries recorded for key
func (d *Detector) Len(key channel.Key) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history[key])
}

// Reset forgets every history
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = make(map[channel.Key][]entry)
}

func within(a, b time.Time, window time.Duration) bool {
	diff := b.Sub(a)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}
