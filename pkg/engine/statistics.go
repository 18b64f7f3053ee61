package engine

import (
	"sync/atomic"
	"time"
)

// Statistics tracks engine counters. Revisited frames only bump Revisits.
type Statistics struct {
	Frames            uint64
	Revisits          uint64
	ControlFrames     uint64
	Duplicates        uint64
	Malformed         uint64
	MissingAddressing uint64
	Resets            uint64

	Fragments uint64
	SDUs      uint64

	OrphanWarnings        uint64
	NonContiguousWarnings uint64

	// Capture time of the newest frame, Unix nano
	lastFrameNano int64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) incrementFrames(at time.Time) {
	atomic.AddUint64(&s.Frames, 1)
	n := at.UnixNano()
	for {
		last := atomic.LoadInt64(&s.lastFrameNano)
		if n <= last || atomic.CompareAndSwapInt64(&s.lastFrameNano, last, n) {
			return
		}
	}
}

func (s *Statistics) incrementRevisits()          { atomic.AddUint64(&s.Revisits, 1) }
func (s *Statistics) incrementControlFrames()     { atomic.AddUint64(&s.ControlFrames, 1) }
func (s *Statistics) incrementDuplicates()        { atomic.AddUint64(&s.Duplicates, 1) }
func (s *Statistics) incrementMalformed()         { atomic.AddUint64(&s.Malformed, 1) }
func (s *Statistics) incrementMissingAddressing() { atomic.AddUint64(&s.MissingAddressing, 1) }
func (s *Statistics) incrementResets()            { atomic.AddUint64(&s.Resets, 1) }
func (s *Statistics) addFragments(n int)          { atomic.AddUint64(&s.Fragments, uint64(n)) }
func (s *Statistics) addSDUs(n int)               { atomic.AddUint64(&s.SDUs, uint64(n)) }
func (s *Statistics) incrementOrphans()           { atomic.AddUint64(&s.OrphanWarnings, 1) }
func (s *Statistics) incrementNonContiguous()     { atomic.AddUint64(&s.NonContiguousWarnings, 1) }

// Snapshot is a point-in-time copy of Statistics
type Snapshot struct {
	Frames                uint64    `json:"frames"`
	Revisits              uint64    `json:"revisits"`
	ControlFrames         uint64    `json:"control_frames"`
	Duplicates            uint64    `json:"duplicates"`
	Malformed             uint64    `json:"malformed"`
	MissingAddressing     uint64    `json:"missing_addressing"`
	Resets                uint64    `json:"resets"`
	Fragments             uint64    `json:"fragments"`
	SDUs                  uint64    `json:"sdus"`
	OrphanWarnings        uint64    `json:"orphan_warnings"`
	NonContiguousWarnings uint64    `json:"non_contiguous_warnings"`
	LastFrame             time.Time `json:"last_frame"`
}

// Snapshot returns a copy of the counters
func (s *Statistics) Snapshot() Snapshot {
	snap := Snapshot{
		Frames:                atomic.LoadUint64(&s.Frames),
		Revisits:              atomic.LoadUint64(&s.Revisits),
		ControlFrames:         atomic.LoadUint64(&s.ControlFrames),
		Duplicates:            atomic.LoadUint64(&s.Duplicates),
		Malformed:             atomic.LoadUint64(&s.Malformed),
		MissingAddressing:     atomic.LoadUint64(&s.MissingAddressing),
		Resets:                atomic.LoadUint64(&s.Resets),
		Fragments:             atomic.LoadUint64(&s.Fragments),
		SDUs:                  atomic.LoadUint64(&s.SDUs),
		OrphanWarnings:        atomic.LoadUint64(&s.OrphanWarnings),
		NonContiguousWarnings: atomic.LoadUint64(&s.NonContiguousWarnings),
	}
	if n := atomic.LoadInt64(&s.lastFrameNano); n != 0 {
		snap.LastFrame = time.Unix(0, n).UTC()
	}
	return snap
}

// Reset resets all counters
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.Frames, 0)
	atomic.StoreUint64(&s.Revisits, 0)
	atomic.StoreUint64(&s.ControlFrames, 0)
	atomic.StoreUint64(&s.Duplicates, 0)
	atomic.StoreUint64(&s.Malformed, 0)
	atomic.StoreUint64(&s.MissingAddressing, 0)
	atomic.StoreUint64(&s.Resets, 0)
	atomic.StoreUint64(&s.Fragments, 0)
	atomic.StoreUint64(&s.SDUs, 0)
	atomic.StoreUint64(&s.OrphanWarnings, 0)
	atomic.StoreUint64(&s.NonContiguousWarnings, 0)
	atomic.StoreInt64(&s.lastFrameNano, 0)
}
