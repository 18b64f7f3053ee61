package reassembly

import (
	"fmt"

	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/types"
)

// Flags describe where a fragment sits inside its SDU
type Flags struct {
	Start    bool // First octets of an SDU
	Terminal bool // Last octets of an SDU; adding it completes the SDU
}

// Fragment is one contiguous byte range contributed by one frame to one SDU.
// Data is owned by the in-flight SDU until completion; afterwards the bytes
// live in the SDU and the Fragment is a provenance record only.
type Fragment struct {
	Handle    Handle
	Key       channel.Key
	FrameID   uint64
	Seq       int64
	Index     int // Segment index within the frame
	Length    int
	Flags     Flags
	Data      []byte
	SDU       *SDU // Set once the fragment is part of a completed SDU
	Discarded bool // Dropped with its in-flight SDU by Discard
}

// String returns string representation of Fragment
func (f Fragment) String() string {
	return fmt.Sprintf("%s frame=%d seq=%d idx=%d len=%d", f.Key, f.FrameID, f.Seq, f.Index, f.Length)
}

// SDU is a completed SDU. It is immutable once built; callers must not
// modify Data since the same SDU is returned again on re-dissection.
type SDU struct {
	ID        int // Completion order within the Reassembler, from 1
	Key       channel.Key
	Data      []byte
	Fragments []Handle // Contributing fragments in chain order
	Frames    []uint64 // Frames that contributed bytes, in chain order, without repeats
	Closing   Handle   // Fragment whose arrival completed the SDU
	Seq       int64    // Seq of the closing fragment
	Index     int      // Segment index of the closing fragment
	Complete  bool     // The chain began with a start fragment
	Warnings  []types.Warning
}

// Len returns the SDU length in octets
func (s *SDU) Len() int {
	return len(s.Data)
}

// String returns string representation of SDU
func (s *SDU) String() string {
	return fmt.Sprintf("SDU#%d %s len=%d fragments=%d complete=%t", s.ID, s.Key, len(s.Data), len(s.Fragments), s.Complete)
}
