package engine

import (
	"fmt"
	"time"

	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/li"
	"avaneesh/rlc-go/pkg/pdu"
	"avaneesh/rlc-go/pkg/reassembly"
	"avaneesh/rlc-go/pkg/status"
	"avaneesh/rlc-go/pkg/types"
)

// Frame is one captured RLC PDU with the metadata of its logical channel
type Frame struct {
	ID      uint64    // Unique per captured frame, stable across re-dissection
	Time    time.Time // Capture timestamp
	Channel channel.Descriptor
	PDU     []byte // RLC header and payload as captured
}

// Outcome summarizes what processing a frame produced
type Outcome int

const (
	OutcomeIncomplete    Outcome = iota // Fragments stored; no SDU completed
	OutcomeCompleted                    // One or more SDUs completed
	OutcomeDuplicate                    // Retransmission of an earlier frame
	OutcomeControl                      // Control PDU decoded
	OutcomeUnreassembled                // Segments returned without reassembly
	OutcomeMalformed                    // Header, LI list or status bitstream invalid
	OutcomeDropped                      // Channel could not be resolved
)

// String returns string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeIncomplete:
		return "Incomplete"
	case OutcomeCompleted:
		return "Completed"
	case OutcomeDuplicate:
		return "Duplicate"
	case OutcomeControl:
		return "Control"
	case OutcomeUnreassembled:
		return "Unreassembled"
	case OutcomeMalformed:
		return "Malformed"
	case OutcomeDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// Segment is one SDU piece of a frame, returned when reassembly is off
type Segment struct {
	Index    int
	Data     []byte
	Start    bool
	Terminal bool
}

// Result is what the engine produced for one frame
type Result struct {
	FrameID  uint64
	Key      channel.Key
	Header   pdu.Header
	LI       *li.Header
	Sequence int64 // Expanded SN; the frame ID in transparent mode
	Outcome  Outcome

	// Original is the frame first carrying the SN, for OutcomeDuplicate
	Original uint64

	SDUs      []*reassembly.SDU   // Completed by this frame
	Fragments []reassembly.Handle // Stored from this frame, in segment order
	Segments  []Segment           // Reassembly disabled only

	Control  *status.Control // Control PDU, or piggy-backed STATUS
	Warnings []types.Warning
}

// String returns string representation of Result
func (r *Result) String() string {
	switch r.Outcome {
	case OutcomeDuplicate:
		return fmt.Sprintf("frame %d %s seq=%d duplicate of %d", r.FrameID, r.Key, r.Sequence, r.Original)
	case OutcomeControl:
		return fmt.Sprintf("frame %d %s control %s", r.FrameID, r.Key, r.Control.Type)
	default:
		return fmt.Sprintf("frame %d %s seq=%d %s sdus=%d fragments=%d warnings=%d",
			r.FrameID, r.Key, r.Sequence, r.Outcome, len(r.SDUs), len(r.Fragments), len(r.Warnings))
	}
}
