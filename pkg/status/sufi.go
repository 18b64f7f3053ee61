package status

import "fmt"

// Type is the 4-bit type tag of a super-field (SUFI)
type Type uint8

const (
	TypeNoMore        Type = 0
	TypeWindow        Type = 1
	TypeAck           Type = 2
	TypeList          Type = 3
	TypeBitmap        Type = 4
	TypeRelativeList  Type = 5
	TypeMoveWindow    Type = 6
	TypeMoveWindowAck Type = 7
	TypePoll          Type = 8
)

// String returns string representation of Type
func (t Type) String() string {
	switch t {
	case TypeNoMore:
		return "NO_MORE"
	case TypeWindow:
		return "WINDOW"
	case TypeAck:
		return "ACK"
	case TypeList:
		return "LIST"
	case TypeBitmap:
		return "BITMAP"
	case TypeRelativeList:
		return "RLIST"
	case TypeMoveWindow:
		return "MRW"
	case TypeMoveWindowAck:
		return "MRW_ACK"
	case TypePoll:
		return "POLL"
	default:
		return fmt.Sprintf("Reserved(%d)", uint8(t))
	}
}

// Terminal reports whether decoding stops after a record of this type
func (t Type) Terminal() bool {
	return t == TypeNoMore || t == TypeAck
}

// Record is one decoded super-field. The concrete types below are the only
// implementations.
type Record interface {
	Type() Type
	isRecord()
}

// NoMore marks the end of the status information
type NoMore struct{}

// Window carries a new transmit window size
type Window struct {
	Size uint16
}

// Ack acknowledges every PDU below LastSN not reported missing earlier
type Ack struct {
	LastSN uint16
}

// ListPair is one (sequence number, run length) pair of a List record
type ListPair struct {
	SN     uint16
	Length uint8 // Number of further consecutive PDUs missing after SN
}

// List reports missing PDUs as explicit runs
type List struct {
	Pairs []ListPair
}

// Bitmap reports the reception state of a run of PDUs starting at FirstSN.
// Bit polarity follows 3GPP TS 25.322: a set bit means the PDU was received
// correctly, a clear bit means it was not. Missing returns the clear bits
// and Acked the set ones.
type Bitmap struct {
	FirstSN uint16
	Bits    []byte // (length+1) octets, MSB first
}

// RelativeEntry is one missing PDU, or a burst of missing PDUs, of a
// RelativeList record
type RelativeEntry struct {
	SN    uint16
	Burst uint16 // Zero for a single PDU; otherwise PDUs SN..SN+Burst-1 are missing
}

// RelativeList reports missing PDUs as distances from FirstSN
type RelativeList struct {
	FirstSN   uint16
	Codewords []uint8 // Raw 4-bit codewords
	Entries   []RelativeEntry
}

// MoveWindow asks the receiver to move its window past discarded SDUs
type MoveWindow struct {
	SNs      []uint16
	NLength  uint8
	Extended bool // The length field was zero: the discard extends beyond the window
}

// MoveWindowAck acknowledges a MoveWindow
type MoveWindowAck struct {
	N  uint8
	SN uint16
}

// Poll carries the SN of the PDU that triggered a poll
type Poll struct {
	SN uint16
}

func (NoMore) Type() Type        { return TypeNoMore }
func (Window) Type() Type        { return TypeWindow }
func (Ack) Type() Type           { return TypeAck }
func (List) Type() Type          { return TypeList }
func (Bitmap) Type() Type        { return TypeBitmap }
func (RelativeList) Type() Type  { return TypeRelativeList }
func (MoveWindow) Type() Type    { return TypeMoveWindow }
func (MoveWindowAck) Type() Type { return TypeMoveWindowAck }
func (Poll) Type() Type          { return TypePoll }

func (NoMore) isRecord()        {}
func (Window) isRecord()        {}
func (Ack) isRecord()           {}
func (List) isRecord()          {}
func (Bitmap) isRecord()        {}
func (RelativeList) isRecord()  {}
func (MoveWindow) isRecord()    {}
func (MoveWindowAck) isRecord() {}
func (Poll) isRecord()          {}

// Len returns the number of PDUs described by the bitmap
func (b Bitmap) Len() int {
	return len(b.Bits) * 8
}

// Received reports whether PDU FirstSN+i was received correctly
func (b Bitmap) Received(i int) bool {
	return b.Bits[i/8]&(0x80>>uint(i%8)) != 0
}

// Missing returns the sequence numbers marked as not correctly received
func (b Bitmap) Missing() []uint16 {
	var sns []uint16
	for i := 0; i < b.Len(); i++ {
		if !b.Received(i) {
			sns = append(sns, (b.FirstSN+uint16(i))&snMask)
		}
	}
	return sns
}

// Acked returns the sequence numbers marked as received
func (b Bitmap) Acked() []uint16 {
	var sns []uint16
	for i := 0; i < b.Len(); i++ {
		if b.Received(i) {
			sns = append(sns, (b.FirstSN+uint16(i))&snMask)
		}
	}
	return sns
}

// Missing expands the list into individual missing sequence numbers
func (l List) Missing() []uint16 {
	var sns []uint16
	for _, p := range l.Pairs {
		for i := 0; i <= int(p.Length); i++ {
			sns = append(sns, (p.SN+uint16(i))&snMask)
		}
	}
	return sns
}
