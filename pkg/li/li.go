// Package li decodes the length-indicator list that follows an RLC data PDU
// header. An LI either marks where an SDU ends inside the PDU (an offset from
// the end of the LI list) or carries one of the reserved special meanings.
package li

import (
	"fmt"

	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/pdu"
	"avaneesh/rlc-go/pkg/types"
)

// Special LI values, normalized to their 15-bit form
const (
	ValuePreviousEnded      uint16 = 0x0000 // Previous PDU exactly ended an SDU
	ValueEndMinusLastByte   uint16 = 0x7FFA // UM: SDU ends one octet before the PDU end
	ValuePreviousEndedShort uint16 = 0x7FFB // Previous PDU was one octet short of ending an SDU
	ValueStartOfSDU         uint16 = 0x7FFC // UM: first data octet starts an SDU
	ValueExactlyOneSDU      uint16 = 0x7FFD // UM: the PDU carries exactly one SDU
	ValueMiddleOrPiggyback  uint16 = 0x7FFE // UM: middle segment, AM: piggy-backed STATUS
	ValuePadding            uint16 = 0x7FFF // Rest of the PDU is padding
)

// DefaultMaxEntries caps the number of LIs accepted in one header
const DefaultMaxEntries = 16

// Kind classifies a decoded LI
type Kind uint8

const (
	KindData Kind = iota
	KindPreviousEnded
	KindPreviousEndedShort
	KindStartOfSDU
	KindExactlyOneSDU
	KindEndOfSDUMinusLastByte
	KindMiddleSegment
	KindPiggybackStatus
	KindPadding
)

// String returns string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindData:
		return "Data"
	case KindPreviousEnded:
		return "PreviousEnded"
	case KindPreviousEndedShort:
		return "PreviousEndedShort"
	case KindStartOfSDU:
		return "StartOfSDU"
	case KindExactlyOneSDU:
		return "ExactlyOneSDU"
	case KindEndOfSDUMinusLastByte:
		return "EndOfSDUMinusLastByte"
	case KindMiddleSegment:
		return "MiddleSegment"
	case KindPiggybackStatus:
		return "PiggybackStatus"
	case KindPadding:
		return "Padding"
	default:
		return "Unknown"
	}
}

// Terminal reports whether an LI of this kind must be the last one in a header
func (k Kind) Terminal() bool {
	return k == KindPadding || k == KindPiggybackStatus
}

// Width is the size in bits of the value field of one LI
type Width uint8

const (
	Width7  Width = 7
	Width15 Width = 15
)

// octets returns how many octets one LI of this width occupies (value + E bit)
func (w Width) octets() int {
	if w == Width15 {
		return 2
	}
	return 1
}

// WidthFor selects the LI width of a PDU
func WidthFor(mode channel.Mode, pduSize int, size channel.LISize) Width {
	switch size {
	case channel.LI7Bit:
		return Width7
	case channel.LI15Bit:
		return Width15
	}
	if pduSize > pdu.LengthThreshold(mode) {
		return Width15
	}
	return Width7
}

// Entry is one decoded LI
type Entry struct {
	Raw    uint16 // Value as carried on the wire
	Value  uint16 // Value normalized to the 15-bit code space
	Kind   Kind
	Offset int // Data LIs: end of the segment, counted from the end of the LI list
	Length int // Data LIs: segment length in octets
}

// String returns string representation of Entry
func (e Entry) String() string {
	if e.Kind == KindData {
		return fmt.Sprintf("LI(%d, len=%d)", e.Value, e.Length)
	}
	return fmt.Sprintf("LI(0x%04X %s)", e.Value, e.Kind)
}

// Header is a decoded LI list
type Header struct {
	Width   Width
	Entries []Entry
	Size    int // Octets occupied by the LI list
}

// Options controls decoding
type Options struct {
	Mode        channel.Mode
	Width       Width
	MaxEntries  int  // 0 means DefaultMaxEntries
	HeadersOnly bool // Payload may be absent; skip the offset-vs-length check
}

// Decode parses the LI list at the start of buf. buf holds everything after
// the fixed PDU header. Decoding is all-or-nothing: any invalid entry fails
// the whole list with an error wrapping types.ErrMalformed.
func Decode(buf []byte, opts Options) (*Header, error) {
	width := opts.Width
	if width != Width7 && width != Width15 {
		return nil, types.Malformedf("invalid LI width %d", width)
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	h := &Header{Width: width}
	step := width.octets()
	offset := 0

	for {
		if offset+step > len(buf) {
			return nil, types.Malformedf("LI list truncated after %d entries", len(h.Entries))
		}

		var raw uint16
		var ext bool
		if width == Width15 {
			raw = (uint16(buf[offset]) << 7) | uint16(buf[offset+1]>>1)
			ext = buf[offset+1]&0x01 != 0
		} else {
			raw = uint16(buf[offset] >> 1)
			ext = buf[offset]&0x01 != 0
		}
		offset += step

		h.Entries = append(h.Entries, Entry{Raw: raw, Value: normalize(raw, width)})
		if len(h.Entries) > maxEntries {
			return nil, types.Malformedf("more than %d LIs", maxEntries)
		}
		if !ext {
			break
		}
	}
	h.Size = offset

	if err := classify(h, len(buf)-offset, opts); err != nil {
		return nil, err
	}
	return h, nil
}

// normalize maps the 7-bit special codes onto their 15-bit counterparts
func normalize(raw uint16, width Width) uint16 {
	if width == Width7 && raw >= 0x7C {
		return 0x7F80 | raw
	}
	return raw
}

// classify assigns a Kind to every entry and validates data offsets against
// the payload length and against each other.
func classify(h *Header, payloadLen int, opts Options) error {
	ordered := opts.Mode == channel.ModeOrdered
	prev := 0

	for i := range h.Entries {
		e := &h.Entries[i]
		last := i == len(h.Entries)-1

		switch e.Value {
		case ValuePreviousEnded:
			e.Kind = KindPreviousEnded
		case ValuePreviousEndedShort:
			e.Kind = KindPreviousEndedShort
		case ValuePadding:
			e.Kind = KindPadding
		case ValueMiddleOrPiggyback:
			if ordered {
				e.Kind = KindPiggybackStatus
			} else {
				e.Kind = KindMiddleSegment
			}
		case ValueStartOfSDU, ValueExactlyOneSDU, ValueEndMinusLastByte:
			if ordered {
				return types.Malformedf("reserved LI 0x%04X in %s", e.Value, opts.Mode)
			}
			switch e.Value {
			case ValueStartOfSDU:
				e.Kind = KindStartOfSDU
			case ValueExactlyOneSDU:
				e.Kind = KindExactlyOneSDU
			default:
				e.Kind = KindEndOfSDUMinusLastByte
			}
		default:
			off := int(e.Value)
			if off > payloadLen && !opts.HeadersOnly {
				return types.Malformedf("LI %d beyond payload of %d octets", off, payloadLen)
			}
			if off < prev {
				return types.Malformedf("LI %d below previous LI %d", off, prev)
			}
			e.Kind = KindData
			e.Offset = off
			e.Length = off - prev
			prev = off
		}

		if e.Kind.Terminal() && !last {
			return types.Malformedf("%s LI is not the last entry", e.Kind)
		}
	}
	return nil
}

// Encode serializes LI values into wire format, setting the E bit on every
// entry but the last. Values are given in the normalized 15-bit code space.
func Encode(values []uint16, width Width) []byte {
	out := make([]byte, 0, len(values)*width.octets())
	for i, v := range values {
		var ext byte
		if i < len(values)-1 {
			ext = 0x01
		}
		if width == Width15 {
			out = append(out, byte(v>>7), byte(v<<1)|ext)
			continue
		}
		if v >= 0x7FFC {
			v &= 0x7F
		}
		out = append(out, byte(v<<1)|ext)
	}
	return out
}
