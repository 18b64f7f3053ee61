package pdu

import (
	"bytes"
	"fmt"

	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/types"
)

// Header is the fixed part of an RLC PDU header (before any LIs)
type Header struct {
	Mode channel.Mode

	// Control PDUs (AM only)
	Control     bool
	ControlType ControlType

	// Data PDUs
	SN      uint16 // Sequence number (7 bits UM, 12 bits AM)
	Poll    bool   // AM poll bit
	HE      uint8  // AM header extension
	HasLI   bool   // One or more LIs follow the fixed header
	EndsSDU bool   // HE=2: last octet of the PDU is the last octet of an SDU

	Size int // Size of the fixed header in octets
}

// Parse parses the fixed header of a PDU.
// It returns the header and the bytes that follow it. For control PDUs the
// returned bytes are the whole PDU, since control fields start inside the
// first octet.
func Parse(mode channel.Mode, data []byte) (Header, []byte, error) {
	h := Header{Mode: mode}

	switch mode {
	case channel.ModeTransparent:
		return h, data, nil

	case channel.ModeUnordered:
		if len(data) < UMHeaderSize {
			return h, nil, types.Malformedf("%v: %d octets", ErrPDUTooShort, len(data))
		}
		h.SN = uint16(data[0] >> 1)
		h.HasLI = data[0]&UMExtension != 0
		h.Size = UMHeaderSize
		return h, data[UMHeaderSize:], nil

	case channel.ModeOrdered:
		if len(data) < 1 {
			return h, nil, types.Malformedf("%v: empty", ErrPDUTooShort)
		}
		if data[0]&AMDataControl == 0 {
			h.Control = true
			h.ControlType = ControlType((data[0] >> 4) & 0x07)
			return h, data, nil
		}
		if len(data) < AMHeaderSize {
			return h, nil, types.Malformedf("%v: %d octets", ErrPDUTooShort, len(data))
		}
		h.SN = (uint16(data[0]&0x7F) << 5) | uint16(data[1]>>3)
		h.Poll = data[1]&AMPoll != 0
		h.HE = data[1] & AMHEMask
		h.Size = AMHeaderSize
		switch h.HE {
		case HELengthInd:
			h.HasLI = true
		case HEDataLastSDU:
			h.EndsSDU = true
		case HEReserved:
			return h, nil, types.Malformedf("%v", ErrReservedHE)
		}
		return h, data[AMHeaderSize:], nil

	default:
		return h, nil, types.Malformedf("%v: %d", ErrUnknownMode, mode)
	}
}

// Serialize converts the fixed header to wire format.
// Control headers serialize only the first octet's D/C and PDU type bits.
func (h Header) Serialize() []byte {
	switch h.Mode {
	case channel.ModeUnordered:
		b := uint8(h.SN&UMSequenceMask) << 1
		if h.HasLI {
			b |= UMExtension
		}
		return []byte{b}
	case channel.ModeOrdered:
		if h.Control {
			return []byte{uint8(h.ControlType&0x07) << 4}
		}
		sn := h.SN & AMSequenceMask
		b0 := AMDataControl | uint8(sn>>5)
		b1 := uint8(sn&0x1F) << 3
		if h.Poll {
			b1 |= AMPoll
		}
		b1 |= h.HE & AMHEMask
		return []byte{b0, b1}
	default:
		return nil
	}
}

// String returns a string representation of the header
func (h Header) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("PDU{Mode=%s, ", h.Mode))
	if h.Control {
		buf.WriteString(fmt.Sprintf("Control=%s}", h.ControlType))
		return buf.String()
	}
	buf.WriteString(fmt.Sprintf("SN=%d, ", h.SN))
	if h.Mode == channel.ModeOrdered {
		buf.WriteString(fmt.Sprintf("P=%t, HE=%d, ", h.Poll, h.HE))
	}
	buf.WriteString(fmt.Sprintf("LI=%t}", h.HasLI))
	return buf.String()
}

// LengthThreshold returns the PDU size above which a channel of the given
// mode switches to 15-bit LIs
func LengthThreshold(mode channel.Mode) int {
	if mode == channel.ModeOrdered {
		return AMLengthThreshold
	}
	return UMLengthThreshold
}
