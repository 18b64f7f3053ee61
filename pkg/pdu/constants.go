package pdu

import "github.com/pkg/errors"

// Header sizes
const (
	UMHeaderSize      = 1 // SN(7) E(1)
	AMHeaderSize      = 2 // D/C(1) SN(12) P(1) HE(2)
	ControlHeaderBits = 4 // D/C(1) PDU type(3)
	UMSequenceMask    = 0x7F
	AMSequenceMask    = 0x0FFF
	UMLengthThreshold = 125 // UM PDUs larger than this use 15-bit LIs
	AMLengthThreshold = 126 // AM PDUs larger than this use 15-bit LIs
)

// UM header bits
const (
	UMExtension uint8 = 0x01 // E bit: an LI follows
)

// AM header bits
const (
	AMDataControl uint8 = 0x80 // D/C bit: 1 = data PDU
	AMPoll        uint8 = 0x04 // P bit in the second octet
	AMHEMask      uint8 = 0x03 // Header extension field
)

// Header extension values (AM)
const (
	HEData        uint8 = 0 // Data follows the header
	HELengthInd   uint8 = 1 // An LI follows the header
	HEDataLastSDU uint8 = 2 // Data follows; the last octet of the PDU ends an SDU
	HEReserved    uint8 = 3
)

// ControlType is the PDU type of an AM control PDU
type ControlType uint8

const (
	ControlStatus   ControlType = 0
	ControlReset    ControlType = 1
	ControlResetAck ControlType = 2
)

// String returns string representation of ControlType
func (c ControlType) String() string {
	switch c {
	case ControlStatus:
		return "STATUS"
	case ControlReset:
		return "RESET"
	case ControlResetAck:
		return "RESET ACK"
	default:
		return "Reserved"
	}
}

// Errors
var (
	ErrPDUTooShort = errors.New("pdu too short")
	ErrUnknownMode = errors.New("unknown delivery mode")
	ErrReservedHE  = errors.New("reserved header extension")
)
