package status

import (
	"avaneesh/rlc-go/pkg/pdu"
	"avaneesh/rlc-go/pkg/types"
)

const (
	snMask = 0x0FFF

	// errorBurstIndicator is the RLIST codeword announcing a burst length
	errorBurstIndicator uint8 = 0x1
)

// Report is the ordered result of decoding a status bitstream
type Report struct {
	Records    []Record
	Terminated bool // A NO_MORE or ACK record ended decoding
	Incomplete bool // Decoding stopped on an error; Records holds what came before it
}

// Decode decodes the SUFI records of a status bitstream starting at
// bitOffset. Decoding stops after the first terminal record; bits after it
// are not inspected. On error the returned report still holds every record
// decoded before the failure and is flagged Incomplete.
func Decode(data []byte, bitOffset int) (*Report, error) {
	r := newBitReader(data, bitOffset)
	report := &Report{}

	// Fewer than four bits cannot hold a type tag and are padding.
	for r.remaining() >= 4 {
		rec, err := decodeRecord(r)
		if err != nil {
			report.Incomplete = true
			return report, err
		}
		report.Records = append(report.Records, rec)
		if rec.Type().Terminal() {
			report.Terminated = true
			break
		}
	}
	return report, nil
}

func decodeRecord(r *bitReader) (Record, error) {
	tag, err := r.read4()
	if err != nil {
		return nil, err
	}

	switch Type(tag) {
	case TypeNoMore:
		return NoMore{}, nil

	case TypeWindow:
		size, err := r.read12()
		if err != nil {
			return nil, err
		}
		return Window{Size: size}, nil

	case TypeAck:
		lsn, err := r.read12()
		if err != nil {
			return nil, err
		}
		return Ack{LastSN: lsn}, nil

	case TypeList:
		return decodeList(r)

	case TypeBitmap:
		return decodeBitmap(r)

	case TypeRelativeList:
		return decodeRelativeList(r)

	case TypeMoveWindow:
		return decodeMoveWindow(r)

	case TypeMoveWindowAck:
		n, err := r.read4()
		if err != nil {
			return nil, err
		}
		sn, err := r.read12()
		if err != nil {
			return nil, err
		}
		return MoveWindowAck{N: n, SN: sn}, nil

	case TypePoll:
		sn, err := r.read12()
		if err != nil {
			return nil, err
		}
		return Poll{SN: sn}, nil

	default:
		return nil, types.Malformedf("unknown SUFI type %d", tag)
	}
}

func decodeList(r *bitReader) (Record, error) {
	count, err := r.read4()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, types.Malformedf("LIST with zero length")
	}

	rec := List{Pairs: make([]ListPair, 0, count)}
	for i := 0; i < int(count); i++ {
		sn, err := r.read12()
		if err != nil {
			return nil, err
		}
		l, err := r.read4()
		if err != nil {
			return nil, err
		}
		rec.Pairs = append(rec.Pairs, ListPair{SN: sn, Length: l})
	}
	return rec, nil
}

func decodeBitmap(r *bitReader) (Record, error) {
	length, err := r.read4()
	if err != nil {
		return nil, err
	}
	fsn, err := r.read12()
	if err != nil {
		return nil, err
	}

	rec := Bitmap{FirstSN: fsn, Bits: make([]byte, int(length)+1)}
	for i := range rec.Bits {
		v, err := r.read(8)
		if err != nil {
			return nil, err
		}
		rec.Bits[i] = uint8(v)
	}
	return rec, nil
}

// decodeRelativeList expands the codeword run. Each non-burst codeword
// contributes three bits of a distance; the codeword with its low bit set
// ends the distance, which is then added to the running SN cursor. After an
// error-burst codeword the next distance is a burst length instead.
func decodeRelativeList(r *bitReader) (Record, error) {
	count, err := r.read4()
	if err != nil {
		return nil, err
	}
	fsn, err := r.read12()
	if err != nil {
		return nil, err
	}

	rec := RelativeList{
		FirstSN:   fsn,
		Codewords: make([]uint8, 0, count),
		Entries:   []RelativeEntry{{SN: fsn}},
	}

	cursor := fsn
	var value uint16
	var burst bool
	var last uint8

	for i := 0; i < int(count); i++ {
		cw, err := r.read4()
		if err != nil {
			return nil, err
		}
		rec.Codewords = append(rec.Codewords, cw)
		last = cw

		if cw == errorBurstIndicator {
			burst = true
			continue
		}

		value = (value << 3) | uint16(cw>>1)
		if cw&0x01 == 0 {
			continue
		}

		if burst {
			rec.Entries = append(rec.Entries, RelativeEntry{SN: (cursor + 1) & snMask, Burst: value})
			cursor = (cursor + value) & snMask
			burst = false
		} else {
			cursor = (cursor + value) & snMask
			rec.Entries = append(rec.Entries, RelativeEntry{SN: cursor})
		}
		value = 0
	}

	if count == 0 || last == errorBurstIndicator || last&0x01 == 0 {
		return nil, types.Malformedf("RLIST does not end with a terminating codeword")
	}
	return rec, nil
}

func decodeMoveWindow(r *bitReader) (Record, error) {
	length, err := r.read4()
	if err != nil {
		return nil, err
	}

	rec := MoveWindow{}
	count := int(length)
	if count == 0 {
		rec.Extended = true
		count = 1
	}

	for i := 0; i < count; i++ {
		sn, err := r.read12()
		if err != nil {
			return nil, err
		}
		rec.SNs = append(rec.SNs, sn)
	}

	n, err := r.read4()
	if err != nil {
		return nil, err
	}
	rec.NLength = n
	return rec, nil
}

// Control is a decoded AM control PDU
type Control struct {
	Type   pdu.ControlType
	Status *Report // STATUS only
	RSN    uint8   // RESET / RESET ACK sequence number
	HFNI   uint32  // RESET / RESET ACK hyper frame number indicator
}

// ParseControl decodes an AM control PDU. data starts with the D/C bit.
func ParseControl(data []byte) (*Control, error) {
	r := newBitReader(data, 1)
	typ, err := r.read(3)
	if err != nil {
		return nil, err
	}

	c := &Control{Type: pdu.ControlType(typ)}
	switch c.Type {
	case pdu.ControlStatus:
		report, err := Decode(data, pdu.ControlHeaderBits)
		c.Status = report
		return c, err

	case pdu.ControlReset, pdu.ControlResetAck:
		rsn, err := r.read(1)
		if err != nil {
			return nil, err
		}
		// R1, reserved
		if _, err := r.read(3); err != nil {
			return nil, err
		}
		hfni, err := r.read(20)
		if err != nil {
			return nil, err
		}
		c.RSN = uint8(rsn)
		c.HFNI = hfni
		return c, nil

	default:
		return nil, types.Malformedf("reserved control PDU type %d", typ)
	}
}
