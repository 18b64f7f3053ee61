// Package feed supplies frames to the engine: a binary frame record codec,
// readers for record files and pcap captures, a QUIC transport for remote
// capture agents, a spool directory watcher and a time-ordered merge.
package feed

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"

	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/engine"
)

// Record layout constants
const (
	RecordVersion  = 1
	MaxRecordSize  = 64 * 1024 // Largest record body accepted
	recordFixedLen = 1 + 8 + 8 + 4
	connAddrLen    = 4 + 2
	linkAddrLen    = 2 + 2 + 1 + 1 + 2
)

// Addressing scheme byte
const (
	schemeNone uint8 = 0
	schemeConn uint8 = 1
	schemeLink uint8 = 2
)

// Errors
var (
	ErrBadRecord      = errors.New("bad frame record")
	ErrRecordTooLarge = errors.New("frame record too large")
)

// EncodeRecord serializes a frame into a record body.
//
// Body layout (big endian):
//
//	version(1) frame-id(8) unix-nanos(8) mode(1) direction(1) li-size(1) scheme(1)
//	conn: ueid(4) channel(2) | link: vpi(2) vci(2) cid(1) link(1) channel(2)
//	pdu(...)
func EncodeRecord(f engine.Frame) ([]byte, error) {
	d := f.Channel
	if d.Conn != nil && d.Link != nil {
		return nil, errors.Wrap(ErrBadRecord, "both addressing schemes set")
	}

	size := recordFixedLen + len(f.PDU)
	switch {
	case d.Conn != nil:
		size += connAddrLen
	case d.Link != nil:
		size += linkAddrLen
	}
	if size > MaxRecordSize {
		return nil, errors.Wrapf(ErrRecordTooLarge, "%d bytes", size)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, RecordVersion)
	buf = binary.BigEndian.AppendUint64(buf, f.ID)
	var nanos int64
	if !f.Time.IsZero() {
		nanos = f.Time.UnixNano()
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(nanos))
	buf = append(buf, uint8(d.Mode), uint8(d.Direction), uint8(d.LISize))

	switch {
	case d.Conn != nil:
		buf = append(buf, schemeConn)
		buf = binary.BigEndian.AppendUint32(buf, d.Conn.UEID)
		buf = binary.BigEndian.AppendUint16(buf, d.Conn.Channel)
	case d.Link != nil:
		buf = append(buf, schemeLink)
		buf = binary.BigEndian.AppendUint16(buf, d.Link.VPI)
		buf = binary.BigEndian.AppendUint16(buf, d.Link.VCI)
		buf = append(buf, d.Link.CID, d.Link.Link)
		buf = binary.BigEndian.AppendUint16(buf, d.Link.Channel)
	default:
		buf = append(buf, schemeNone)
	}

	return append(buf, f.PDU...), nil
}

// DecodeRecord parses a record body. A zero timestamp decodes to the zero
// time. The PDU is copied out of data.
func DecodeRecord(data []byte) (engine.Frame, error) {
	var f engine.Frame

	if len(data) < recordFixedLen {
		return f, errors.Wrapf(ErrBadRecord, "%d bytes, need at least %d", len(data), recordFixedLen)
	}
	if data[0] != RecordVersion {
		return f, errors.Wrapf(ErrBadRecord, "version %d", data[0])
	}

	f.ID = binary.BigEndian.Uint64(data[1:9])
	if nanos := int64(binary.BigEndian.Uint64(data[9:17])); nanos != 0 {
		f.Time = time.Unix(0, nanos).UTC()
	}

	mode := channel.Mode(data[17])
	if mode > channel.ModeOrdered {
		return f, errors.Wrapf(ErrBadRecord, "mode %d", data[17])
	}
	dir := channel.Direction(data[18])
	if dir > channel.DirectionDownlink {
		return f, errors.Wrapf(ErrBadRecord, "direction %d", data[18])
	}
	liSize := channel.LISize(data[19])
	if liSize > channel.LI15Bit {
		return f, errors.Wrapf(ErrBadRecord, "li size %d", data[19])
	}
	f.Channel = channel.Descriptor{Mode: mode, Direction: dir, LISize: liSize}

	rest := data[recordFixedLen:]
	switch data[20] {
	case schemeNone:
	case schemeConn:
		if len(rest) < connAddrLen {
			return f, errors.Wrap(ErrBadRecord, "truncated connection address")
		}
		f.Channel.Conn = &channel.ConnAddr{
			UEID:    binary.BigEndian.Uint32(rest[0:4]),
			Channel: binary.BigEndian.Uint16(rest[4:6]),
		}
		rest = rest[connAddrLen:]
	case schemeLink:
		if len(rest) < linkAddrLen {
			return f, errors.Wrap(ErrBadRecord, "truncated link address")
		}
		f.Channel.Link = &channel.LinkAddr{
			VPI:     binary.BigEndian.Uint16(rest[0:2]),
			VCI:     binary.BigEndian.Uint16(rest[2:4]),
			CID:     rest[4],
			Link:    rest[5],
			Channel: binary.BigEndian.Uint16(rest[6:8]),
		}
		rest = rest[linkAddrLen:]
	default:
		return f, errors.Wrapf(ErrBadRecord, "addressing scheme %d", data[20])
	}

	f.PDU = append([]byte(nil), rest...)
	return f, nil
}

// WriteRecord writes a frame as a length-prefixed record
func WriteRecord(w io.Writer, f engine.Frame) error {
	body, err := EncodeRecord(f)
	if err != nil {
		return err
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return errors.WithStack(err)
	}
	if _, err := w.Write(body); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// ReadRecord reads one length-prefixed record. It returns io.EOF only when
// the stream ends cleanly between records.
func ReadRecord(r io.Reader) (engine.Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return engine.Frame{}, io.EOF
		}
		return engine.Frame{}, errors.Wrap(err, "read record length")
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxRecordSize {
		return engine.Frame{}, errors.Wrapf(ErrRecordTooLarge, "%d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return engine.Frame{}, errors.Wrap(err, "read record body")
	}
	return DecodeRecord(body)
}
