package channel

import (
	"fmt"

	"github.com/pkg/errors"

	"avaneesh/rlc-go/pkg/types"
)

// Mode is the delivery mode of a logical channel
type Mode uint8

const (
	ModeUnknown     Mode = iota // Not given by the frame, resolved from the channel table
	ModeTransparent             // TM: no header, every frame is one SDU
	ModeUnordered               // UM: best effort, reassembled in arrival order
	ModeOrdered                 // AM: acknowledged, reassembled in sequence order
)

// String returns string representation of Mode
func (m Mode) String() string {
	switch m {
	case ModeTransparent:
		return "TM"
	case ModeUnordered:
		return "UM"
	case ModeOrdered:
		return "AM"
	default:
		return "Unknown"
	}
}

// HasSequence reports whether frames of this mode carry a sequence number
func (m Mode) HasSequence() bool {
	return m == ModeUnordered || m == ModeOrdered
}

// SequenceModulus returns the size of the sequence number space for the mode
func (m Mode) SequenceModulus() int {
	switch m {
	case ModeUnordered:
		return 128
	case ModeOrdered:
		return 4096
	default:
		return 0
	}
}

// Direction indicates which way a frame travelled
type Direction uint8

const (
	DirectionUplink   Direction = iota // UE to network
	DirectionDownlink                  // Network to UE
)

// String returns string representation of Direction
func (d Direction) String() string {
	if d == DirectionDownlink {
		return "DL"
	}
	return "UL"
}

// LISize selects the width of the length indicators of a channel
type LISize uint8

const (
	LIVariable LISize = iota // Chosen per frame from the PDU size
	LI7Bit
	LI15Bit
)

// ConnAddr is the connection-addressed scheme (user identity + channel)
type ConnAddr struct {
	UEID    uint32 // User equipment identity
	Channel uint16 // Logical channel number
}

// LinkAddr is the link-addressed scheme (ATM/AAL2 style path + channel)
type LinkAddr struct {
	VPI     uint16 // Virtual path identifier
	VCI     uint16 // Virtual channel identifier
	CID     uint8  // AAL2 connection identifier
	Link    uint8  // Link number
	Channel uint16 // Logical channel number
}

// Descriptor is the per-frame channel metadata supplied by the frame source.
// Exactly one of Conn and Link must be set.
type Descriptor struct {
	Conn      *ConnAddr
	Link      *LinkAddr
	Mode      Mode
	Direction Direction
	LISize    LISize
}

// ChannelNumber returns the logical channel number of whichever scheme is set
func (d Descriptor) ChannelNumber() (uint16, bool) {
	switch {
	case d.Conn != nil:
		return d.Conn.Channel, true
	case d.Link != nil:
		return d.Link.Channel, true
	default:
		return 0, false
	}
}

// scheme discriminates the two addressing schemes inside a Key
type scheme uint8

const (
	schemeNone scheme = iota
	schemeConn
	schemeLink
)

// Key identifies one logical channel for the lifetime of a capture.
// Keys are comparable and are used directly as map keys; a
// connection-addressed key never equals a link-addressed one because the
// scheme is part of the value.
type Key struct {
	scheme    scheme
	ueid      uint32
	vpi       uint16
	vci       uint16
	cid       uint8
	link      uint8
	channel   uint16
	mode      Mode
	direction Direction
}

// ConnKey builds a connection-addressed key
func ConnKey(ueid uint32, ch uint16, mode Mode, dir Direction) Key {
	return Key{scheme: schemeConn, ueid: ueid, channel: ch, mode: mode, direction: dir}
}

// LinkKey builds a link-addressed key
func LinkKey(addr LinkAddr, mode Mode, dir Direction) Key {
	return Key{
		scheme:    schemeLink,
		vpi:       addr.VPI,
		vci:       addr.VCI,
		cid:       addr.CID,
		link:      addr.Link,
		channel:   addr.Channel,
		mode:      mode,
		direction: dir,
	}
}

// Valid reports whether the key was produced by a successful resolution
func (k Key) Valid() bool { return k.scheme != schemeNone }

// Mode returns the delivery mode of the channel
func (k Key) Mode() Mode { return k.mode }

// Direction returns the direction of the channel
func (k Key) Direction() Direction { return k.direction }

// Channel returns the logical channel number
func (k Key) Channel() uint16 { return k.channel }

// WithDirection returns the key of the same channel in direction d
func (k Key) WithDirection(d Direction) Key {
	k.direction = d
	return k
}

// String returns string representation of Key
func (k Key) String() string {
	switch k.scheme {
	case schemeConn:
		return fmt.Sprintf("ue=%d ch=%d %s %s", k.ueid, k.channel, k.mode, k.direction)
	case schemeLink:
		return fmt.Sprintf("vp=%d vc=%d cid=%d link=%d ch=%d %s %s",
			k.vpi, k.vci, k.cid, k.link, k.channel, k.mode, k.direction)
	default:
		return "invalid"
	}
}

// Resolver derives channel keys from descriptors, filling in the delivery
// mode and LI size from an immutable channel table when the frame does not
// carry them.
type Resolver struct {
	table *Table
}

// NewResolver creates a resolver backed by table (nil means no table)
func NewResolver(table *Table) *Resolver {
	if table == nil {
		table = NewTable(nil)
	}
	return &Resolver{table: table}
}

// Table returns the resolver's channel table
func (r *Resolver) Table() *Table {
	return r.table
}

// ModeOf returns the effective delivery mode of a descriptor
func (r *Resolver) ModeOf(d Descriptor) Mode {
	if d.Mode != ModeUnknown {
		return d.Mode
	}
	if ch, ok := d.ChannelNumber(); ok {
		if info, found := r.table.Lookup(ch); found {
			return info.Mode
		}
	}
	return ModeUnknown
}

// LISizeOf returns the effective LI size of a descriptor
func (r *Resolver) LISizeOf(d Descriptor) LISize {
	if d.LISize != LIVariable {
		return d.LISize
	}
	if ch, ok := d.ChannelNumber(); ok {
		if info, found := r.table.Lookup(ch); found {
			return info.LISize
		}
	}
	return LIVariable
}

// Resolve derives the channel key of a frame
func (r *Resolver) Resolve(d Descriptor) (Key, error) {
	if d.Conn != nil && d.Link != nil {
		return Key{}, errors.Wrap(types.ErrMissingAddressing, "both addressing schemes present")
	}

	mode := r.ModeOf(d)
	if mode == ModeUnknown {
		return Key{}, errors.Wrap(types.ErrMissingAddressing, "delivery mode unknown")
	}

	switch {
	case d.Conn != nil:
		return ConnKey(d.Conn.UEID, d.Conn.Channel, mode, d.Direction), nil
	case d.Link != nil:
		return LinkKey(*d.Link, mode, d.Direction), nil
	default:
		return Key{}, types.ErrMissingAddressing
	}
}
