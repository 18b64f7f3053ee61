package channel

// ContentType names what the SDUs of a logical channel carry
type ContentType uint8

const (
	ContentUnknown ContentType = iota
	ContentBCCH
	ContentPCCH
	ContentCCCH
	ContentDCCH
	ContentPSData
	ContentCTCH
)

// String returns string representation of ContentType
func (c ContentType) String() string {
	switch c {
	case ContentBCCH:
		return "BCCH"
	case ContentPCCH:
		return "PCCH"
	case ContentCCCH:
		return "CCCH"
	case ContentDCCH:
		return "DCCH"
	case ContentPSData:
		return "PS-DATA"
	case ContentCTCH:
		return "CTCH"
	default:
		return "Unknown"
	}
}

// ParseContentType maps a configuration name onto a ContentType
func ParseContentType(s string) ContentType {
	for c := ContentBCCH; c <= ContentCTCH; c++ {
		if c.String() == s {
			return c
		}
	}
	return ContentUnknown
}

// ParseMode maps a configuration name ("TM", "UM", "AM") onto a Mode
func ParseMode(s string) Mode {
	for m := ModeTransparent; m <= ModeOrdered; m++ {
		if m.String() == s {
			return m
		}
	}
	return ModeUnknown
}

// Info is the static configuration of one logical channel number
type Info struct {
	Channel uint16
	Content ContentType
	Mode    Mode
	LISize  LISize
}

// Table is an immutable map from logical channel number to its static
// configuration. It is built once per capture and never mutated.
type Table struct {
	entries map[uint16]Info
}

// NewTable builds a table; later entries override earlier ones for the same channel
func NewTable(infos []Info) *Table {
	t := &Table{entries: make(map[uint16]Info, len(infos))}
	for _, info := range infos {
		t.entries[info.Channel] = info
	}
	return t
}

// Lookup returns the configuration of a channel number
func (t *Table) Lookup(ch uint16) (Info, bool) {
	info, ok := t.entries[ch]
	return info, ok
}

// ContentOf returns the content type of a key's channel
func (t *Table) ContentOf(k Key) ContentType {
	if info, ok := t.entries[k.Channel()]; ok {
		return info.Content
	}
	return ContentUnknown
}

// Len returns the number of configured channels
func (t *Table) Len() int {
	return len(t.entries)
}
