package engine

import (
	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/li"
	"avaneesh/rlc-go/pkg/pdu"
	"avaneesh/rlc-go/pkg/reassembly"
	"avaneesh/rlc-go/pkg/status"
	"avaneesh/rlc-go/pkg/types"
)

// walker splits one data PDU into segments following its LI list and feeds
// them to the reassembler, or into Result.Segments when reassembly is off.
// Every segment and every close gets the next segment index of the frame.
type walker struct {
	engine  *Engine
	res     *Result
	key     channel.Key
	frameID uint64
	seq     int64
	idx     int
}

func (w *walker) walk(hdr pdu.Header, payload []byte) error {
	off := 0
	start := false // The next segment begins an SDU
	done := false  // The rest of the payload is accounted for

	var entries []li.Entry
	if w.res.LI != nil {
		entries = w.res.LI.Entries
	}

	for _, e := range entries {
		switch e.Kind {
		case li.KindData:
			end := e.Offset
			if end > len(payload) {
				// Truncated capture; only headers-only decoding lets this through
				w.res.Warnings = append(w.res.Warnings,
					types.NewWarning(types.WarnLengthMismatch, "LI %d beyond %d captured octets", end, len(payload)))
				end = len(payload)
			}
			w.add(payload[off:end], start, true)
			off = end
			start = true

		case li.KindPreviousEnded, li.KindStartOfSDU:
			w.close(0)
			start = true

		case li.KindPreviousEndedShort:
			w.close(1)
			start = true

		case li.KindExactlyOneSDU:
			w.close(0)
			w.add(payload[off:], true, true)
			off = len(payload)
			done = true

		case li.KindEndOfSDUMinusLastByte:
			if len(payload)-off < 1 {
				w.res.Warnings = append(w.res.Warnings,
					types.NewWarning(types.WarnLengthMismatch, "no octet to drop after offset %d", off))
				w.add(nil, start, true)
			} else {
				w.add(payload[off:len(payload)-1], start, true)
			}
			off = len(payload)
			done = true

		case li.KindMiddleSegment:
			// The whole payload continues the in-flight SDU

		case li.KindPiggybackStatus:
			c, err := status.ParseControl(payload[off:])
			w.res.Control = c
			if err != nil {
				return err
			}
			off = len(payload)
			done = true

		case li.KindPadding:
			done = true
		}
	}

	if done || off >= len(payload) {
		if !done && hdr.EndsSDU {
			w.close(0)
		}
		return nil
	}

	w.add(payload[off:], start, hdr.EndsSDU)
	return nil
}

// add contributes data as the frame's next segment
func (w *walker) add(data []byte, start, terminal bool) {
	idx := w.idx
	w.idx++

	if !w.engine.config.ReassemblyEnabled {
		buf := make([]byte, len(data))
		copy(buf, data)
		w.res.Segments = append(w.res.Segments, Segment{Index: idx, Data: buf, Start: start, Terminal: terminal})
		return
	}

	h, sdu, warnings := w.engine.reasm.AddFragment(w.key, w.frameID, w.seq, idx, data,
		reassembly.Flags{Start: start, Terminal: terminal})
	w.res.Fragments = append(w.res.Fragments, h)
	w.res.Warnings = append(w.res.Warnings, warnings...)
	if sdu != nil {
		w.res.SDUs = append(w.res.SDUs, sdu)
	}
}

// close completes the channel's in-flight SDU, if any, trimming trim octets
func (w *walker) close(trim int) {
	idx := w.idx
	w.idx++

	if !w.engine.config.ReassemblyEnabled {
		return
	}
	if sdu := w.engine.reasm.Finalize(w.key, w.frameID, w.seq, idx, trim); sdu != nil {
		w.res.SDUs = append(w.res.SDUs, sdu)
	}
}
