package feed

import (
	"time"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/engine"
	"avaneesh/rlc-go/pkg/li"
	"avaneesh/rlc-go/pkg/pdu"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	logger.SetDefault(logger.NewNoOpLogger())
}

func umDesc(ueid uint32) channel.Descriptor {
	return channel.Descriptor{
		Conn:      &channel.ConnAddr{UEID: ueid, Channel: 3},
		Mode:      channel.ModeUnordered,
		Direction: channel.DirectionDownlink,
		LISize:    channel.LI15Bit,
	}
}

func umPDU(sn uint16, lis []uint16, payload string) []byte {
	hdr := pdu.Header{Mode: channel.ModeUnordered, SN: sn, HasLI: len(lis) > 0}
	out := hdr.Serialize()
	out = append(out, li.Encode(lis, li.Width15)...)
	return append(out, payload...)
}

// capture returns three UM frames that reassemble to "ABCDEFGH"
func capture(ueid uint32, firstID uint64, start time.Time) []engine.Frame {
	desc := umDesc(ueid)
	return []engine.Frame{
		{ID: firstID, Time: start, Channel: desc, PDU: umPDU(1, []uint16{li.ValueStartOfSDU}, "ABC")},
		{ID: firstID + 1, Time: start.Add(10 * time.Millisecond), Channel: desc, PDU: umPDU(2, []uint16{li.ValueMiddleOrPiggyback}, "DEF")},
		{ID: firstID + 2, Time: start.Add(20 * time.Millisecond), Channel: desc, PDU: umPDU(3, []uint16{li.ValueEndMinusLastByte}, "GHX")},
	}
}
