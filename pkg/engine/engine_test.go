package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/li"
	"avaneesh/rlc-go/pkg/pdu"
	"avaneesh/rlc-go/pkg/status"
	"avaneesh/rlc-go/pkg/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	logger.SetDefault(logger.NewNoOpLogger())
}

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func umDesc(size channel.LISize) channel.Descriptor {
	return channel.Descriptor{
		Conn:      &channel.ConnAddr{UEID: 42, Channel: 3},
		Mode:      channel.ModeUnordered,
		Direction: channel.DirectionDownlink,
		LISize:    size,
	}
}

func amDesc(dir channel.Direction) channel.Descriptor {
	return channel.Descriptor{
		Conn:      &channel.ConnAddr{UEID: 42, Channel: 5},
		Mode:      channel.ModeOrdered,
		Direction: dir,
	}
}

// umPDU builds a UM data PDU
func umPDU(sn uint16, lis []uint16, width li.Width, payload string) []byte {
	hdr := pdu.Header{Mode: channel.ModeUnordered, SN: sn, HasLI: len(lis) > 0}
	out := hdr.Serialize()
	out = append(out, li.Encode(lis, width)...)
	return append(out, payload...)
}

// amPDU builds an AM data PDU; lis requires he == pdu.HELengthInd
func amPDU(sn uint16, he uint8, lis []uint16, payload string) []byte {
	hdr := pdu.Header{Mode: channel.ModeOrdered, SN: sn, HE: he}
	out := hdr.Serialize()
	out = append(out, li.Encode(lis, li.Width7)...)
	return append(out, payload...)
}

func frame(id uint64, at time.Time, desc channel.Descriptor, data []byte) Frame {
	return Frame{ID: id, Time: at, Channel: desc, PDU: data}
}

func unorderedCapture() []Frame {
	desc := umDesc(channel.LI15Bit)
	return []Frame{
		frame(1, t0, desc, umPDU(1, []uint16{li.ValueStartOfSDU}, li.Width15, "ABC")),
		frame(2, t0.Add(10*time.Millisecond), desc, umPDU(2, []uint16{li.ValueMiddleOrPiggyback}, li.Width15, "DEF")),
		frame(3, t0.Add(20*time.Millisecond), desc, umPDU(3, []uint16{li.ValueEndMinusLastByte}, li.Width15, "GHX")),
	}
}

func TestUnorderedReassembly(t *testing.T) {
	e := newTestEngine(t, nil)

	var last *Result
	for _, f := range unorderedCapture() {
		res, err := e.Process(f)
		require.NoError(t, err)
		last = res
	}

	require.Equal(t, OutcomeCompleted, last.Outcome)
	require.Len(t, last.SDUs, 1)
	sdu := last.SDUs[0]
	require.Equal(t, []byte("ABCDEFGH"), sdu.Data)
	require.Len(t, sdu.Fragments, 3)
	require.Equal(t, []uint64{1, 2, 3}, sdu.Frames)
	require.True(t, sdu.Complete)

	first, ok := e.Frame(1)
	require.True(t, ok)
	require.Equal(t, OutcomeIncomplete, first.Outcome)
	require.Len(t, first.Fragments, 1)

	frag, ok := e.Fragment(first.Fragments[0])
	require.True(t, ok)
	require.Same(t, sdu, frag.SDU)
}

func TestReprocessingIsIdempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	capture := unorderedCapture()

	var firstPass [][]byte
	for _, f := range capture {
		res, err := e.Process(f)
		require.NoError(t, err)
		for _, sdu := range res.SDUs {
			firstPass = append(firstPass, sdu.Data)
		}
	}
	key, err := e.resolver.Resolve(capture[0].Channel)
	require.NoError(t, err)
	history := e.dedup.Len(key)
	fragments := e.reasm.Fragments()

	var secondPass [][]byte
	for _, f := range capture {
		res, err := e.Process(f)
		require.NoError(t, err)
		for _, sdu := range res.SDUs {
			secondPass = append(secondPass, sdu.Data)
		}
	}

	require.Equal(t, firstPass, secondPass)
	require.Equal(t, history, e.dedup.Len(key))
	require.Equal(t, fragments, e.reasm.Fragments())
	require.Len(t, e.SDUs(), 1)

	stats := e.Stats()
	require.Equal(t, uint64(3), stats.Frames)
	require.Equal(t, uint64(3), stats.Revisits)
	require.Equal(t, uint64(1), stats.SDUs)
	require.Equal(t, uint64(3), stats.Fragments)
}

func TestOrderedOutOfOrderArrival(t *testing.T) {
	e := newTestEngine(t, nil)
	desc := amDesc(channel.DirectionDownlink)

	res, err := e.Process(frame(1, t0, desc, amPDU(10, pdu.HEData, nil, "B")))
	require.NoError(t, err)
	require.Equal(t, OutcomeIncomplete, res.Outcome)
	require.True(t, types.HasWarning(res.Warnings, types.WarnOrphanFragment))

	res, err = e.Process(frame(2, t0.Add(time.Millisecond), desc, amPDU(9, pdu.HELengthInd, []uint16{li.ValuePreviousEnded}, "A")))
	require.NoError(t, err)
	require.Empty(t, res.SDUs)

	res, err = e.Process(frame(3, t0.Add(2*time.Millisecond), desc, amPDU(11, pdu.HEDataLastSDU, nil, "C")))
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.Len(t, res.SDUs, 1)
	require.Equal(t, []byte("ABC"), res.SDUs[0].Data)
	require.Equal(t, []uint64{2, 1, 3}, res.SDUs[0].Frames)
	require.True(t, res.SDUs[0].Complete)
	require.Equal(t, int64(11), res.Sequence)
}

func TestDuplicateDetection(t *testing.T) {
	tests := []struct {
		name    string
		delay   time.Duration
		wantDup bool
	}{
		{"within window", time.Second, true},
		{"window exceeded", 10 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, nil)
			desc := amDesc(channel.DirectionUplink)

			_, err := e.Process(frame(1, t0, desc, amPDU(5, pdu.HEData, nil, "x")))
			require.NoError(t, err)

			res, err := e.Process(frame(2, t0.Add(tt.delay), desc, amPDU(5, pdu.HEData, nil, "x")))
			require.NoError(t, err)
			if tt.wantDup {
				require.Equal(t, OutcomeDuplicate, res.Outcome)
				require.Equal(t, uint64(1), res.Original)
				require.Empty(t, res.Fragments)
				require.Equal(t, uint64(1), e.Stats().Duplicates)
			} else {
				require.NotEqual(t, OutcomeDuplicate, res.Outcome)
				require.Len(t, res.Fragments, 1)
			}
		})
	}
}

func TestLIOffsetBelowPrevious(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Process(frame(1, t0, umDesc(channel.LIVariable), umPDU(0, []uint16{5, 3}, li.Width7, "abcdefgh")))
	require.Error(t, err)
	require.True(t, types.IsMalformed(err))
	require.Equal(t, OutcomeMalformed, res.Outcome)
	require.Empty(t, res.Fragments)
	require.Equal(t, uint64(1), e.Stats().Malformed)
}

func TestReservedCodeByMode(t *testing.T) {
	e := newTestEngine(t, nil)

	um := umDesc(channel.LI15Bit)
	_, err := e.Process(frame(1, t0, um, umPDU(0, []uint16{li.ValueEndMinusLastByte}, li.Width15, "ab")))
	require.NoError(t, err)

	am := amDesc(channel.DirectionDownlink)
	am.LISize = channel.LI15Bit
	hdr := pdu.Header{Mode: channel.ModeOrdered, SN: 0, HE: pdu.HELengthInd}
	data := append(hdr.Serialize(), li.Encode([]uint16{li.ValueEndMinusLastByte}, li.Width15)...)
	data = append(data, "ab"...)

	res, err := e.Process(frame(2, t0, am, data))
	require.True(t, types.IsMalformed(err))
	require.Equal(t, OutcomeMalformed, res.Outcome)
}

func TestPreviousEndedShortTrims(t *testing.T) {
	e := newTestEngine(t, nil)
	desc := umDesc(channel.LI15Bit)

	_, err := e.Process(frame(1, t0, desc, umPDU(1, []uint16{li.ValueStartOfSDU}, li.Width15, "hello!")))
	require.NoError(t, err)

	res, err := e.Process(frame(2, t0, desc, umPDU(2, []uint16{li.ValuePreviousEndedShort}, li.Width15, "xyz")))
	require.NoError(t, err)
	require.Len(t, res.SDUs, 1)
	require.Equal(t, []byte("hello"), res.SDUs[0].Data)
	require.Len(t, res.Fragments, 1)
}

func TestExactlyOneSDU(t *testing.T) {
	e := newTestEngine(t, nil)
	desc := umDesc(channel.LIVariable)

	_, err := e.Process(frame(1, t0, desc, umPDU(1, []uint16{li.ValueStartOfSDU}, li.Width7, "first")))
	require.NoError(t, err)

	res, err := e.Process(frame(2, t0, desc, umPDU(2, []uint16{li.ValueExactlyOneSDU}, li.Width7, "second")))
	require.NoError(t, err)
	require.Len(t, res.SDUs, 2)
	require.Equal(t, []byte("first"), res.SDUs[0].Data)
	require.Equal(t, []byte("second"), res.SDUs[1].Data)
	require.True(t, res.SDUs[1].Complete)
}

func TestSeveralSDUsInOneFrame(t *testing.T) {
	e := newTestEngine(t, nil)
	desc := umDesc(channel.LIVariable)

	_, err := e.Process(frame(1, t0, desc, umPDU(1, []uint16{li.ValueStartOfSDU}, li.Width7, "ab")))
	require.NoError(t, err)

	// "cd" ends the first SDU, "ef" is a whole SDU, "gh" starts the third
	res, err := e.Process(frame(2, t0, desc, umPDU(2, []uint16{2, 4}, li.Width7, "cdefgh")))
	require.NoError(t, err)
	require.Len(t, res.SDUs, 2)
	require.Equal(t, []byte("abcd"), res.SDUs[0].Data)
	require.Equal(t, []byte("ef"), res.SDUs[1].Data)
	require.Len(t, res.Fragments, 3)

	res, err = e.Process(frame(3, t0, desc, umPDU(3, []uint16{li.ValuePadding}, li.Width7, "\x00\x00")))
	require.NoError(t, err)
	require.Empty(t, res.SDUs)
	require.Empty(t, res.Fragments)

	res, err = e.Process(frame(4, t0, desc, umPDU(4, []uint16{1, li.ValuePadding}, li.Width7, "i\x00")))
	require.NoError(t, err)
	require.Len(t, res.SDUs, 1)
	require.Equal(t, []byte("ghi"), res.SDUs[0].Data)
}

func TestSequenceWraps(t *testing.T) {
	e := newTestEngine(t, nil)
	desc := umDesc(channel.LIVariable)

	res, err := e.Process(frame(1, t0, desc, umPDU(127, []uint16{li.ValueStartOfSDU}, li.Width7, "a")))
	require.NoError(t, err)
	require.Equal(t, int64(127), res.Sequence)

	res, err = e.Process(frame(2, t0, desc, umPDU(0, []uint16{1}, li.Width7, "b")))
	require.NoError(t, err)
	require.Equal(t, int64(128), res.Sequence)
	require.Equal(t, []byte("ab"), res.SDUs[0].Data)
	require.Empty(t, res.SDUs[0].Warnings)
}

func TestPiggybackStatus(t *testing.T) {
	e := newTestEngine(t, nil)
	desc := amDesc(channel.DirectionUplink)

	piggy := status.EncodeStatusPDU([]status.Record{status.Ack{LastSN: 3}})
	data := amPDU(0, pdu.HELengthInd, []uint16{2, li.ValueMiddleOrPiggyback}, "ab"+string(piggy))

	res, err := e.Process(frame(1, t0, desc, data))
	require.NoError(t, err)
	require.Len(t, res.SDUs, 1)
	require.Equal(t, []byte("ab"), res.SDUs[0].Data)
	require.NotNil(t, res.Control)
	require.Equal(t, []status.Record{status.Ack{LastSN: 3}}, res.Control.Status.Records)
}

func TestControlFrames(t *testing.T) {
	e := newTestEngine(t, nil)
	dl := amDesc(channel.DirectionDownlink)
	ul := amDesc(channel.DirectionUplink)

	records := []status.Record{
		status.List{Pairs: []status.ListPair{{SN: 100, Length: 0}, {SN: 105, Length: 2}}},
		status.NoMore{},
	}
	res, err := e.Process(frame(1, t0, ul, status.EncodeStatusPDU(records)))
	require.NoError(t, err)
	require.Equal(t, OutcomeControl, res.Outcome)
	require.Equal(t, pdu.ControlStatus, res.Control.Type)
	require.Equal(t, records, res.Control.Status.Records)

	_, err = e.Process(frame(2, t0, dl, amPDU(7, pdu.HEData, nil, "partial")))
	require.NoError(t, err)
	key, _ := e.resolver.Resolve(dl)
	require.True(t, e.reasm.State(key).Accumulating)

	res, err = e.Process(frame(3, t0, ul, status.EncodeReset(false, 0, 1)))
	require.NoError(t, err)
	require.Equal(t, pdu.ControlReset, res.Control.Type)
	require.False(t, e.reasm.State(key).Accumulating)

	// SNs restart above the previous epoch
	res, err = e.Process(frame(4, t0, dl, amPDU(0, pdu.HEData, nil, "new")))
	require.NoError(t, err)
	require.Equal(t, int64(4096), res.Sequence)
	require.Empty(t, res.Warnings)

	stats := e.Stats()
	require.Equal(t, uint64(2), stats.ControlFrames)
	require.Equal(t, uint64(1), stats.Resets)

	_, err = e.Process(frame(5, t0, ul, []byte{0x30, 0x00}))
	require.True(t, types.IsMalformed(err))
}

func TestMissingAddressing(t *testing.T) {
	e := newTestEngine(t, nil)

	desc := channel.Descriptor{Mode: channel.ModeUnordered}
	res, err := e.Process(frame(1, t0, desc, umPDU(1, nil, li.Width7, "x")))
	require.ErrorIs(t, err, types.ErrMissingAddressing)
	require.Equal(t, OutcomeDropped, res.Outcome)

	// Control PDUs are still decoded
	desc = channel.Descriptor{Mode: channel.ModeOrdered}
	res, err = e.Process(frame(2, t0, desc, status.EncodeStatusPDU([]status.Record{status.Ack{LastSN: 1}})))
	require.ErrorIs(t, err, types.ErrMissingAddressing)
	require.Equal(t, OutcomeControl, res.Outcome)
	require.NotNil(t, res.Control)

	require.Equal(t, uint64(2), e.Stats().MissingAddressing)
}

func TestReassemblyDisabled(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.ReassemblyEnabled = false })

	res, err := e.Process(frame(1, t0, umDesc(channel.LIVariable), umPDU(1, []uint16{2}, li.Width7, "abcd")))
	require.NoError(t, err)
	require.Equal(t, OutcomeUnreassembled, res.Outcome)
	require.Empty(t, res.SDUs)
	require.Equal(t, []Segment{
		{Index: 0, Data: []byte("ab"), Terminal: true},
		{Index: 1, Data: []byte("cd"), Start: true},
	}, res.Segments)
	require.Empty(t, e.SDUs())
}

func TestTransparentMode(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.Channels = []ChannelConfig{{Channel: 1, Content: "BCCH", Mode: "TM"}}
	})
	desc := channel.Descriptor{Link: &channel.LinkAddr{VPI: 1, VCI: 2, CID: 3, Channel: 1}}

	for id := uint64(1); id <= 2; id++ {
		res, err := e.Process(frame(id, t0, desc, []byte{0xDE, 0xAD}))
		require.NoError(t, err)
		require.Equal(t, OutcomeCompleted, res.Outcome)
		require.Equal(t, []byte{0xDE, 0xAD}, res.SDUs[0].Data)
		require.Equal(t, channel.ContentBCCH, e.ContentOf(res.Key))
	}
	require.Len(t, e.SDUs(), 2)
}

func TestHeadersOnly(t *testing.T) {
	data := umPDU(1, []uint16{5}, li.Width7, "")

	e := newTestEngine(t, func(c *Config) { c.AssumeHeadersOnly = true })
	res, err := e.Process(frame(1, t0, umDesc(channel.LIVariable), data))
	require.NoError(t, err)
	require.True(t, types.HasWarning(res.Warnings, types.WarnHeaderOnly))
	require.False(t, types.HasWarning(res.Warnings, types.WarnOrphanFragment))
	require.Empty(t, res.Fragments)

	strict := newTestEngine(t, nil)
	_, err = strict.Process(frame(1, t0, umDesc(channel.LIVariable), data))
	require.True(t, types.IsMalformed(err))
}

func TestHeadersOnlyTruncatedPayload(t *testing.T) {
	data := umPDU(1, []uint16{5}, li.Width7, "ab")

	tests := []struct {
		name string
		pdu  []byte
	}{
		{"exact capacity", data[:len(data):len(data)]},
		{"spare capacity", append(append([]byte(nil), data...), "XYZ"...)[:len(data)]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, func(c *Config) { c.AssumeHeadersOnly = true })
			res, err := e.Process(frame(1, t0, umDesc(channel.LIVariable), tt.pdu))
			require.NoError(t, err)
			require.True(t, types.HasWarning(res.Warnings, types.WarnLengthMismatch))
			require.Len(t, res.SDUs, 1)
			require.Equal(t, "ab", string(res.SDUs[0].Data))
		})
	}
}

func TestResetAfterBackwardStep(t *testing.T) {
	e := newTestEngine(t, nil)
	dl := amDesc(channel.DirectionDownlink)
	ul := amDesc(channel.DirectionUplink)

	res, err := e.Process(frame(1, t0, dl, amPDU(2, pdu.HEData, nil, "a")))
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Sequence)

	res, err = e.Process(frame(2, t0, dl, amPDU(4094, pdu.HEData, nil, "b")))
	require.NoError(t, err)
	require.Equal(t, int64(-2), res.Sequence)

	_, err = e.Process(frame(3, t0, ul, status.EncodeReset(false, 0, 1)))
	require.NoError(t, err)

	res, err = e.Process(frame(4, t0, dl, amPDU(2, pdu.HEData, nil, "c")))
	require.NoError(t, err)
	require.NotEqual(t, OutcomeDuplicate, res.Outcome)
	require.Equal(t, int64(4098), res.Sequence)
}

func TestProcessAfterClose(t *testing.T) {
	e := newTestEngine(t, nil)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Process(unorderedCapture()[0])
	require.ErrorIs(t, err, ErrClosed)
}

func TestFrameIDs(t *testing.T) {
	e := newTestEngine(t, nil)
	capture := unorderedCapture()
	for i := len(capture) - 1; i >= 0; i-- {
		_, err := e.Process(capture[i])
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{1, 2, 3}, e.FrameIDs())
	require.NotEqual(t, e.ID().String(), "")
}
