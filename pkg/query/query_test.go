package query

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/engine"
	"avaneesh/rlc-go/pkg/li"
	"avaneesh/rlc-go/pkg/pdu"
)

func init() {
	logger.SetDefault(logger.NewNoOpLogger())
}

func umPDU(sn uint16, lis []uint16, payload string) []byte {
	hdr := pdu.Header{Mode: channel.ModeUnordered, SN: sn, HasLI: len(lis) > 0}
	out := hdr.Serialize()
	out = append(out, li.Encode(lis, li.Width15)...)
	return append(out, payload...)
}

func newView(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	desc := channel.Descriptor{
		Conn:      &channel.ConnAddr{UEID: 42, Channel: 3},
		Mode:      channel.ModeUnordered,
		Direction: channel.DirectionDownlink,
		LISize:    channel.LI15Bit,
	}
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	frames := []engine.Frame{
		{ID: 1, Time: t0, Channel: desc, PDU: umPDU(1, []uint16{li.ValueStartOfSDU}, "ABC")},
		{ID: 2, Time: t0.Add(10 * time.Millisecond), Channel: desc, PDU: umPDU(2, []uint16{li.ValueMiddleOrPiggyback}, "DEF")},
		{ID: 3, Time: t0.Add(20 * time.Millisecond), Channel: desc, PDU: umPDU(3, []uint16{li.ValueEndMinusLastByte}, "GHX")},
	}
	for _, f := range frames {
		_, err := e.Process(f)
		require.NoError(t, err)
	}
	return e
}

func get(t *testing.T, h http.Handler, path string, v interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK && v != nil {
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}
	return rec.Code
}

func TestStats(t *testing.T) {
	e := newView(t)
	h := Handler(e, nil)

	var resp StatsResponse
	require.Equal(t, http.StatusOK, get(t, h, "/stats", &resp))
	require.Equal(t, e.ID().String(), resp.Capture)
	require.Equal(t, uint64(3), resp.Stats.Frames)
	require.Equal(t, uint64(1), resp.Stats.SDUs)
}

func TestFrames(t *testing.T) {
	h := Handler(newView(t), nil)

	var ids []uint64
	require.Equal(t, http.StatusOK, get(t, h, "/frames", &ids))
	require.Equal(t, []uint64{1, 2, 3}, ids)

	var first FrameResponse
	require.Equal(t, http.StatusOK, get(t, h, "/frames/1", &first))
	require.Equal(t, "Incomplete", first.Outcome)
	require.Len(t, first.Fragments, 1)
	require.True(t, first.Fragments[0].Start)
	require.Equal(t, 3, first.Fragments[0].Length)
	require.Equal(t, 1, first.Fragments[0].ReassembledIn)

	var last FrameResponse
	require.Equal(t, http.StatusOK, get(t, h, "/frames/3", &last))
	require.Equal(t, "Completed", last.Outcome)
	require.Equal(t, []int{1}, last.SDUs)

	require.Equal(t, http.StatusNotFound, get(t, h, "/frames/99", nil))
	require.Equal(t, http.StatusBadRequest, get(t, h, "/frames/x", nil))
}

func TestSDUs(t *testing.T) {
	h := Handler(newView(t), nil)

	var sdus []SDUResponse
	require.Equal(t, http.StatusOK, get(t, h, "/sdus", &sdus))
	require.Len(t, sdus, 1)
	require.Equal(t, "ABCDEFGH", string(sdus[0].Data))
	require.Equal(t, []uint64{1, 2, 3}, sdus[0].Frames)
	require.True(t, sdus[0].Complete)
}

func TestCompressed(t *testing.T) {
	h := Handler(newView(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/sdus", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var sdus []SDUResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&sdus))
	require.Len(t, sdus, 1)
}

func TestMethodNotAllowed(t *testing.T) {
	h := Handler(newView(t), nil)
	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type failingWriter struct {
	header http.Header
}

func (w *failingWriter) Header() http.Header       { return w.header }
func (w *failingWriter) WriteHeader(int)           {}
func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	s := &server{view: newView(t), log: logger.NewWriterLogger(&buf, logger.LevelDebug)}

	s.stats(&failingWriter{header: http.Header{}}, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Contains(t, buf.String(), "write response: connection reset")
}
