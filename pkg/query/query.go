// Package query serves a read-only HTTP view of an engine's results:
// counters, per-frame provenance and completed SDUs.
package query

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/engine"
	"avaneesh/rlc-go/pkg/reassembly"
)

// View is the part of the engine the API reads; *engine.Engine implements it
type View interface {
	ID() uuid.UUID
	Stats() engine.Snapshot
	Frame(id uint64) (*engine.Result, bool)
	FrameIDs() []uint64
	SDUs() []*reassembly.SDU
	Fragment(h reassembly.Handle) (reassembly.Fragment, bool)
}

// StatsResponse is the body of GET /stats
type StatsResponse struct {
	Capture string          `json:"capture"`
	Stats   engine.Snapshot `json:"stats"`
}

// FragmentResponse describes one fragment a frame contributed
type FragmentResponse struct {
	Handle        string `json:"handle"`
	Index         int    `json:"index"`
	Length        int    `json:"length"`
	Start         bool   `json:"start"`
	Terminal      bool   `json:"terminal"`
	Discarded     bool   `json:"discarded,omitempty"`
	ReassembledIn int    `json:"reassembled_in,omitempty"` // SDU ID
}

// FrameResponse is the body of GET /frames/{id}
type FrameResponse struct {
	ID        uint64             `json:"id"`
	Channel   string             `json:"channel"`
	Sequence  int64              `json:"sequence"`
	Outcome   string             `json:"outcome"`
	Original  uint64             `json:"duplicate_of,omitempty"`
	Control   string             `json:"control,omitempty"`
	SDUs      []int              `json:"sdus,omitempty"`
	Fragments []FragmentResponse `json:"fragments,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// SDUResponse is one element of GET /sdus
type SDUResponse struct {
	ID       int      `json:"id"`
	Channel  string   `json:"channel"`
	Sequence int64    `json:"sequence"`
	Length   int      `json:"length"`
	Complete bool     `json:"complete"`
	Frames   []uint64 `json:"frames"`
	Data     []byte   `json:"data"`
	Warnings []string `json:"warnings,omitempty"`
}

// Handler returns the API handler wrapped with access logging and
// compression
func Handler(view View, log logger.Logger) http.Handler {
	log = logger.OrDefault(log)
	s := &server{view: view, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /frames", s.frames)
	mux.HandleFunc("GET /frames/{id}", s.frame)
	mux.HandleFunc("GET /sdus", s.sdus)

	access := func(_ io.Writer, p handlers.LogFormatterParams) {
		host, _, err := net.SplitHostPort(p.Request.RemoteAddr)
		if err != nil {
			host = p.Request.RemoteAddr
		}
		log.Debug("%s %s %s %d %d", host, p.Request.Method, p.URL.RequestURI(), p.StatusCode, p.Size)
	}
	return handlers.CompressHandler(handlers.CustomLoggingHandler(io.Discard, mux, access))
}

// NewServer creates an HTTP server for the API on addr
func NewServer(addr string, view View, log logger.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(view, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type server struct {
	view View
	log  logger.Logger
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StatsResponse{
		Capture: s.view.ID().String(),
		Stats:   s.view.Stats(),
	})
}

func (s *server) frames(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.view.FrameIDs())
}

func (s *server) frame(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad frame id", http.StatusBadRequest)
		return
	}

	res, ok := s.view.Frame(id)
	if !ok {
		http.Error(w, "frame not found", http.StatusNotFound)
		return
	}

	resp := FrameResponse{
		ID:       res.FrameID,
		Channel:  res.Key.String(),
		Sequence: res.Sequence,
		Outcome:  res.Outcome.String(),
		Original: res.Original,
	}
	if res.Control != nil {
		resp.Control = res.Control.Type.String()
	}
	for _, sdu := range res.SDUs {
		resp.SDUs = append(resp.SDUs, sdu.ID)
	}
	for _, h := range res.Fragments {
		f, ok := s.view.Fragment(h)
		if !ok {
			continue
		}
		fr := FragmentResponse{
			Handle:    h.String(),
			Index:     f.Index,
			Length:    f.Length,
			Start:     f.Flags.Start,
			Terminal:  f.Flags.Terminal,
			Discarded: f.Discarded,
		}
		if f.SDU != nil {
			fr.ReassembledIn = f.SDU.ID
		}
		resp.Fragments = append(resp.Fragments, fr)
	}
	for _, warn := range res.Warnings {
		resp.Warnings = append(resp.Warnings, warn.String())
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) sdus(w http.ResponseWriter, r *http.Request) {
	sdus := s.view.SDUs()
	out := make([]SDUResponse, 0, len(sdus))
	for _, sdu := range sdus {
		resp := SDUResponse{
			ID:       sdu.ID,
			Channel:  sdu.Key.String(),
			Sequence: sdu.Seq,
			Length:   sdu.Len(),
			Complete: sdu.Complete,
			Frames:   sdu.Frames,
			Data:     sdu.Data,
		}
		for _, warn := range sdu.Warnings {
			resp.Warnings = append(resp.Warnings, warn.String())
		}
		out = append(out, resp)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response: %v", err)
	}
}
