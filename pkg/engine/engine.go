// Package engine reconstructs RLC SDUs from a capture. Frames are fed one at
// a time through Process; the engine resolves the channel, drops
// retransmissions, decodes the length indicators and hands the segments to
// the reassembler. Control PDUs go to the status decoder.
//
// Processing the same frame again (same frame ID) returns the same SDUs
// without changing any state, so a capture may be re-dissected freely.
package engine

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/channel"
	"avaneesh/rlc-go/pkg/dedup"
	"avaneesh/rlc-go/pkg/internal/seqnum"
	"avaneesh/rlc-go/pkg/li"
	"avaneesh/rlc-go/pkg/pdu"
	"avaneesh/rlc-go/pkg/reassembly"
	"avaneesh/rlc-go/pkg/status"
	"avaneesh/rlc-go/pkg/types"
)

// ErrClosed is returned by Process after Close
var ErrClosed = errors.New("engine closed")

type frameSeq struct {
	key     channel.Key
	frameID uint64
}

// Engine is the reassembly engine of one capture
type Engine struct {
	id     uuid.UUID
	config Config

	resolver *channel.Resolver
	dedup    *dedup.Detector
	reasm    *reassembly.Reassembler

	// Guarded by mu
	unwrappers map[channel.Key]*seqnum.Unwrapper
	seqs       map[frameSeq]int64
	results    map[uint64]*Result
	closed     bool

	stats *Statistics
	log   logger.Logger
	mu    sync.RWMutex
}

// New creates an engine for one capture
func New(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	log := logger.Component("engine " + id.String()[:8])

	e := &Engine{
		id:         id,
		config:     config,
		resolver:   channel.NewResolver(config.Table()),
		dedup:      dedup.New(config.Window()),
		reasm:      reassembly.New(log),
		unwrappers: make(map[channel.Key]*seqnum.Unwrapper),
		seqs:       make(map[frameSeq]int64),
		results:    make(map[uint64]*Result),
		stats:      NewStatistics(),
		log:        log,
	}

	e.log.Info("capture %s opened: window=%s reassembly=%t headers-only=%t channels=%d",
		id, config.Window(), config.ReassemblyEnabled, config.AssumeHeadersOnly, len(config.Channels))
	return e, nil
}

// ID returns the capture session ID
func (e *Engine) ID() uuid.UUID {
	return e.id
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// Process processes one frame.
//
// Errors are local to the frame: a frame that fails with ErrMissingAddressing
// or ErrMalformed contributes nothing, and no other state is affected. The
// returned Result is non-nil even with an error and holds whatever was
// decoded before the failure.
func (e *Engine) Process(f Frame) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	prev, revisit := e.results[f.ID]
	if revisit {
		e.stats.incrementRevisits()
	} else {
		e.stats.incrementFrames(f.Time)
	}

	res, err := e.process(f, revisit)
	if revisit {
		// Soft warnings are only produced when state changes; keep the
		// ones from the first pass.
		res.Warnings = prev.Warnings
		return res, err
	}

	e.account(res, err)
	e.results[f.ID] = res
	return res, err
}

func (e *Engine) account(res *Result, err error) {
	switch {
	case errors.Is(err, types.ErrMissingAddressing):
		e.stats.incrementMissingAddressing()
		e.log.Warn("frame %d: %v", res.FrameID, err)
	case types.IsMalformed(err):
		e.stats.incrementMalformed()
		e.log.Warn("frame %d %s: %v", res.FrameID, res.Key, err)
	case err != nil:
		e.log.Error("frame %d: %v", res.FrameID, err)
	}

	switch res.Outcome {
	case OutcomeDuplicate:
		e.stats.incrementDuplicates()
	case OutcomeControl:
		e.stats.incrementControlFrames()
	}
	e.stats.addFragments(len(res.Fragments))
	e.stats.addSDUs(len(res.SDUs))

	warnings := append([]types.Warning(nil), res.Warnings...)
	for _, sdu := range res.SDUs {
		warnings = append(warnings, sdu.Warnings...)
	}
	for _, w := range warnings {
		switch w.Kind {
		case types.WarnOrphanFragment:
			e.stats.incrementOrphans()
		case types.WarnNonContiguousSequence:
			e.stats.incrementNonContiguous()
		}
	}
	for _, w := range res.Warnings {
		e.log.Debug("frame %d %s: %s", res.FrameID, res.Key, w)
	}
	e.log.Debug("%s", res)
}

func (e *Engine) process(f Frame, revisit bool) (*Result, error) {
	res := &Result{FrameID: f.ID}
	mode := e.resolver.ModeOf(f.Channel)

	key, err := e.resolver.Resolve(f.Channel)
	if err != nil {
		// Control PDUs carry no fragments and can still be decoded
		if mode == channel.ModeOrdered && len(f.PDU) > 0 && f.PDU[0]&pdu.AMDataControl == 0 {
			if cerr := e.processControl(res, f, revisit); cerr != nil {
				return res, cerr
			}
			return res, err
		}
		res.Outcome = OutcomeDropped
		return res, err
	}
	res.Key = key

	hdr, rest, err := pdu.Parse(mode, f.PDU)
	res.Header = hdr
	if err != nil {
		res.Outcome = OutcomeMalformed
		return res, err
	}

	switch {
	case mode == channel.ModeTransparent:
		return e.processTransparent(res, f)
	case hdr.Control:
		return res, e.processControl(res, f, revisit)
	}

	res.Sequence = e.expand(key, f.ID, int(hdr.SN))

	verdict := e.dedup.Check(key, res.Sequence, f.ID, f.Time)
	if verdict.Duplicate {
		res.Outcome = OutcomeDuplicate
		res.Original = verdict.Original
		return res, nil
	}

	payload := rest
	if hdr.HasLI {
		width := li.WidthFor(mode, len(f.PDU), e.resolver.LISizeOf(f.Channel))
		lih, err := li.Decode(rest, li.Options{
			Mode:        mode,
			Width:       width,
			MaxEntries:  e.config.MaxLI,
			HeadersOnly: e.config.AssumeHeadersOnly,
		})
		if err != nil {
			res.Outcome = OutcomeMalformed
			return res, err
		}
		res.LI = lih
		payload = rest[lih.Size:]
	}

	if len(payload) == 0 && e.config.AssumeHeadersOnly {
		res.Warnings = append(res.Warnings, types.NewWarning(types.WarnHeaderOnly, "no payload captured"))
		res.Outcome = OutcomeIncomplete
		return res, nil
	}

	w := &walker{engine: e, res: res, key: key, frameID: f.ID, seq: res.Sequence}
	if err := w.walk(hdr, payload); err != nil {
		res.Outcome = OutcomeMalformed
		return res, err
	}

	switch {
	case !e.config.ReassemblyEnabled:
		res.Outcome = OutcomeUnreassembled
	case len(res.SDUs) > 0:
		res.Outcome = OutcomeCompleted
	default:
		res.Outcome = OutcomeIncomplete
	}
	return res, nil
}

// expand returns the expanded SN of a frame, computing it once per frame
func (e *Engine) expand(key channel.Key, frameID uint64, sn int) int64 {
	fs := frameSeq{key: key, frameID: frameID}
	if seq, ok := e.seqs[fs]; ok {
		return seq
	}

	u, ok := e.unwrappers[key]
	if !ok {
		u = seqnum.NewUnwrapper(key.Mode().SequenceModulus())
		e.unwrappers[key] = u
	}
	seq := u.Expand(sn)
	e.seqs[fs] = seq
	return seq
}

// processTransparent turns the whole PDU into one SDU
func (e *Engine) processTransparent(res *Result, f Frame) (*Result, error) {
	res.Sequence = int64(f.ID)
	if !e.config.ReassemblyEnabled {
		res.Segments = []Segment{{Data: f.PDU, Start: true, Terminal: true}}
		res.Outcome = OutcomeUnreassembled
		return res, nil
	}

	h, sdu, _ := e.reasm.AddFragment(res.Key, f.ID, res.Sequence, 0, f.PDU, reassembly.Flags{Start: true, Terminal: true})
	res.Fragments = []reassembly.Handle{h}
	res.SDUs = []*reassembly.SDU{sdu}
	res.Outcome = OutcomeCompleted
	return res, nil
}

// processControl decodes an AM control PDU. A RESET or RESET ACK restarts
// both directions of the channel: in-flight SDUs are dropped and SNs begin
// a new epoch. Side effects happen on the first visit only.
func (e *Engine) processControl(res *Result, f Frame, revisit bool) error {
	c, err := status.ParseControl(f.PDU)
	res.Control = c
	if err != nil {
		res.Outcome = OutcomeMalformed
		return err
	}
	res.Outcome = OutcomeControl

	if revisit || !res.Key.Valid() {
		return nil
	}
	if c.Type == pdu.ControlReset || c.Type == pdu.ControlResetAck {
		e.stats.incrementResets()
		for _, dir := range []channel.Direction{channel.DirectionUplink, channel.DirectionDownlink} {
			k := res.Key.WithDirection(dir)
			if n := e.reasm.Discard(k); n > 0 {
				e.log.Info("%s: %s dropped %d in-flight fragments", k, c.Type, n)
			}
			if u, ok := e.unwrappers[k]; ok {
				u.Restart()
			}
		}
	}
	return nil
}

// Frame returns the result recorded for a frame on its first visit
func (e *Engine) Frame(id uint64) (*Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.results[id]
	return res, ok
}

// FrameIDs returns the IDs of every processed frame in ascending order
func (e *Engine) FrameIDs() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]uint64, 0, len(e.results))
	for id := range e.results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SDUs returns every completed SDU in completion order
func (e *Engine) SDUs() []*reassembly.SDU {
	return e.reasm.SDUs()
}

// Fragment returns the provenance record of a fragment
func (e *Engine) Fragment(h reassembly.Handle) (reassembly.Fragment, bool) {
	return e.reasm.Fragment(h)
}

// ContentOf returns the configured content type of a channel
func (e *Engine) ContentOf(key channel.Key) channel.ContentType {
	return e.resolver.Table().ContentOf(key)
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Snapshot {
	return e.stats.Snapshot()
}

// Close ends the capture and releases all state
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	snap := e.stats.Snapshot()
	e.log.Info("capture %s closed: frames=%d sdus=%d duplicates=%d malformed=%d",
		e.id, snap.Frames, snap.SDUs, snap.Duplicates, snap.Malformed)

	e.reasm.Reset()
	e.dedup.Reset()
	e.unwrappers = make(map[channel.Key]*seqnum.Unwrapper)
	e.seqs = make(map[frameSeq]int64)
	e.results = make(map[uint64]*Result)
	return nil
}
