package feed

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/engine"
)

// Source yields captured frames in capture order.
// Next blocks until a frame is available and returns io.EOF when the source
// is exhausted.
type Source interface {
	Next(ctx context.Context) (engine.Frame, error)
}

// Processor consumes frames; *engine.Engine implements it
type Processor interface {
	Process(f engine.Frame) (*engine.Result, error)
}

// DrainStats summarizes one Drain call
type DrainStats struct {
	Frames    int // Frames handed to the processor
	Completed int // SDUs completed
	Failed    int // Frames the processor rejected
}

// Drain feeds every frame of src to p until src is exhausted.
//
// Frame-local errors (malformed PDUs, unresolvable channels) are logged and
// counted; they do not stop the drain. Source errors and engine.ErrClosed
// do.
func Drain(ctx context.Context, src Source, p Processor, log logger.Logger) (DrainStats, error) {
	log = logger.OrDefault(log)

	var st DrainStats
	for {
		f, err := src.Next(ctx)
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, err
		}

		res, err := p.Process(f)
		st.Frames++
		if errors.Is(err, engine.ErrClosed) {
			return st, err
		}
		if err != nil {
			st.Failed++
			log.Debug("frame %d: %v", f.ID, err)
		}
		if res != nil {
			st.Completed += len(res.SDUs)
		}
	}
}

// Frames is an in-memory Source
type Frames struct {
	frames []engine.Frame
	pos    int
}

// NewFrames creates a Source over frames
func NewFrames(frames ...engine.Frame) *Frames {
	return &Frames{frames: frames}
}

// Next implements Source
func (s *Frames) Next(ctx context.Context) (engine.Frame, error) {
	if err := ctx.Err(); err != nil {
		return engine.Frame{}, err
	}
	if s.pos >= len(s.frames) {
		return engine.Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

// RecordSource reads length-prefixed frame records from a stream
type RecordSource struct {
	r      *bufio.Reader
	closer io.Closer
}

// NewRecordSource creates a Source reading records from r
func NewRecordSource(r io.Reader) *RecordSource {
	s := &RecordSource{r: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Next implements Source
func (s *RecordSource) Next(ctx context.Context) (engine.Frame, error) {
	if err := ctx.Err(); err != nil {
		return engine.Frame{}, err
	}
	return ReadRecord(s.r)
}

// Close closes the underlying reader if it is closable
func (s *RecordSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// FileSource is a Source reading an open capture file
type FileSource interface {
	Source
	io.Closer
}

// File extensions recognized by OpenFile
const (
	ExtRecords = ".rlc"
	ExtPcap    = ".pcap"
	ExtPcapNG  = ".pcapng"
)

// OpenFile opens a capture file, choosing the reader by extension: pcap and
// pcapng files go through PcapSource, everything else is read as a record
// stream.
func OpenFile(path string, opts PcapOptions) (FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ExtPcap:
		src, err := NewPcapSource(file, opts)
		if err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "open %s", path)
		}
		return src, nil
	case ExtPcapNG:
		opts.NG = true
		src, err := NewPcapSource(file, opts)
		if err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "open %s", path)
		}
		return src, nil
	default:
		return NewRecordSource(file), nil
	}
}

// Pipe is a Source fed by concurrent producers. Next returns io.EOF once
// the pipe is closed and every frame sent before has been delivered.
type Pipe struct {
	ch     chan engine.Frame
	done   chan struct{}
	closed sync.Once
}

// NewPipe creates a pipe buffering up to backlog frames
func NewPipe(backlog int) *Pipe {
	return &Pipe{
		ch:   make(chan engine.Frame, backlog),
		done: make(chan struct{}),
	}
}

// Send queues one frame
func (p *Pipe) Send(ctx context.Context, f engine.Frame) error {
	select {
	case <-p.done:
		return ErrFeedClosed
	default:
	}

	select {
	case p.ch <- f:
		return nil
	case <-p.done:
		return ErrFeedClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Copy sends every frame of src into the pipe and returns how many it sent
func (p *Pipe) Copy(ctx context.Context, src Source) (int, error) {
	n := 0
	for {
		f, err := src.Next(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := p.Send(ctx, f); err != nil {
			return n, err
		}
		n++
	}
}

// Next implements Source
func (p *Pipe) Next(ctx context.Context) (engine.Frame, error) {
	select {
	case f := <-p.ch:
		return f, nil
	case <-ctx.Done():
		return engine.Frame{}, ctx.Err()
	case <-p.done:
		select {
		case f := <-p.ch:
			return f, nil
		default:
			return engine.Frame{}, io.EOF
		}
	}
}

// Close ends the pipe
func (p *Pipe) Close() {
	p.closed.Do(func() { close(p.done) })
}
