package feed

import (
	"context"
	"io"

	"avaneesh/rlc-go/pkg/engine"
	"avaneesh/rlc-go/pkg/internal/queue"
)

// merged interleaves several sources by capture time
type merged struct {
	sources []Source
	pending *queue.PriorityQueue[engine.Frame]
	primed  bool
}

// Merge returns a Source yielding the frames of all sources ordered by
// capture time. Frames with equal times come out in source order, and each
// source's own order is preserved. Every source must itself be in time
// order.
func Merge(sources ...Source) Source {
	return &merged{
		sources: sources,
		pending: queue.NewPriorityQueue[engine.Frame](),
	}
}

// Next implements Source
func (m *merged) Next(ctx context.Context) (engine.Frame, error) {
	if !m.primed {
		for i := range m.sources {
			if err := m.pull(ctx, i); err != nil {
				return engine.Frame{}, err
			}
		}
		m.primed = true
	}

	item, ok := m.pending.Pop()
	if !ok {
		return engine.Frame{}, io.EOF
	}
	if err := m.pull(ctx, item.Order); err != nil {
		return engine.Frame{}, err
	}
	return item.Value, nil
}

// pull queues the next frame of source i, if it has one
func (m *merged) pull(ctx context.Context, i int) error {
	f, err := m.sources[i].Next(ctx)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	m.pending.Push(f, f.Time, i)
	return nil
}

// renumbered assigns consecutive frame IDs
type renumbered struct {
	src  Source
	next uint64
}

// Renumber returns a Source that replaces frame IDs with 1, 2, 3... in
// delivery order. Merged captures need it when their files number frames
// independently.
func Renumber(src Source) Source {
	return &renumbered{src: src, next: 1}
}

// Next implements Source
func (r *renumbered) Next(ctx context.Context) (engine.Frame, error) {
	f, err := r.src.Next(ctx)
	if err != nil {
		return f, err
	}
	f.ID = r.next
	r.next++
	return f, nil
}
