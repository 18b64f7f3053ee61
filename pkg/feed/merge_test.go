package feed

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"avaneesh/rlc-go/pkg/engine"
)

func collect(t *testing.T, src Source) []engine.Frame {
	t.Helper()
	var out []engine.Frame
	for {
		f, err := src.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, f)
	}
}

func TestMerge(t *testing.T) {
	a := capture(1, 100, t0)
	b := capture(2, 200, t0.Add(5*time.Millisecond))
	c := capture(3, 300, t0) // ties with a

	got := collect(t, Merge(NewFrames(a...), NewFrames(b...), NewFrames(), NewFrames(c...)))

	var ids []uint64
	for _, f := range got {
		ids = append(ids, f.ID)
	}
	require.Equal(t, []uint64{100, 300, 200, 101, 301, 201, 102, 302, 202}, ids)
}

func TestRenumber(t *testing.T) {
	got := collect(t, Renumber(Merge(NewFrames(capture(1, 1, t0)...), NewFrames(capture(2, 1, t0.Add(time.Second))...))))
	require.Len(t, got, 6)
	for i, f := range got {
		require.Equal(t, uint64(i+1), f.ID)
	}
	require.Equal(t, uint32(1), got[2].Channel.Conn.UEID)
	require.Equal(t, uint32(2), got[3].Channel.Conn.UEID)
}

func TestMergeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Merge(NewFrames(capture(1, 1, t0)...)).Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
