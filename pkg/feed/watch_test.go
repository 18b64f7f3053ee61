package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchDir(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a.rlc")
	require.NoError(t, os.WriteFile(existing, nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))

	w, err := WatchDir(dir, ExtRecords, ExtPcap)
	require.NoError(t, err)
	defer w.Close()

	files, err := w.Existing()
	require.NoError(t, err)
	require.Equal(t, []string{existing}, files)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Spooled under a dot-name, then renamed into place
	tmp := filepath.Join(dir, ".b.pcap")
	final := filepath.Join(dir, "b.pcap")
	require.NoError(t, os.WriteFile(tmp, []byte("x"), 0o644))
	require.NoError(t, os.Rename(tmp, final))

	select {
	case got := <-w.Files():
		require.Equal(t, final, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no file reported")
	}

	cancel()
	require.NoError(t, <-done)

	_, ok := <-w.Files()
	require.False(t, ok)
}

func TestWatchDirNotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := WatchDir(path)
	require.Error(t, err)

	_, err = WatchDir(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
