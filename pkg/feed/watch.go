package feed

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"avaneesh/rlc-go/internal/logger"
)

// Watcher follows a spool directory and reports capture files as they
// appear. Writers are expected to write under a dot-name and rename the
// finished file into place; dotfiles are ignored.
type Watcher struct {
	dir     string
	exts    []string
	watcher *fsnotify.Watcher
	files   chan string
	log     logger.Logger

	seen   map[string]bool
	seenMu sync.Mutex
}

// WatchDir starts watching dir for files with one of exts (any file when
// exts is empty)
func WatchDir(dir string, exts ...string) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "watch %s", dir)
	}

	lower := make([]string, len(exts))
	for i, ext := range exts {
		lower[i] = strings.ToLower(ext)
	}

	return &Watcher{
		dir:     dir,
		exts:    lower,
		watcher: fw,
		files:   make(chan string, 64),
		log:     logger.Component("watch"),
		seen:    make(map[string]bool),
	}, nil
}

// Files returns the channel on which new capture files are reported.
// It is closed when Run returns.
func (w *Watcher) Files() <-chan string {
	return w.files
}

// Existing returns the matching files already in the directory, sorted by
// name, and marks them as reported
func (w *Watcher) Existing() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var paths []string
	for _, entry := range entries {
		path := filepath.Join(w.dir, entry.Name())
		if entry.IsDir() || !w.accept(path) || !w.mark(path) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Run reports new files until ctx is cancelled or the watcher fails
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.files)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.accept(event.Name) {
				continue
			}

			info, err := os.Stat(event.Name)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if !w.mark(event.Name) {
				continue
			}

			w.log.Debug("new capture %s", event.Name)
			select {
			case w.files <- event.Name:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher: %v", err)
			return errors.Wrap(err, "watch")
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return errors.WithStack(w.watcher.Close())
}

func (w *Watcher) accept(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range w.exts {
		if e == ext {
			return true
		}
	}
	return false
}

// mark records path as reported; it returns false if it already was
func (w *Watcher) mark(path string) bool {
	w.seenMu.Lock()
	defer w.seenMu.Unlock()
	if w.seen[path] {
		return false
	}
	w.seen[path] = true
	return true
}
