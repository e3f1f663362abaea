package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a profile document file for changes and emits an
// event per settled change. It supports both fsnotify file watching and
// SIGHUP signal-based reload. The consumer re-imports the file on each
// event; a change is a save request like any other.
type Watcher struct {
	path      string
	onChange  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher creates a watcher for path. Start must be called to begin
// watching.
func NewWatcher(path string) *Watcher {
	return &Watcher{
		path:     path,
		onChange: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Changes returns a channel that receives an event per file change.
func (w *Watcher) Changes() <-chan struct{} {
	return w.onChange
}

// Start watches the profile file and listens for SIGHUP. It blocks
// until ctx is cancelled or Close is called; the onChange channel is
// closed when Start returns.
func (w *Watcher) Start(ctx context.Context) error {
	defer close(w.onChange)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory (not the file) so we catch editors that
	// write-to-temp-then-rename (vim, sed -i, etc.).
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	baseName := filepath.Base(w.path)

	// Debounce: editors may fire multiple events in quick succession.
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != baseName {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(100 * time.Millisecond)
			}
		case <-debounce:
			w.notify()
			debounce = nil
		case <-sigCh:
			w.notify()
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; keep watching.
		}
	}
}

// notify sends non-blocking: if the consumer hasn't drained the last
// event, this one is superseded by the next change anyway.
func (w *Watcher) notify() {
	select {
	case w.onChange <- struct{}{}:
	default:
	}
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
}
