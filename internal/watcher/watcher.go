// Package watcher observes a single state file and reports when it goes
// missing, so the worker can recreate databases or state files that were
// deleted out from under it.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher watches one file for removal.
type Watcher struct {
	path      string
	onMissing func()
	fsw       *fsnotify.Watcher
	done      chan struct{}
}

// New starts watching path. onMissing runs on the watcher goroutine each
// time the file is removed or renamed away; it must be safe to call more
// than once. The parent directory is watched rather than the file itself
// because fsnotify loses the watch when the inode disappears.
func New(path string, onMissing func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("create watch dir: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:      path,
		onMissing: onMissing,
		fsw:       fsw,
		done:      make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				log.Warn().Str("path", w.path).Msg("watched file removed, recreating")
				w.onMissing()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("file watcher error")
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
