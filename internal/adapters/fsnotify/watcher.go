// Package fsnotify implements the ports.Watcher interface using github.com/fsnotify/fsnotify.
// It watches the parent directory of a single file, so editors that save by
// writing a temp file and renaming it over the original are still seen, and
// debounces bursts of events (one save often produces several).
package fsnotify

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/corey/parley/internal/ports"
)

// DefaultDebounce is the quiet period after the last event before onChange fires.
const DefaultDebounce = 100 * time.Millisecond

// Watcher implements ports.Watcher using fsnotify.
type Watcher struct {
	fw       *fsnotify.Watcher
	debounce time.Duration
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
}

var _ ports.Watcher = (*Watcher)(nil)

// NewWatcher creates a new file system watcher.
func NewWatcher() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	return &Watcher{
		fw:       fw,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}, nil
}

// WithDebounce sets the quiet period. Call before Watch.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch starts monitoring path. The file itself need not exist yet; its
// parent directory must.
func (w *Watcher) Watch(path string, onChange func(filePath string)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolve path")
	}
	if err := w.fw.Add(filepath.Dir(absPath)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(absPath))
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					w.schedule(func() { onChange(absPath) })
				}

			case _, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				// fsnotify recovers on its own

			case <-w.done:
				return
			}
		}
	}()

	return nil
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule(fire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if !stopped {
			fire()
		}
	})
}

// Stop ends monitoring and releases all resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	err := w.fw.Close()
	w.wg.Wait()
	return err
}
