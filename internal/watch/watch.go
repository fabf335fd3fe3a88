// Package watch notices when the external loader rewrites the
// database file. Events are debounced so a bulk load triggers one
// callback.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wesm/dashai/internal/logging"
)

// Watcher watches one file through its parent directory, so
// replace-by-rename loaders are seen too.
type Watcher struct {
	onChange func(path string)
	watcher  *fsnotify.Watcher
	dir      string
	base     string
	debounce time.Duration
	pending  time.Time // zero = nothing pending
	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New creates a watcher that calls onChange(path) once events for
// path have been quiet for debounce.
func New(
	path string, debounce time.Duration, onChange func(path string),
) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is nil: %w", os.ErrInvalid)
	}
	if debounce <= 0 {
		return nil, fmt.Errorf("debounce must be positive: %w", os.ErrInvalid)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		onChange: onChange,
		watcher:  fsw,
		dir:      dir,
		base:     filepath.Base(abs),
		debounce: debounce,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return filepath.Join(w.dir, w.base)
}

// Start begins processing file events in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops the watcher and waits for it to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("watcher error")

		case <-ticker.C:
			w.flush()
		}
	}
}

// matches reports whether name is the database file or one of its
// SQLite side files (-wal, -journal, -shm).
func (w *Watcher) matches(name string) bool {
	b := filepath.Base(name)
	if b == w.base {
		return true
	}
	for _, suffix := range []string{"-wal", "-journal", "-shm"} {
		if b == w.base+suffix {
			return true
		}
	}
	return false
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.matches(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|
		fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	w.mu.Lock()
	w.pending = w.now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.pending.IsZero() || w.now().Sub(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	path := w.Path()
	logging.Info().Str("path", path).
		Msg("watcher: database file changed")
	w.onChange(path)
}
