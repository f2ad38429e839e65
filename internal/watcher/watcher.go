// Package watcher notifies the chat command when any of its source documents change on disk.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// ErrNoFiles is returned by Start when the watcher was created without files.
var ErrNoFiles = errors.New("watcher: no files to watch")

// Watcher watches a fixed set of files and reports batched changes after a quiet period.
// fsnotify watches directories, so the parent directory of every file is watched and
// events are filtered down to the tracked files. Editors that save by renaming a temp
// file over the original still produce a Create for the tracked path.
type Watcher struct {
	files    map[string]struct{}
	dirs     []string
	onChange func(paths []string)
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]struct{}
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period after the last event before onChange fires.
// Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for files. onChange receives the sorted absolute paths that
// changed since the previous call.
func NewWatcher(files []string, onChange func(paths []string), opts ...Option) (*Watcher, error) {
	w := &Watcher{
		files:    make(map[string]struct{}, len(files)),
		onChange: onChange,
		debounce: defaultDebounce,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
		logger:   zap.NewNop(),
	}
	seenDir := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		abs = filepath.Clean(abs)
		w.files[abs] = struct{}{}
		dir := filepath.Dir(abs)
		if !seenDir[dir] {
			seenDir[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Files returns the sorted absolute paths being watched.
func (w *Watcher) Files() []string {
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Start starts watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if len(w.files) == 0 {
		return ErrNoFiles
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range w.dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return err
		}
	}
	w.watcher = fw
	w.started = true
	w.logger.Debug("watcher starting", zap.Strings("dirs", w.dirs), zap.Int("files", len(w.files)))
	go w.run(ctx, fw.Events, fw.Errors)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if _, ok := w.files[path]; !ok {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	w.schedule(path)
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.started || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.mu.Unlock()

	sort.Strings(paths)
	w.logger.Debug("watcher change (debounced)", zap.Strings("paths", paths))
	if w.onChange != nil {
		w.onChange(paths)
	}
}

// Stop stops the watcher and drops pending changes. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = make(map[string]struct{})
	_ = w.watcher.Close()
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
