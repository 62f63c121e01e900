// Package watcher reports file changes under a set of directories, debounced
// per path, so the caller can keep the document store in sync with them.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler receives settled file events. Calls are serialized.
type Handler interface {
	FileChanged(ctx context.Context, path string)
	// FileRemoved is called for removed or renamed files and directories.
	FileRemoved(ctx context.Context, path string)
}

// Watcher watches directory trees and forwards matching file events to a Handler.
type Watcher struct {
	roots    []string
	handler  Handler
	accept   func(path string) bool
	debounce time.Duration
	logger   *zap.Logger

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	ready   chan struct{}
	calls   sync.Mutex
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a path must stay quiet before FileChanged fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFilter limits FileChanged to files for which accept returns true.
func WithFilter(accept func(path string) bool) Option {
	return func(w *Watcher) { w.accept = accept }
}

// New returns a watcher over roots, which must be existing directories.
func New(roots []string, handler Handler, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		handler:  handler,
		accept:   func(string) bool { return true },
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[string]*time.Timer),
		ready:    make(chan struct{}),
	}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("watch %s: not a directory", root)
		}
		w.roots = append(w.roots, abs)
	}
	if len(w.roots) == 0 {
		return nil, errors.New("watch: no directories given")
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Roots returns the watched root directories.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

// Run watches until ctx is done. Pending events are dropped on return, and
// Run waits for a handler call in progress to finish.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.fsw = fsw
	defer func() {
		w.stopPending()
		w.wg.Wait()
		_ = fsw.Close()
	}()

	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	w.logger.Info("watching directories", zap.Strings("roots", w.roots))
	close(w.ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if hidden(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		w.call(func() { w.handler.FileRemoved(ctx, path) })
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files created before the directory was watched produce no events.
			if err := w.addTree(path); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", path), zap.Error(err))
			}
			w.schedule(ctx, w.filesUnder(path)...)
			return
		}
		if info.Mode().IsRegular() && w.accept(path) {
			w.schedule(ctx, path)
		}
	}
}

// addTree watches dir and its non-hidden subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) filesUnder(dir string) []string {
	var paths []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != dir && hidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.accept(path) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths
}

func (w *Watcher) schedule(ctx context.Context, paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, path := range paths {
		if t, ok := w.pending[path]; ok {
			t.Stop()
		}
		w.pending[path] = time.AfterFunc(w.debounce, func() {
			w.mu.Lock()
			delete(w.pending, path)
			if w.stopped {
				w.mu.Unlock()
				return
			}
			w.wg.Add(1)
			w.mu.Unlock()
			defer w.wg.Done()
			w.call(func() { w.handler.FileChanged(ctx, path) })
		})
	}
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	prefix := path + string(filepath.Separator)
	for p, t := range w.pending {
		if p == path || strings.HasPrefix(p, prefix) {
			t.Stop()
			delete(w.pending, p)
		}
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}

func (w *Watcher) call(fn func()) {
	w.calls.Lock()
	defer w.calls.Unlock()
	fn()
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
