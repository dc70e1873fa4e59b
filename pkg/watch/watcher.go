// Package watch re-runs analysis when source files under a project change.
package watch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"

	"github.com/neural-garage/tools/internal/logging"
	"github.com/neural-garage/tools/internal/scanner"
)

// DefaultDebounce is how long a file must stay quiet before it is reported.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc receives the batch of paths that changed since the last call.
type ChangeFunc func(ctx context.Context, changed []string)

// Watcher monitors a project tree and reports debounced batches of changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	scanner   *scanner.Scanner
	debounce  time.Duration
	path      string
	callback  ChangeFunc
	out       io.Writer
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithOutput sets where status lines are printed.
func WithOutput(w io.Writer) Option {
	return func(wt *Watcher) {
		wt.out = w
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(wt *Watcher) {
		if l != nil {
			wt.logger = l
		}
	}
}

// NewWatcher creates a watcher for the tree at path. The scanner decides
// which files and directories matter.
func NewWatcher(path string, sc *scanner.Scanner, debounce time.Duration, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if sc == nil {
		sc = scanner.NewScanner(nil)
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		scanner:   sc,
		debounce:  debounce,
		path:      path,
		out:       os.Stdout,
		logger:    logging.Discard(),
		pending:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// SetCallback sets the function to call when files change.
func (w *Watcher) SetCallback(cb ChangeFunc) {
	w.callback = cb
}

// Start watches until ctx is cancelled or the watcher is stopped.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.path); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Fprintf(w.out, "Watching for changes in %s...\n", w.path)
	cyan.Fprintln(w.out, "Press Ctrl+C to stop")
	fmt.Fprintln(w.out)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
			color.New(color.FgRed).Fprintf(w.out, "Watch error: %v\n", err)
		}
	}
}

// addTree watches dir and every directory below it the scanner keeps.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if !w.scanner.Relevant(w.path, path, true) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// handleEvent records a filesystem event as pending.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	path := event.Name
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.scanner.Relevant(w.path, path, true) {
				if err := w.addTree(path); err != nil {
					w.logger.Warn("watch new directory", "path", path, "error", err)
				}
			}
			return
		}
	}

	if !w.scanner.Relevant(w.path, path, false) {
		return
	}

	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// processDebounced flushes pending changes until ctx is done. Callbacks run
// on this goroutine, so at most one runs at a time.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// processPending reports the files that have been quiet for the debounce
// period as one batch.
func (w *Watcher) processPending(ctx context.Context) {
	ready := w.takeReady(time.Now())
	if len(ready) == 0 || w.callback == nil {
		return
	}
	w.runCallback(ctx, ready)
}

func (w *Watcher) takeReady(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, lastMod := range w.pending {
		if now.Sub(lastMod) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(ready)
	return ready
}

func (w *Watcher) runCallback(ctx context.Context, changed []string) {
	rel := make([]string, len(changed))
	for i, path := range changed {
		r, err := filepath.Rel(w.path, path)
		if err != nil {
			r = path
		}
		rel[i] = r
	}
	w.logger.Debug("files changed", "files", rel)

	color.New(color.FgYellow).Fprintf(w.out, "\nChanged: %s\n", strings.Join(rel, ", "))
	fmt.Fprintln(w.out, strings.Repeat("-", 40))

	w.callback(ctx, changed)

	fmt.Fprintln(w.out)
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// WatchedDirs returns the directories being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.fsWatcher.WatchList()
}
