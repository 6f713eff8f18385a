// Package watcher keeps an index current by revalidating the project root
// after filesystem changes settle.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codegrep/internal/indexer"
)

// DefaultDebounce is the quiet period after the last change before a
// revalidation starts
const DefaultDebounce = 100 * time.Millisecond

// Revalidator brings the index of a root up to date
type Revalidator interface {
	Revalidate(ctx context.Context, root string, cfg *indexer.Config) (*indexer.Statistics, error)
}

// Watcher revalidates a root after bursts of filesystem events
type Watcher struct {
	root     string
	reval    Revalidator
	cfg      indexer.Config
	debounce time.Duration
	accept   func(path string) bool
	logger   *slog.Logger
	onRun    func(*indexer.Statistics, error)
	fsw      *fsnotify.Watcher
}

// Option configures a Watcher
type Option func(*Watcher)

// WithDebounce sets the quiet period before a revalidation
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFilter limits the file events that trigger a revalidation. Removals
// always trigger one, since a removed directory may hold indexed files.
func WithFilter(accept func(path string) bool) Option {
	return func(w *Watcher) { w.accept = accept }
}

// WithLogger sets the logger for watch diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// OnRevalidate registers a callback invoked after every run
func OnRevalidate(fn func(*indexer.Statistics, error)) Option {
	return func(w *Watcher) { w.onRun = fn }
}

// New creates a watcher for root. Every run prunes deleted files.
func New(root string, reval Revalidator, cfg *indexer.Config, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	w := &Watcher{
		root:     abs,
		reval:    reval,
		debounce: DefaultDebounce,
		accept:   func(string) bool { return true },
		logger:   slog.Default(),
	}
	if cfg != nil {
		w.cfg = *cfg
	}
	w.cfg.Prune = true
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run revalidates once, then watches until ctx is cancelled. It returns
// nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.fsw = fsw
	defer func() { _ = fsw.Close() }()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.logger.Info("watching", "root", w.root, "debounce", w.debounce)

	w.revalidate(ctx)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			if !w.revalidate(ctx) {
				// another writer holds the index, try again later
				timer.Reset(w.debounce)
			}
		}
	}
}

// handleEvent reports whether the event should schedule a revalidation
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if w.ignored(event.Name) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return true
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return true
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		return w.accept(event.Name)
	}
	return false
}

// revalidate runs one revalidation and reports false when it must be retried
func (w *Watcher) revalidate(ctx context.Context) bool {
	stats, err := w.reval.Revalidate(ctx, w.root, &w.cfg)
	if errors.Is(err, indexer.ErrRevalidationInProgress) {
		w.logger.Debug("revalidation busy, rescheduling")
		return false
	}
	if err != nil {
		w.logger.Warn("revalidation failed", "error", err)
	} else if stats != nil {
		w.logger.Debug("revalidated",
			"run_id", stats.RunID,
			"indexed", stats.FilesIndexed,
			"pruned", stats.FilesPruned,
		)
	}
	if w.onRun != nil {
		w.onRun(stats, err)
	}
	return true
}

// addRecursive adds a directory and all its subdirectories to the watch list
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Debug("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// ignored reports whether path lies in the cache directory or, unless
// hidden files are indexed, under a dot entry below the root
func (w *Watcher) ignored(path string) bool {
	if w.cfg.CacheDir != "" {
		if path == w.cfg.CacheDir || strings.HasPrefix(path, w.cfg.CacheDir+string(filepath.Separator)) {
			return true
		}
	}
	if w.cfg.IncludeHidden {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != ".." {
			return true
		}
	}
	return false
}
