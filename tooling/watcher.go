// Package tooling runs rebase builds from the command line, once or in watch
// mode.
package tooling

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/vormadev/rebase/kit/colorlog"
)

// Ignore patterns - these are glob patterns, not path segments
const (
	globGit         = "**/.git"
	globNodeModules = "**/node_modules"
)

// Watcher watches a source tree recursively.
type Watcher struct {
	log     *slog.Logger
	fsWatch *fsnotify.Watcher

	watchedDirs sync.Map

	// Patterns stored as absolute paths with forward slashes
	ignored []string

	absRoot string
}

// NewWatcher creates a watcher for root. ignore holds extra directories or
// globs, relative to root or absolute; anything under them is ignored.
func NewWatcher(root string, ignore []string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = colorlog.New("rebase")
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		log:     log,
		fsWatch: fsWatch,
		absRoot: norm(root),
	}
	w.ignored = []string{
		w.absRoot + "/" + globGit,
		w.absRoot + "/" + globGit + "/**",
		w.absRoot + "/" + globNodeModules,
		w.absRoot + "/" + globNodeModules + "/**",
	}
	for _, p := range ignore {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		np := norm(p)
		w.ignored = append(w.ignored, np, np+"/**")
	}
	return w, nil
}

// norm converts a path to absolute with forward slashes for consistent matching
func norm(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(abs)
}

func (w *Watcher) Events() <-chan fsnotify.Event {
	return w.fsWatch.Events
}

func (w *Watcher) Errors() <-chan error {
	return w.fsWatch.Errors
}

func (w *Watcher) Close() error {
	return w.fsWatch.Close()
}

// AddDir adds a directory and its subdirectories to the watcher
func (w *Watcher) AddDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}

		if w.IsIgnored(path) {
			return filepath.SkipDir
		}

		absPath := norm(path)
		if _, exists := w.watchedDirs.Load(absPath); exists {
			return nil
		}

		if err := w.fsWatch.Add(path); err != nil {
			return err
		}

		w.watchedDirs.Store(absPath, true)
		return nil
	})
}

// RemoveStale removes watches for directories that no longer exist
func (w *Watcher) RemoveStale() {
	w.watchedDirs.Range(func(key, _ any) bool {
		path := key.(string)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			w.fsWatch.Remove(path)
			w.watchedDirs.Delete(path)
		}
		return true
	})
}

// IsIgnored reports whether path is inside an ignored directory.
func (w *Watcher) IsIgnored(path string) bool {
	np := norm(path)
	for _, pattern := range w.ignored {
		matches, err := doublestar.Match(pattern, np)
		if err != nil {
			w.log.Error("Pattern match error", "pattern", pattern, "path", np, "error", err)
			continue
		}
		if matches {
			return true
		}
	}
	return false
}

// Relevant filters a batch of events down to the ones that should trigger a
// rebuild, adding watches for newly created directories on the way.
func (w *Watcher) Relevant(events []fsnotify.Event) []fsnotify.Event {
	seen := make(map[string]bool, len(events))
	var out []fsnotify.Event
	for _, evt := range events {
		if seen[evt.Name] || w.IsIgnored(evt.Name) {
			continue
		}
		seen[evt.Name] = true

		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if evt.Has(fsnotify.Create) || evt.Has(fsnotify.Rename) {
				if err := w.AddDir(evt.Name); err != nil {
					w.log.Error("Watch directory", "path", evt.Name, "error", err)
				}
			}
			continue
		}
		if isNonEmptyChmodOnly(evt) || isEditorTemp(evt.Name) {
			continue
		}
		out = append(out, evt)
	}
	if len(out) < len(events) {
		w.RemoveStale()
	}
	return out
}

func isEditorTemp(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, "~") || strings.HasPrefix(base, ".#") ||
		strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp")
}

// Debouncer batches rapid file events and ensures callbacks don't overlap.
type Debouncer struct {
	duration time.Duration
	callback func([]fsnotify.Event)
	mu       sync.Mutex
	timer    *time.Timer
	events   []fsnotify.Event
	stopped  bool
	inFlight bool
	pending  []fsnotify.Event
}

func NewDebouncer(d time.Duration, cb func([]fsnotify.Event)) *Debouncer {
	return &Debouncer{duration: d, callback: cb}
}

func (d *Debouncer) Add(evt fsnotify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.events = append(d.events, evt)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.flush)
}

// flush runs the callback, or queues the batch if a callback is still running.
func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.events) == 0 {
		d.mu.Unlock()
		return
	}

	events := d.events
	d.events = nil

	if d.inFlight {
		d.pending = append(d.pending, events...)
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	d.mu.Unlock()

	d.callback(events)

	d.mu.Lock()
	d.inFlight = false
	if len(d.pending) > 0 && !d.stopped {
		d.events = d.pending
		d.pending = nil
		d.timer = time.AfterFunc(d.duration, d.flush)
	}
	d.mu.Unlock()
}

// Stop cancels any pending callback and drops future events.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.events = nil
	d.pending = nil
}

// isNonEmptyChmodOnly reports a chmod-only event on a non-empty file. Chmod on
// an empty file may belong to a create, chmod, write sequence and is kept.
func isNonEmptyChmodOnly(evt fsnotify.Event) bool {
	if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Remove) ||
		evt.Has(fsnotify.Rename) {
		return false
	}

	info, err := os.Stat(evt.Name)
	if err != nil {
		return false
	}
	return info.Size() > 0
}
