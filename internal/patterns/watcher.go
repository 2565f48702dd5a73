package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a pattern file into a Registry when it changes on disk.
// A reload that fails to compile leaves the current set in place.
type Watcher struct {
	logger   *slog.Logger
	path     string
	registry *Registry
	debounce time.Duration
	onReload func(*Set, error)
}

// NewWatcher constructs a Watcher for path. onReload may be nil.
func NewWatcher(logger *slog.Logger, path string, registry *Registry, onReload func(*Set, error)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		logger:   logger,
		path:     path,
		registry: registry,
		debounce: 500 * time.Millisecond,
		onReload: onReload,
	}
}

// Run blocks until ctx is cancelled, reloading on every settled change.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	// Editors replace files via rename, so watch the directory.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("pattern watcher error", slog.Any("error", err))
		case <-fire:
			fire = nil
			w.Reload()
		}
	}
}

// Reload compiles the file and publishes it to the registry.
func (w *Watcher) Reload() {
	set, err := Load(w.path)
	if err != nil {
		w.logger.Warn("pattern reload rejected", slog.String("path", w.path), slog.Any("error", err))
	} else {
		w.registry.Replace(set)
		w.logger.Info("patterns reloaded", slog.String("path", w.path), slog.Int("patterns", set.Len()))
	}
	if w.onReload != nil {
		w.onReload(set, err)
	}
}
