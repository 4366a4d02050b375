package subscription

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/ustreamer/errors"
)

// Watcher refreshes a cache from a StaticFile whenever the file changes.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
type Watcher struct {
	cache    *Cache
	file     *StaticFile
	debounce time.Duration
	logger   *slog.Logger
	// refreshed is signalled after every refresh attempt; tests observe it.
	refreshed chan error
}

// NewWatcher creates a watcher. debounce collapses bursts of events; zero
// means 100ms.
func NewWatcher(cache *Cache, file *StaticFile, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cache:     cache,
		file:      file,
		debounce:  debounce,
		logger:    logger,
		refreshed: make(chan error, 1),
	}
}

// Run watches until ctx is done. Refresh failures are logged and the previous
// cache contents stay in effect.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Internal(err, "Watcher", "Run", "create file watcher")
	}
	defer fw.Close()

	target := filepath.Clean(w.file.Path())
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return errors.Internal(err, "Watcher", "Run", "watch subscription directory")
	}

	w.logger.Info("Watching subscription file", "path", target)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
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
			if !pending {
				pending = true
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "path", target, "error", err)

		case <-timer.C:
			pending = false
			err := w.cache.Refresh(ctx, w.file)
			select {
			case w.refreshed <- err:
			default:
			}
		}
	}
}
