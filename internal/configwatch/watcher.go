// Package configwatch reloads the configuration file when it changes on disk.
package configwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"visualia/internal/config"
	"visualia/internal/logging"
)

// DefaultDebounce absorbs the burst of events editors emit per save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher observes one configuration file. The parent directory is watched
// so atomic renames by editors are seen.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(*config.Config)
}

// New returns a watcher for path. onChange receives every successfully
// parsed revision.
func New(path string, debounce time.Duration, logger *slog.Logger, onChange func(*config.Config)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logging.NewComponentLogger(logger, "config-watch"),
		onChange: onChange,
	}
}

// Run watches until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching configuration file",
		logging.String(logging.FieldEventType, "config_watch_started"),
		logging.String("path", w.path),
	)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("config file changed", logging.String("op", event.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			logging.WarnWithContext(w.logger, "config watcher error", "config_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "configuration edits may be missed until restart"),
			)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, _, exists, err := config.Load(w.path)
	if err != nil {
		logging.WarnWithContext(w.logger, "ignoring invalid configuration edit", "config_reload_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the file; the running engine keeps its previous settings"),
			logging.String(logging.FieldImpact, "relaunch skipped"),
		)
		return
	}
	if !exists {
		w.logger.Debug("config file removed; keeping previous settings")
		return
	}
	w.logger.Info("configuration reloaded", logging.String(logging.FieldEventType, "config_reloaded"))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
