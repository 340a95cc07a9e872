package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Config from its file whenever fsnotify reports a write,
// swapping the new values in via ReplaceFrom so every holder of the
// original *Config pointer observes the update without re-fetching it.
type Watcher struct {
	path string
	cfg  *Config
	log  *slog.Logger
}

// NewWatcher binds a fsnotify watch to path, reloading into cfg on change.
func NewWatcher(path string, cfg *Config, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{path: path, cfg: cfg, log: log}
}

// Run watches the config file until ctx is cancelled. A reload that fails
// to parse is logged and skipped — the last good config stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return err
	}

	lastHash := w.cfg.Hash()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloaded, err := Load(w.path)
			if err != nil {
				w.log.Error("config reload failed, keeping previous config", "error", err)
				continue
			}
			if hash := reloaded.Hash(); hash == lastHash {
				continue
			} else {
				lastHash = hash
			}
			w.cfg.ReplaceFrom(reloaded)
			w.log.Info("config reloaded", "path", w.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}
