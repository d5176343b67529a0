package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchTargets holds callbacks that fire when specific config files
// change, so the running proxy can hot-reload without a restart.
type WatchTargets struct {
	// OnRulesChange fires when rules.yaml is written or created.
	// Typically triggers transform.Engine.Reload() to pick up new
	// tag/system-editor rules.
	OnRulesChange func()

	// OnConfigChange fires when config.yaml itself is written or
	// created, for settings that can be safely swapped in place
	// (context thresholds, live-hub rate limit) without restarting
	// listeners bound to server.host/server.port.
	OnConfigChange func()
}

// Watcher monitors the Aspy config directory for file changes using
// fsnotify, firing the appropriate callback by basename. One
// background goroutine processes fsnotify events for the whole
// directory; Close() stops it and releases the underlying watcher.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher creates a file watcher on the given config directory. It
// immediately starts processing events in a background goroutine.
func NewWatcher(dir string, targets WatchTargets) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fw,
		done:      make(chan struct{}),
	}

	go w.processEvents(targets)

	slog.Info("config file watcher started", "dir", dir)
	return w, nil
}

// processEvents reads fsnotify events and dispatches to the
// appropriate callback. Runs until Close() is called.
func (w *Watcher) processEvents(targets WatchTargets) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// Only writes and creates matter — a remove/rename means
			// the file is gone, not updated.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			switch filepath.Base(event.Name) {
			case "rules.yaml":
				slog.Info("rules.yaml changed, triggering reload")
				if targets.OnRulesChange != nil {
					targets.OnRulesChange()
				}
			case "config.yaml":
				slog.Info("config.yaml changed, triggering reload")
				if targets.OnConfigChange != nil {
					targets.OnConfigChange()
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("config file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases the underlying
// fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
