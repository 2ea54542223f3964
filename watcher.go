package labcore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reapplies the Manager's configuration file whenever it
// changes on disk. Because Configure is additive, edits extend the
// defined module tree without restarting the host.
type ConfigWatcher struct {
	mgr     *Manager
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchConfig starts watching the Manager's loaded configuration file.
// It fails when no configuration file has been read yet.
func WatchConfig(mgr *Manager) (*ConfigWatcher, error) {
	path := mgr.ConfigFile()
	if path == "" {
		return nil, fmt.Errorf("%w: no configuration file loaded", ErrConfigNotFound)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory, not the file. Editors replace files by
	// rename, which drops a direct file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &ConfigWatcher{mgr: mgr, watcher: fw, done: make(chan struct{})}
	go w.run(path)
	return w, nil
}

func (w *ConfigWatcher) run(path string) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mgr.Logger().Info("Configuration file changed, reloading", "file", path)
			if err := w.mgr.ReadConfig(path); err != nil {
				w.mgr.Logger().Error("Configuration reload failed", "file", path, "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.mgr.Logger().Error("Config watcher error", "error", err)
		}
	}
}

// Stop ends the watch and waits for the watch loop to exit.
func (w *ConfigWatcher) Stop(ctx context.Context) error {
	if err := w.watcher.Close(); err != nil {
		return err
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
