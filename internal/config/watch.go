package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"coil/internal/logging"
)

// Watch re-loads the config file whenever it changes on disk and invokes
// onChange with the freshly parsed Config. The watcher runs until ctx is
// cancelled. Editors that replace the file via rename are handled by
// watching the containing directory rather than the file itself.
func Watch(ctx context.Context, onChange func(Config)) error {
	path, err := File()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		base := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				cfg, err := LoadFrom(path)
				if err != nil {
					logging.ConfigWarn("reload after %s failed: %v", event.Op, err)
					continue
				}
				logging.Config("config reloaded after %s", event.Op)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.ConfigWarn("watcher error: %v", err)
			}
		}
	}()
	return nil
}
