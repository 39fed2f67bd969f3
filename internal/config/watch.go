package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path on every write event and invokes onReload with the
// freshly parsed Config, until stop is closed. Reload errors are logged
// and skipped rather than propagated, so a transient editor save (which
// briefly produces invalid yaml) never tears down a running `loom
// chat` or `loom resume` session. Grounded on the teacher's internal/skills/manager.go watcher
// loop (debounced fsnotify.Watcher draining Events/Errors in a select).
func Watch(path string, stop <-chan struct{}, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					slog.Error("config: reload failed, keeping previous config", "path", path, "error", err)
					continue
				}
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config: watcher error", "path", path, "error", err)
			}
		}
	}()
	return nil
}
