package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last file event before
// reloading. Editors emit several events per save.
const DefaultDebounce = 250 * time.Millisecond

// Watch calls onChange with the reloaded Config whenever the file at path
// changes to a different valid configuration. It runs until ctx is
// cancelled. See WatchDebounced.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return WatchDebounced(ctx, path, DefaultDebounce, onChange)
}

// WatchDebounced is Watch with an explicit quiet period. Events for path
// are coalesced until none arrives for debounce, then the file is loaded
// once. The parent directory is watched so saves that replace the file by
// rename are seen. An invalid file is logged and the previous Config stays
// in effect; a reload equal to the current Config is not reported.
func WatchDebounced(ctx context.Context, path string, debounce time.Duration, onChange func(*Config)) error {
	current, err := Load(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("server config: watch: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("server config: watch %q: %w", path, err)
	}
	slog.Info("config: watching for changes", "path", path, "debounce", debounce)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			next, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			if reflect.DeepEqual(next, current) {
				slog.Debug("config: file changed but settings did not", "path", path)
				continue
			}
			slog.Info("config: reloaded", "path", path)
			current = next
			onChange(next)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
