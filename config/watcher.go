package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
)

// Watch watches the given config files and calls onChange with the file that
// changed once writes have settled for the debounce interval. It watches the
// parent directories because editors commonly replace files on save.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, files []string, debounce time.Duration, onChange func(file string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrapf(err, "failed to create config watcher")
	}
	defer watcher.Close()

	logger := logging.NewLogger("config-watcher")
	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		targets[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logger.WithError(err).Warnf("cannot watch %s", dir)
			continue
		}
		dirs[dir] = true
	}
	if len(dirs) == 0 {
		return errors.New("no config directory could be watched")
	}

	var (
		mu      sync.Mutex
		timer   *time.Timer
		pending string
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			pending = event.Name
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				mu.Lock()
				file := pending
				mu.Unlock()
				logger.WithField("file", file).Debug("config changed")
				onChange(file)
			})
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}
