package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 200 * time.Millisecond

// Watch reloads the configuration file at path whenever it changes and hands
// each successfully validated result to onChange. Reload failures go to
// onError and the previous configuration stays in effect. Watch blocks until
// ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(Config), onError func(error)) error {
	if path == "" {
		path = DefaultFileName
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fsW.Close()

	// Editors replace files by rename, so the directory is watched instead.
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		cfg, err := Load(abs)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onChange != nil {
			onChange(cfg)
		}
	}
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
		case event, ok := <-fsW.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, reload)
			mu.Unlock()
		case err, ok := <-fsW.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}
