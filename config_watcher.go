package main

import (
	"path/filepath"
	"sync"
	"time"

	"Toyol/pkg/settings"

	"github.com/fsnotify/fsnotify"
)

const configDebounce = 300 * time.Millisecond

// ConfigWatcher reloads the configuration file into the store when it changes
// on disk. The enabled flag is left alone: only the filters are replaced.
type ConfigWatcher struct {
	path     string
	store    *settings.Store
	debounce time.Duration
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex

	// reloaded is called after every reload attempt
	reloaded func(err error)
}

// NewConfigWatcher creates a watcher for path
func NewConfigWatcher(path string, store *settings.Store) *ConfigWatcher {
	return &ConfigWatcher{
		path:     path,
		store:    store,
		debounce: configDebounce,
	}
}

// Start begins watching. The parent directory is watched so that editors
// replacing the file through a rename are still seen.
func (w *ConfigWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	LogInfo("config_watcher").Str("path", w.path).Msg("Started watching configuration file")

	go w.watch(watcher, w.stopCh, w.doneCh)
	return nil
}

// Stop stops watching and waits for the watch loop to exit
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
	w.watcher = nil
	LogInfo("config_watcher").Msg("Stopped watching configuration file")
}

func (w *ConfigWatcher) watch(watcher *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			LogError("config_watcher").Err(err).Msg("Watcher error")
		}
	}
}

// reload replaces the filters with the file's content. A file that fails to
// parse or disappeared keeps the previous configuration.
func (w *ConfigWatcher) reload() {
	cfg, err := settings.LoadFile(w.path)
	if err != nil {
		LogWarn("config_watcher").Err(err).Msg("Configuration reload failed, keeping previous")
	} else {
		version := w.store.ReplaceFilters(cfg)
		LogUserAction(ActionConfigReload, map[string]interface{}{
			"path":    w.path,
			"version": int64(version),
		})
	}
	if w.reloaded != nil {
		w.reloaded(err)
	}
}
