package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wudi/hyperfast/config"
	"github.com/wudi/hyperfast/internal/logging"
	"go.uber.org/zap"
)

// LoadFunc produces a fresh configuration, typically by re-reading files.
type LoadFunc func() (*config.Config, error)

// Watcher watches configuration files for changes
type Watcher struct {
	watcher    *fsnotify.Watcher
	load       LoadFunc
	paths      []string
	callbacks  []func(*config.Config)
	mu         sync.RWMutex
	debounce   time.Duration
	lastConfig *config.Config
	done       chan struct{}
}

// NewWatcher creates a watcher over paths. load is called once immediately
// and again after every debounced change.
func NewWatcher(paths []string, load LoadFunc) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		load:     load,
		paths:    paths,
		debounce: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}

	// Load initial config
	cfg, err := load()
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.lastConfig = cfg

	return w, nil
}

// NewFileWatcher watches a single configuration file.
func NewFileWatcher(path string) (*Watcher, error) {
	loader := NewLoader()
	return NewWatcher([]string{path}, func() (*config.Config, error) {
		return loader.Load(path)
	})
}

// OnChange registers a callback for config changes
func (w *Watcher) OnChange(callback func(*config.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for configuration changes
func (w *Watcher) Start() error {
	// Watch the directories so editors that replace files are still seen
	seen := make(map[string]bool)
	for _, p := range w.paths {
		dir := filepath.Dir(p)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}

	go w.watch()
	return nil
}

func (w *Watcher) watches(name string) bool {
	base := filepath.Base(name)
	for _, p := range w.paths {
		if filepath.Base(p) == base {
			return true
		}
	}
	return false
}

// watch monitors for file changes
func (w *Watcher) watch() {
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.watches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Debounce rapid events
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.getDebounce(), w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", zap.Error(err))

		case <-w.done:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// reload loads the config and notifies callbacks
func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		logging.Error("failed to reload config", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.lastConfig = cfg
	callbacks := make([]func(*config.Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	logging.Info("configuration reloaded", zap.Strings("paths", w.paths))

	for _, cb := range callbacks {
		cb(cfg)
	}
}

// GetConfig returns the current configuration
func (w *Watcher) GetConfig() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastConfig
}

// Stop stops watching for changes
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.watcher.Close()
}

// SetDebounce sets the debounce duration for file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

func (w *Watcher) getDebounce() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.debounce
}
