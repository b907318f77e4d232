package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDelay = 200 * time.Millisecond

// Watcher reloads the config when any of its source files change and hands
// the new config to registered callbacks. A reload that fails to load or
// validate is logged and the previous config stays current.
type Watcher struct {
	path   string
	logger *slog.Logger
	delay  time.Duration

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewWatcher creates a Watcher for the config at path, starting from cfg
// (the result of an earlier Load of path).
func NewWatcher(path string, cfg *Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{path: path, logger: logger, delay: defaultReloadDelay, current: cfg}
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Reload re-reads the config immediately.
func (w *Watcher) Reload() (*Config, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(*Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

// Run watches the directories of every source file until ctx is done.
// Directories are watched rather than files so that editors which replace
// the file on save are still seen. Bursts of events are coalesced.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fw.Close()

	watched := make(map[string]bool)
	for _, src := range w.Config().SourceFiles {
		dir := filepath.Dir(src)
		if watched[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("config watcher add %s: %w", dir, err)
		}
		watched[dir] = true
	}

	timer := time.NewTimer(w.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			timer.Reset(w.delay)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-timer.C:
			if _, err := w.Reload(); err != nil {
				w.logger.Error("config reload failed, keeping previous config", "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(ev.Name)
	if filepath.Base(name) == ChecksumFile {
		return true
	}
	for _, src := range w.Config().SourceFiles {
		if src == name {
			return true
		}
	}
	return false
}
