package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// HotConfig wraps a Config loaded from disk and reloads it whenever the
// backing settings file changes, grounded on MatchaCake-LiveSub's
// internal/config/watcher.go.
type HotConfig struct {
	path string

	mu   sync.RWMutex
	cfg  Config
	subs []func(*Config)

	watcher *fsnotify.Watcher
}

// NewHotConfig loads path (applying defaults if absent) and returns a
// HotConfig ready to Watch.
func NewHotConfig(path string) (*HotConfig, error) {
	cfg := LoadOrDefaults(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &HotConfig{path: path, cfg: cfg, watcher: watcher}, nil
}

// Get returns a copy of the current config.
func (h *HotConfig) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// OnReload registers fn to be called, with the new config, whenever the
// settings file is reloaded.
func (h *HotConfig) OnReload(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

func (h *HotConfig) reload() {
	cfg := LoadOrDefaults(h.path)

	h.mu.Lock()
	h.cfg = cfg
	subs := append([]func(*Config){}, h.subs...)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(&cfg)
	}
}

// Watch starts watching the settings file's directory for writes and
// reloads on change. It blocks until the watcher is closed, so callers
// typically run it in a goroutine.
func (h *HotConfig) Watch() error {
	dir := dirOf(h.path)
	if err := h.watcher.Add(dir); err != nil {
		return err
	}

	for event := range h.watcher.Events {
		if event.Name != h.path {
			continue
		}
		if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
			h.reload()
		}
	}
	return nil
}

// Close stops the underlying filesystem watcher.
func (h *HotConfig) Close() error {
	return h.watcher.Close()
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
