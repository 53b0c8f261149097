package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"m365gate/pkg/logging"
)

const (
	// DefaultDebounceInterval is the time to wait after the last change before
	// reloading, so editors that write in several steps trigger one reload.
	DefaultDebounceInterval = 500 * time.Millisecond

	// DefaultPollInterval is used when fsnotify is unavailable.
	DefaultPollInterval = 5 * time.Second
)

// Watcher follows config.yaml and hands freshly loaded configurations to
// OnReload. It uses fsnotify with a polling fallback.
type Watcher struct {
	mu sync.Mutex

	configPath   string
	pollInterval time.Duration
	debounce     time.Duration
	onReload     func(Config)

	fsWatcher   *fsnotify.Watcher
	stopCh      chan struct{}
	running     bool
	lastModTime time.Time

	debounceTimer *time.Timer
	debounceMu    sync.Mutex
}

// NewWatcher creates a watcher for the config.yaml inside configPath.
func NewWatcher(configPath string, onReload func(Config)) *Watcher {
	return &Watcher{
		configPath:   configPath,
		pollInterval: DefaultPollInterval,
		debounce:     DefaultDebounceInterval,
		onReload:     onReload,
	}
}

// Start begins watching. It is a no-op when already running.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	w.stopCh = make(chan struct{})
	w.running = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Config", "fsnotify not available, falling back to polling: %v", err)
		go w.pollForChanges(w.stopCh)
		return nil
	}

	// Watch the directory: editors often replace the file via rename.
	if err := watcher.Add(w.configPath); err != nil {
		logging.Warn("Config", "Failed to watch %s, falling back to polling: %v", w.configPath, err)
		watcher.Close()
		go w.pollForChanges(w.stopCh)
		return nil
	}
	w.fsWatcher = watcher

	go w.processEvents(w.stopCh, watcher.Events, watcher.Errors)

	logging.Info("Config", "Watching %s for configuration changes", FilePath(w.configPath))
	return nil
}

// Stop ends watching and cancels any pending reload.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
		w.fsWatcher = nil
	}
	w.mu.Unlock()

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
}

func (w *Watcher) processEvents(stopCh <-chan struct{}, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-stopCh:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-errs:
			if !ok {
				return
			}
			logging.Error("Config", err, "fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != configFileName {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	logging.Debug("Config", "Configuration file changed: %s", event.Name)
	w.triggerReloadDebounced()
}

func (w *Watcher) triggerReloadDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running || w.onReload == nil {
		return
	}

	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		logging.Error("Config", err, "Ignoring configuration change")
		return
	}
	if err := cfg.Validate(); err != nil {
		logging.Error("Config", err, "Ignoring invalid configuration change")
		return
	}
	w.onReload(cfg)
}

func (w *Watcher) pollForChanges(stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.lastModTime = w.modTime()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if mt := w.modTime(); mt.After(w.lastModTime) {
				w.lastModTime = mt
				logging.Debug("Config", "Configuration change detected via polling")
				w.triggerReloadDebounced()
			}
		}
	}
}

func (w *Watcher) modTime() time.Time {
	info, err := os.Stat(FilePath(w.configPath))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
