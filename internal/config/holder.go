package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 500 * time.Millisecond

// Holder owns the live configuration of a long-running process and swaps
// it atomically on reload. A reload that fails to load or validate keeps
// the previous configuration in place.
type Holder struct {
	mu        sync.RWMutex
	current   Config
	path      string
	listeners []chan<- Config
	log       zerolog.Logger
}

// NewHolder wraps an already-loaded configuration. path may be empty when
// the process runs on defaults and environment only; Reload is then a
// no-op beyond re-reading the environment.
func NewHolder(cfg Config, path string, logger zerolog.Logger) *Holder {
	return &Holder{
		current: cfg,
		path:    path,
		log:     logger,
	}
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// RegisterListener adds a channel that receives the new configuration
// after every successful reload. Sends are non-blocking; a slow listener
// misses intermediate snapshots and still sees the latest on its next
// receive.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload re-runs the full load pipeline and swaps the result in. The old
// configuration survives any failure.
func (h *Holder) Reload() error {
	cfg, err := Load(h.path)
	if err != nil {
		h.log.Error().Err(err).Str("event", "config.reload_rejected").Str("path", h.path).
			Msg("reload failed, keeping previous config")
		return err
	}

	h.mu.Lock()
	h.current = cfg
	listeners := make([]chan<- Config, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	h.log.Info().Str("event", "config.reloaded").Str("path", h.path).Msg("configuration reloaded")

	for _, ch := range listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
	return nil
}

// StartWatcher reloads the configuration whenever its file changes on
// disk. It returns once the watcher is armed; the watch loop runs until
// ctx is cancelled. Without a config file there is nothing to watch.
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}

	// Watch the directory, not the file: atomic writers replace the file
	// by rename, which drops a direct file watch.
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go h.watchLoop(ctx, watcher)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	target := filepath.Clean(h.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn().Err(err).Str("event", "config.watch_error").Msg("config watcher error")
		case <-debounce.C:
			// Reload logs its own failure and keeps the old snapshot.
			_ = h.Reload()
		}
	}
}
