// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xlog "github.com/anypod/anypod/internal/log"
)

// reloadDebounce absorbs editor write bursts before reloading.
const reloadDebounce = 500 * time.Millisecond

// Holder keeps the current configuration and supports atomic hot
// reloading from file. Either the new config is valid and applied as a
// whole, or the old one stays in place.
type Holder struct {
	mu      sync.RWMutex
	current *AppConfig
	loader  *Loader
	logger  zerolog.Logger

	listenerMu sync.Mutex
	listeners  []func(*AppConfig)
}

// NewHolder creates a holder around an already-loaded configuration.
func NewHolder(initial *AppConfig, loader *Loader) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		logger:  xlog.WithComponent("config"),
	}
}

// Current returns the active configuration.
func (h *Holder) Current() *AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnReload registers a callback invoked with every successfully applied
// configuration. Callbacks run on the watcher goroutine and must not block.
func (h *Holder) OnReload(fn func(*AppConfig)) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload loads and validates the config file, swapping it in on success.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("keeping previous configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	h.current = newCfg
	h.mu.Unlock()

	h.listenerMu.Lock()
	listeners := append([]func(*AppConfig){}, h.listeners...)
	h.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(newCfg)
	}

	h.logger.Info().
		Str("event", "config.reload_success").
		Int("feeds", len(newCfg.Feeds)).
		Msg("configuration reloaded")
	return nil
}

// StartWatcher watches the config file for changes and reloads on write.
// Best effort: callers should treat a startup failure as non-fatal.
func (h *Holder) StartWatcher(ctx context.Context) error {
	cfg := h.Current()
	if cfg.ConfigFile == "" {
		return fmt.Errorf("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file: editors and orchestrators often
	// replace the file, which drops a file-level watch.
	dir := filepath.Dir(cfg.ConfigFile)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go h.watchLoop(ctx, watcher, cfg.ConfigFile)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer func() { _ = watcher.Close() }()

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn().Err(err).Str("event", "config.watch_error").Msg("config watcher error")
		case <-fire:
			if err := h.Reload(ctx); err != nil {
				h.logger.Warn().Err(err).Str("event", "config.reload_rejected").Msg("config change rejected")
			}
		}
	}
}
