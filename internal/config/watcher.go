package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads a Config from disk on file change, without a process
// restart. Only the YAML layers are re-read; environment variables are
// fixed for the process lifetime.
type Watcher struct {
	loader  *Loader
	current atomic.Pointer[Config]
	log     *zap.Logger

	mu        sync.Mutex
	listeners []func(*Config)

	fsw *fsnotify.Watcher
}

func NewWatcher(loader *Loader, initial *Config, log *zap.Logger) *Watcher {
	w := &Watcher{loader: loader, log: log}
	w.current.Store(initial)
	return w
}

// Current returns the most recently loaded Config. Safe for concurrent use.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Start begins watching the config directory for changes. It returns
// immediately; reloads happen on a background goroutine until Stop is
// called.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.loader.ConfigDir); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("config watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		if w.log != nil {
			w.log.Warn("config reload failed, keeping previous config", zap.Error(err))
		}
		return
	}
	w.current.Store(cfg)
	if w.log != nil {
		w.log.Info("config reloaded", zap.Strings("loaded_from", cfg.LoadedFrom))
	}

	w.mu.Lock()
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

func (w *Watcher) Stop() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}
