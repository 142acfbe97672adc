package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mlbench/loadgen/pkg/logger"
)

// DashboardWatcher hot-reloads only the ambient dashboard block
// (DashboardConfig: enabled, addr, report interval) from the config file. EffectiveSettings is immutable
// once the settings resolver constructs it, so a
// watcher is never allowed to touch it — this type exists precisely to make
// that boundary explicit rather than reusing a general-purpose reloader.
type DashboardWatcher struct {
	configPath string
	logger     logger.Logger
	mu         sync.RWMutex
	current    DashboardConfig
	watchers   []func(DashboardConfig)
	stopCh     chan struct{}
}

func NewDashboardWatcher(configPath string, initial DashboardConfig, logger logger.Logger) *DashboardWatcher {
	return &DashboardWatcher{
		configPath: configPath,
		logger:     logger,
		current:    initial,
		stopCh:     make(chan struct{}),
	}
}

// Start watches the config file and reloads DashboardConfig on write events.
func (w *DashboardWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	w.logger.Info("dashboard config watcher started", "configPath", w.configPath)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				w.logger.Info("config file changed, reloading dashboard settings", "file", event.Name)
				if err := w.reload(); err != nil {
					w.logger.Error("failed to reload dashboard settings", "error", err)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", "error", err)

		case <-ctx.Done():
			return nil

		case <-w.stopCh:
			return nil
		}
	}
}

func (w *DashboardWatcher) RegisterWatcher(callback func(DashboardConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watchers = append(w.watchers, callback)
}

func (w *DashboardWatcher) Current() DashboardConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *DashboardWatcher) Stop() {
	close(w.stopCh)
}

func (w *DashboardWatcher) reload() error {
	rs, err := Load()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.current = rs.Dashboard
	watchers := make([]func(DashboardConfig), len(w.watchers))
	copy(watchers, w.watchers)
	w.mu.Unlock()

	for _, cb := range watchers {
		go func(cb func(DashboardConfig)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("dashboard watcher callback panic", "panic", r)
				}
			}()
			cb(rs.Dashboard)
		}(cb)
	}
	return nil
}
