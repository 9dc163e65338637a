// Package hotreload re-applies settings from the config file while the
// gateway is running.
package hotreload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager wires a file watcher to a reload coordinator.
type Manager struct {
	watcher     *Watcher
	coordinator *Coordinator
	logger      *zap.Logger
	mu          sync.Mutex
	started     bool
}

// NewManager creates a manager that calls load after the watched files
// settle for the debounce window.
func NewManager(load Loader, debounce time.Duration, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("hotreload")

	watcher, err := NewWatcher(logger)
	if err != nil {
		return nil, err
	}

	coordinator := NewCoordinator(watcher.Events(), load, logger)
	coordinator.SetDebounceTime(debounce)

	return &Manager{
		watcher:     watcher,
		coordinator: coordinator,
		logger:      logger,
	}, nil
}

// AddWatch adds a file to watch.
func (m *Manager) AddWatch(path string) error {
	return m.watcher.Add(path)
}

// RemoveWatch removes a watched file.
func (m *Manager) RemoveWatch(path string) error {
	return m.watcher.Remove(path)
}

// RegisterReloadable registers a reloadable component.
func (m *Manager) RegisterReloadable(reloadable Reloadable) error {
	return m.coordinator.Register(reloadable)
}

// Start starts the hot reload system.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	if err := m.coordinator.Start(); err != nil {
		return err
	}
	m.watcher.Start()

	m.started = true
	m.logger.Info("Hot reload system started")
	return nil
}

// Stop stops the hot reload system and releases the watcher.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.coordinator.Stop()
	}
	m.watcher.Stop()
	if !m.started {
		return
	}
	m.started = false
	m.logger.Info("Hot reload system stopped")
}

// IsRunning returns whether the hot reload system is running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Reloads returns how many times a loaded configuration was applied.
func (m *Manager) Reloads() int {
	return m.coordinator.Reloads()
}

// Shutdown stops the hot reload system.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
