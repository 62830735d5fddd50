package config

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeCallback is invoked with the previous and new configuration after
// a successful reload.
type ChangeCallback func(oldConfig, newConfig *Config)

// Manager holds the current configuration and notifies registered
// callbacks when the config file changes on disk. A reload does not reach
// an already-running coordinator, which captured its Config by value at
// construction.
type Manager struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	callbacks []ChangeCallback
	logger    *slog.Logger
}

// NewManager wraps an already-loaded configuration.
func NewManager(cfg *Config, path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{current: cfg, path: path, logger: logger}
}

// GetConfig returns the current configuration. The pointer must be
// treated as immutable; a reload swaps the whole value.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnConfigChange registers cb to run after each successful reload.
func (m *Manager) OnConfigChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// SetConfig validates and installs cfg, firing every registered callback.
// Used by the watcher and by tests.
func (m *Manager) SetConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.current
	m.current = cfg
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, cfg)
	}
	return nil
}

// Watch re-reads the config file whenever it changes on disk. Invalid
// reloads are logged and discarded; the previous configuration stays
// active.
func (m *Manager) Watch() {
	v := viper.New()
	v.SetConfigFile(m.path)
	v.SetConfigType("yaml")

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := Load(m.path)
		if err != nil {
			m.logger.Error("config reload failed, keeping previous config", "path", m.path, "error", err)
			return
		}
		if err := m.SetConfig(cfg); err != nil {
			m.logger.Error("config reload rejected", "path", m.path, "error", err)
			return
		}
		m.logger.Info("configuration reloaded", "path", m.path)
	})
	v.WatchConfig()
}
