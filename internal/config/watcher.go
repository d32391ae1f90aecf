package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/bnema/vidrender/internal/logging"
)

// Watch reloads the file whenever fsnotify reports a change. A file that
// fails validation is logged and the previous configuration stays active.
func (m *Manager) Watch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watching {
		return nil
	}

	log := logging.NewFromEnv().With().Str("component", "config").Logger()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Debug().Stringer("op", e.Op).Str("file", e.Name).Msg("config file changed")
		if err := m.Reload(); err != nil {
			log.Warn().Err(err).Msg("config reload rejected, keeping the running config")
			return
		}
		m.mu.RLock()
		pending := m.pendingRestart
		m.mu.RUnlock()
		if len(pending) > 0 {
			log.Warn().Strs("settings", pending).Msg("changed settings apply on the next start")
		}
	})
	m.viper.WatchConfig()

	m.watching = true
	return nil
}

// OnConfigChange registers fn to receive a copy of every reloaded config.
func (m *Manager) OnConfigChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Reload rereads the file now and notifies the callbacks.
func (m *Manager) Reload() error {
	m.mu.Lock()
	prev := m.config
	next, err := m.read()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.config = next
	if prev != nil {
		m.pendingRestart = append(m.pendingRestart[:0], RestartRequired(prev, next)...)
	}
	callbacks := append(([]func(*Config))(nil), m.callbacks...)
	snapshot := *next
	m.mu.Unlock()

	for _, fn := range callbacks {
		c := snapshot
		fn(&c)
	}
	return nil
}

// PendingRestart lists the settings changed by the last reload that the
// running process cannot apply.
func (m *Manager) PendingRestart() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.pendingRestart...)
}

// read must be called with the lock held.
func (m *Manager) read() (*Config, error) {
	if err := m.viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w\nCheck the file format (must be valid TOML) and permissions", m.ConfigFile(), err)
	}
	config := &Config{}
	if err := m.viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file at %s: %w", m.ConfigFile(), err)
	}
	normalizeConfig(config)
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// RestartRequired names the settings that differ between prev and next and
// are only read when a display starts. The log level and immediate output
// are applied live and never listed.
func RestartRequired(prev, next *Config) []string {
	var changed []string
	diff := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	diff("backend", prev.Backend != next.Backend)
	diff("logging.format", prev.Logging.Format != next.Logging.Format)

	a, b := prev.Pacing, next.Pacing
	a.ImmediateOutput, b.ImmediateOutput = false, false
	diff("pacing", a != b)

	diff("drm", prev.DRM != next.DRM)
	diff("videotunnel", prev.VideoTunnel != next.VideoTunnel)
	diff("westeros", prev.Westeros != next.Westeros)
	diff("wayland", prev.Wayland != next.Wayland)
	return changed
}
