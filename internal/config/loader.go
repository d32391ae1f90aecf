package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Manager owns the viper instance behind config.toml and the last valid Config.
type Manager struct {
	config    *Config
	viper     *viper.Viper
	dir       string
	mu        sync.RWMutex
	callbacks []func(*Config)
	watching  bool

	pendingRestart []string
}

// NewManager reads from GetConfigDir.
func NewManager() (*Manager, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine config directory: %w\nSet VIDRENDER_CONFIG_DIR or pass --config", err)
	}
	return NewManagerAt(configDir)
}

// NewManagerAt reads config.toml from dir.
func NewManagerAt(dir string) (*Manager, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)

	// VIDRENDER_PACING_IMMEDIATE_OUTPUT and friends.
	v.SetEnvPrefix("VIDRENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("logging.level", "VIDRENDER_LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("failed to bind VIDRENDER_LOG_LEVEL: %w", err)
	}
	if err := v.BindEnv("logging.format", "VIDRENDER_LOG_FORMAT"); err != nil {
		return nil, fmt.Errorf("failed to bind VIDRENDER_LOG_FORMAT: %w", err)
	}
	if err := v.BindEnv("videotunnel.tunnel_id", "VIDRENDER_VIDEOTUNNEL_ID"); err != nil {
		return nil, fmt.Errorf("failed to bind VIDRENDER_VIDEOTUNNEL_ID: %w", err)
	}

	return &Manager{
		viper:     v,
		dir:       dir,
		callbacks: make([]func(*Config), 0),
	}, nil
}

// Load reads config.toml, writing the defaults there on first run, then
// applies environment overrides, normalizes and validates.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, dirPerm); err != nil {
		return fmt.Errorf("failed to ensure config directory: %w", err)
	}
	m.setDefaults()

	if err := m.seed(); err != nil {
		return err
	}
	config, err := m.read()
	if err != nil {
		return err
	}
	m.config = config
	return nil
}

// seed writes the defaults to config.toml unless a file is already there.
func (m *Manager) seed() error {
	file := filepath.Join(m.dir, "config.toml")
	_, err := os.Stat(file)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to stat %s: %w", file, err)
	}

	if err := m.viper.SafeWriteConfigAs(file); err != nil {
		return fmt.Errorf("failed to create default config at %s: %w", file, err)
	}
	return nil
}

func normalizeConfig(config *Config) {
	switch BackendKind(strings.ToLower(strings.TrimSpace(string(config.Backend)))) {
	case BackendVideoTunnel:
		config.Backend = BackendVideoTunnel
	case BackendWesteros:
		config.Backend = BackendWesteros
	case BackendWayland:
		config.Backend = BackendWayland
	case BackendDRM, "":
		config.Backend = BackendDRM
	}

	switch strings.ToLower(config.Logging.Format) {
	case "json":
		config.Logging.Format = "json"
	default:
		config.Logging.Format = "console"
	}
	config.Logging.Level = strings.ToLower(strings.TrimSpace(config.Logging.Level))

	config.DRM.Connector = strings.ToLower(strings.TrimSpace(config.DRM.Connector))
	if config.DRM.Device == "" {
		config.DRM.Device = DefaultConfig().DRM.Device
	}
	if config.Westeros.SocketName == "" {
		config.Westeros.SocketName = DefaultConfig().Westeros.SocketName
	}
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return DefaultConfig()
	}
	configCopy := *m.config
	return &configCopy
}

// ConfigFile is the path of the TOML file the manager reads.
func (m *Manager) ConfigFile() string {
	if used := m.viper.ConfigFileUsed(); used != "" {
		return used
	}
	return filepath.Join(m.dir, "config.toml")
}
