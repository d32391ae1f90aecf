// Package config loads the renderer configuration from TOML and the
// environment and reloads it when the file changes.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/vidrender/internal/logging"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// BackendKind names the back end a coordinator drives.
type BackendKind string

const (
	BackendDRM         BackendKind = "drm"
	BackendVideoTunnel BackendKind = "videotunnel"
	BackendWesteros    BackendKind = "westeros"
	BackendWayland     BackendKind = "wayland"
)

// Config is the complete renderer configuration.
type Config struct {
	Backend     BackendKind       `mapstructure:"backend" toml:"backend" json:"backend" jsonschema:"enum=drm,enum=videotunnel,enum=westeros,enum=wayland,default=drm"`
	Logging     LoggingConfig     `mapstructure:"logging" toml:"logging" json:"logging"`
	Pacing      PacingConfig      `mapstructure:"pacing" toml:"pacing" json:"pacing"`
	DRM         DRMConfig         `mapstructure:"drm" toml:"drm" json:"drm"`
	VideoTunnel VideoTunnelConfig `mapstructure:"videotunnel" toml:"videotunnel" json:"videotunnel"`
	Westeros    WesterosConfig    `mapstructure:"westeros" toml:"westeros" json:"westeros"`
	Wayland     WaylandConfig     `mapstructure:"wayland" toml:"wayland" json:"wayland"`
}

type LoggingConfig struct {
	// Level is a zerolog level name or a vendor numeric level 0..6.
	Level  string `mapstructure:"level" toml:"level" json:"level" jsonschema:"default=info"`
	Format string `mapstructure:"format" toml:"format" json:"format" jsonschema:"enum=console,enum=json,default=console"`
}

// PacingConfig tunes the poster and recycler. Zero durations select the
// pipeline defaults.
type PacingConfig struct {
	ImmediateOutput    bool          `mapstructure:"immediate_output" toml:"immediate_output" json:"immediate_output"`
	KeepLastFrame      bool          `mapstructure:"keep_last_frame" toml:"keep_last_frame" json:"keep_last_frame"`
	RecycleThreshold   int           `mapstructure:"recycle_threshold" toml:"recycle_threshold" json:"recycle_threshold" jsonschema:"minimum=0,maximum=8"`
	QueueCapacity      int           `mapstructure:"queue_capacity" toml:"queue_capacity" json:"queue_capacity" jsonschema:"minimum=0"`
	PosterPriority     int           `mapstructure:"poster_priority" toml:"poster_priority" json:"poster_priority" jsonschema:"minimum=0,maximum=99"`
	FenceTimeout       time.Duration `mapstructure:"fence_timeout" toml:"fence_timeout" json:"fence_timeout"`
	IdleInterval       time.Duration `mapstructure:"idle_interval" toml:"idle_interval" json:"idle_interval"`
	RefreshRetry       time.Duration `mapstructure:"refresh_retry" toml:"refresh_retry" json:"refresh_retry"`
	DefaultRefreshRate int           `mapstructure:"default_refresh_rate" toml:"default_refresh_rate" json:"default_refresh_rate" jsonschema:"minimum=1,maximum=240"`
}

type DRMConfig struct {
	// Library overrides the libdrm_meson search path.
	Library   string `mapstructure:"library" toml:"library" json:"library"`
	Device    string `mapstructure:"device" toml:"device" json:"device"`
	Pip       bool   `mapstructure:"pip" toml:"pip" json:"pip"`
	Connector string `mapstructure:"connector" toml:"connector" json:"connector" jsonschema:"enum=hdmi,enum=hdmi-b,enum=lvds,enum=cvbs,enum=dummy,default=hdmi"`
}

type VideoTunnelConfig struct {
	Library         string        `mapstructure:"library" toml:"library" json:"library"`
	TunnelID        int           `mapstructure:"tunnel_id" toml:"tunnel_id" json:"tunnel_id" jsonschema:"minimum=0"`
	UnderflowExpiry time.Duration `mapstructure:"underflow_expiry" toml:"underflow_expiry" json:"underflow_expiry"`
	FenceTimeout    time.Duration `mapstructure:"fence_timeout" toml:"fence_timeout" json:"fence_timeout"`
}

type WesterosConfig struct {
	RuntimeDir string `mapstructure:"runtime_dir" toml:"runtime_dir" json:"runtime_dir"`
	SocketName string `mapstructure:"socket_name" toml:"socket_name" json:"socket_name"`
	Pip        bool   `mapstructure:"pip" toml:"pip" json:"pip"`
	ResourceID uint32 `mapstructure:"resource_id" toml:"resource_id" json:"resource_id"`
}

type WaylandConfig struct {
	// Display is a socket name or absolute path; empty uses WAYLAND_DISPLAY.
	Display string `mapstructure:"display" toml:"display" json:"display"`
}

// LogLevel resolves Logging.Level, accepting names and vendor numbers.
func (c *Config) LogLevel() (zerolog.Level, bool) {
	if level, ok := logging.ParseLevel(c.Logging.Level); ok {
		return level, true
	}
	if n, err := strconv.Atoi(strings.TrimSpace(c.Logging.Level)); err == nil && n >= 0 {
		return logging.LevelFromNumeric(n), true
	}
	return zerolog.InfoLevel, false
}

// LoggingSetup returns the logging configuration for this Config.
func (c *Config) LoggingSetup() logging.Config {
	cfg := logging.DefaultConfig()
	if level, ok := c.LogLevel(); ok {
		cfg.Level = level
	}
	if c.Logging.Format != "" {
		cfg.Format = c.Logging.Format
	}
	return cfg
}
