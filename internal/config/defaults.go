package config

import (
	"time"

	"github.com/bnema/vidrender/internal/infrastructure/drm"
	"github.com/bnema/vidrender/internal/infrastructure/videotunnel"
	"github.com/bnema/vidrender/internal/infrastructure/westeros"
)

const (
	defaultRefreshRate  = 60
	defaultFenceTimeout = 100 * time.Millisecond
	defaultIdleInterval = 8 * time.Millisecond
	defaultRefreshRetry = 4 * time.Millisecond
)

// DefaultConfig returns the configuration used when the file sets nothing.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendDRM,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Pacing: PacingConfig{
			FenceTimeout:       defaultFenceTimeout,
			IdleInterval:       defaultIdleInterval,
			RefreshRetry:       defaultRefreshRetry,
			DefaultRefreshRate: defaultRefreshRate,
		},
		DRM: DRMConfig{
			Device:    drm.DefaultDevice,
			Connector: "hdmi",
		},
		VideoTunnel: VideoTunnelConfig{
			UnderflowExpiry: videotunnel.DefaultUnderflowExpiry,
			FenceTimeout:    videotunnel.DefaultFenceTimeout,
		},
		Westeros: WesterosConfig{
			RuntimeDir: westeros.DefaultRuntimeDir,
			SocketName: westeros.DefaultSocketName,
		},
	}
}

func (m *Manager) setDefaults() {
	d := DefaultConfig()

	m.viper.SetDefault("backend", string(d.Backend))

	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.format", d.Logging.Format)

	m.viper.SetDefault("pacing.immediate_output", d.Pacing.ImmediateOutput)
	m.viper.SetDefault("pacing.keep_last_frame", d.Pacing.KeepLastFrame)
	m.viper.SetDefault("pacing.recycle_threshold", d.Pacing.RecycleThreshold)
	m.viper.SetDefault("pacing.queue_capacity", d.Pacing.QueueCapacity)
	m.viper.SetDefault("pacing.poster_priority", d.Pacing.PosterPriority)
	m.viper.SetDefault("pacing.fence_timeout", d.Pacing.FenceTimeout.String())
	m.viper.SetDefault("pacing.idle_interval", d.Pacing.IdleInterval.String())
	m.viper.SetDefault("pacing.refresh_retry", d.Pacing.RefreshRetry.String())
	m.viper.SetDefault("pacing.default_refresh_rate", d.Pacing.DefaultRefreshRate)

	m.viper.SetDefault("drm.library", d.DRM.Library)
	m.viper.SetDefault("drm.device", d.DRM.Device)
	m.viper.SetDefault("drm.pip", d.DRM.Pip)
	m.viper.SetDefault("drm.connector", d.DRM.Connector)

	m.viper.SetDefault("videotunnel.library", d.VideoTunnel.Library)
	m.viper.SetDefault("videotunnel.tunnel_id", d.VideoTunnel.TunnelID)
	m.viper.SetDefault("videotunnel.underflow_expiry", d.VideoTunnel.UnderflowExpiry.String())
	m.viper.SetDefault("videotunnel.fence_timeout", d.VideoTunnel.FenceTimeout.String())

	m.viper.SetDefault("westeros.runtime_dir", d.Westeros.RuntimeDir)
	m.viper.SetDefault("westeros.socket_name", d.Westeros.SocketName)
	m.viper.SetDefault("westeros.pip", d.Westeros.Pip)
	m.viper.SetDefault("westeros.resource_id", d.Westeros.ResourceID)

	m.viper.SetDefault("wayland.display", d.Wayland.Display)
}
