package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/config"
	"github.com/bnema/vidrender/internal/infrastructure/drm"
	"github.com/bnema/vidrender/internal/infrastructure/videotunnel"
	"github.com/bnema/vidrender/internal/infrastructure/wayland"
	"github.com/bnema/vidrender/internal/infrastructure/westeros"
)

// NewBackend builds the closed back end cfg.Backend selects.
// log should already carry the backend field.
func NewBackend(cfg *config.Config, log zerolog.Logger) (backend.Backend, error) {
	switch cfg.Backend {
	case config.BackendDRM:
		return drm.New(drm.Config{
			Device:      cfg.DRM.Device,
			Connector:   drm.ParseConnector(cfg.DRM.Connector),
			Pip:         cfg.DRM.Pip,
			RefreshRate: cfg.Pacing.DefaultRefreshRate,
		}, drm.WithLibraryPath(cfg.DRM.Library), drm.WithLogger(log)), nil

	case config.BackendVideoTunnel:
		return videotunnel.New(videotunnel.Config{
			TunnelID:        cfg.VideoTunnel.TunnelID,
			UnderflowExpiry: cfg.VideoTunnel.UnderflowExpiry,
			FenceTimeout:    cfg.VideoTunnel.FenceTimeout,
		}, videotunnel.WithLibraryPath(cfg.VideoTunnel.Library), videotunnel.WithLogger(log)), nil

	case config.BackendWesteros:
		return westeros.New(westeros.Config{
			RuntimeDir: cfg.Westeros.RuntimeDir,
			SocketName: cfg.Westeros.SocketName,
			Pip:        cfg.Westeros.Pip,
			ResourceID: cfg.Westeros.ResourceID,
		}, westeros.WithLogger(log)), nil

	case config.BackendWayland:
		return wayland.New(wayland.WithLogger(log), wayland.WithDisplay(cfg.Wayland.Display)), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
