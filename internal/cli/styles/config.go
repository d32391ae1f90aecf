package styles

import (
	"fmt"
	"strings"

	"github.com/bnema/vidrender/internal/config"
)

// ConfigRenderer renders config status messages with styled output.
type ConfigRenderer struct {
	theme *Theme
}

// NewConfigRenderer creates a new config renderer with the given theme.
func NewConfigRenderer(theme *Theme) *ConfigRenderer {
	return &ConfigRenderer{theme: theme}
}

// RenderConfigInfo renders the config file path.
func (r *ConfigRenderer) RenderConfigInfo(path string) string {
	return fmt.Sprintf(
		"\n  %s Config %s\n",
		r.theme.Icon.Render(IconConfig),
		r.theme.Subtle.Render(path),
	)
}

// setting is one rendered key/value line.
type setting struct {
	key   string
	value any
}

// RenderSettings renders the effective configuration grouped by section.
// Only the section of the selected back end is shown.
func (r *ConfigRenderer) RenderSettings(cfg *config.Config) string {
	sections := []struct {
		name     string
		settings []setting
	}{
		{"general", []setting{
			{"backend", cfg.Backend},
			{"logging.level", cfg.Logging.Level},
			{"logging.format", cfg.Logging.Format},
		}},
		{"pacing", []setting{
			{"immediate_output", cfg.Pacing.ImmediateOutput},
			{"keep_last_frame", cfg.Pacing.KeepLastFrame},
			{"recycle_threshold", cfg.Pacing.RecycleThreshold},
			{"queue_capacity", cfg.Pacing.QueueCapacity},
			{"poster_priority", cfg.Pacing.PosterPriority},
			{"fence_timeout", cfg.Pacing.FenceTimeout},
			{"idle_interval", cfg.Pacing.IdleInterval},
			{"refresh_retry", cfg.Pacing.RefreshRetry},
			{"default_refresh_rate", cfg.Pacing.DefaultRefreshRate},
		}},
		{string(cfg.Backend), backendSettings(cfg)},
	}

	var sb strings.Builder
	for _, sec := range sections {
		if len(sec.settings) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n  %s\n", r.theme.Subtitle.Render("["+sec.name+"]")))
		for _, s := range sec.settings {
			sb.WriteString(fmt.Sprintf(
				"    %s %s %s\n",
				r.theme.Highlight.Render(IconCursor),
				r.theme.Normal.Render(s.key),
				r.theme.Subtle.Render(formatValue(s.value)),
			))
		}
	}
	return sb.String()
}

func backendSettings(cfg *config.Config) []setting {
	switch cfg.Backend {
	case config.BackendDRM:
		return []setting{
			{"library", cfg.DRM.Library},
			{"device", cfg.DRM.Device},
			{"connector", cfg.DRM.Connector},
			{"pip", cfg.DRM.Pip},
		}
	case config.BackendVideoTunnel:
		return []setting{
			{"library", cfg.VideoTunnel.Library},
			{"tunnel_id", cfg.VideoTunnel.TunnelID},
			{"underflow_expiry", cfg.VideoTunnel.UnderflowExpiry},
			{"fence_timeout", cfg.VideoTunnel.FenceTimeout},
		}
	case config.BackendWesteros:
		return []setting{
			{"runtime_dir", cfg.Westeros.RuntimeDir},
			{"socket_name", cfg.Westeros.SocketName},
			{"pip", cfg.Westeros.Pip},
			{"resource_id", cfg.Westeros.ResourceID},
		}
	case config.BackendWayland:
		return []setting{{"display", cfg.Wayland.Display}}
	}
	return nil
}

func formatValue(v any) string {
	if s, ok := v.(string); ok && s == "" {
		return "(default)"
	}
	return fmt.Sprint(v)
}

// RenderSchemaWritten renders the success message after writing the schema.
func (r *ConfigRenderer) RenderSchemaWritten(path string) string {
	return fmt.Sprintf(
		"\n  %s Schema written to %s\n",
		r.theme.SuccessStyle.Render(IconCheck),
		r.theme.Subtle.Render(path),
	)
}

// RenderError renders an error message.
func (r *ConfigRenderer) RenderError(err error) string {
	return fmt.Sprintf(
		"\n  %s Config error: %v\n",
		r.theme.ErrorStyle.Render(IconX),
		err,
	)
}
