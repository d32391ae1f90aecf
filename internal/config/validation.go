package config

import (
	"fmt"
	"strings"
)

const (
	maxRecycleThreshold = 8
	maxPosterPriority   = 99
	maxRefreshRate      = 240
)

// validateConfig collects every problem instead of stopping at the first.
func validateConfig(config *Config) error {
	var validationErrors []string

	validationErrors = append(validationErrors, validateLogging(config)...)
	validationErrors = append(validationErrors, validatePacing(config)...)
	validationErrors = append(validationErrors, validateBackends(config)...)

	if len(validationErrors) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(validationErrors, "\n  - "))
	}
	return nil
}

func validateLogging(config *Config) []string {
	if config.Logging.Level == "" {
		return nil
	}
	if _, ok := config.LogLevel(); !ok {
		return []string{fmt.Sprintf("logging.level %q is not a level name or 0..6", config.Logging.Level)}
	}
	return nil
}

func validatePacing(config *Config) []string {
	var validationErrors []string
	p := config.Pacing
	if p.RecycleThreshold < 0 || p.RecycleThreshold > maxRecycleThreshold {
		validationErrors = append(validationErrors, fmt.Sprintf("pacing.recycle_threshold must be between 0 and %d", maxRecycleThreshold))
	}
	if p.QueueCapacity < 0 {
		validationErrors = append(validationErrors, "pacing.queue_capacity must be non-negative")
	}
	if p.PosterPriority < 0 || p.PosterPriority > maxPosterPriority {
		validationErrors = append(validationErrors, fmt.Sprintf("pacing.poster_priority must be between 0 and %d", maxPosterPriority))
	}
	if p.FenceTimeout < 0 {
		validationErrors = append(validationErrors, "pacing.fence_timeout must be non-negative")
	}
	if p.IdleInterval < 0 {
		validationErrors = append(validationErrors, "pacing.idle_interval must be non-negative")
	}
	if p.RefreshRetry < 0 {
		validationErrors = append(validationErrors, "pacing.refresh_retry must be non-negative")
	}
	if p.DefaultRefreshRate < 1 || p.DefaultRefreshRate > maxRefreshRate {
		validationErrors = append(validationErrors, fmt.Sprintf("pacing.default_refresh_rate must be between 1 and %d", maxRefreshRate))
	}
	return validationErrors
}

func validateBackends(config *Config) []string {
	var validationErrors []string
	switch config.Backend {
	case BackendDRM, BackendVideoTunnel, BackendWesteros, BackendWayland:
	default:
		validationErrors = append(validationErrors, fmt.Sprintf("backend %q is not one of drm, videotunnel, westeros, wayland", config.Backend))
	}
	switch config.DRM.Connector {
	case "", "hdmi", "hdmi-a", "hdmia", "hdmi-b", "hdmib", "lvds", "cvbs", "dummy":
	default:
		validationErrors = append(validationErrors, fmt.Sprintf("drm.connector %q is unknown", config.DRM.Connector))
	}
	if config.VideoTunnel.TunnelID < 0 {
		validationErrors = append(validationErrors, "videotunnel.tunnel_id must be non-negative")
	}
	if config.VideoTunnel.UnderflowExpiry < 0 || config.VideoTunnel.FenceTimeout < 0 {
		validationErrors = append(validationErrors, "videotunnel durations must be non-negative")
	}
	if strings.Contains(config.Westeros.SocketName, "/") {
		validationErrors = append(validationErrors, "westeros.socket_name must not contain a path separator")
	}
	return validationErrors
}
