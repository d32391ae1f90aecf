package config

import (
	"os"
	"path/filepath"
)

const (
	appName = "vidrender"
	// SystemConfigDir is used by services that run without a home directory.
	SystemConfigDir = "/etc/" + appName
)

// GetConfigDir resolves the config directory, first match wins:
// $VIDRENDER_CONFIG_DIR, $XDG_CONFIG_HOME/vidrender, ~/.config/vidrender,
// then SystemConfigDir.
func GetConfigDir() (string, error) {
	if dir := os.Getenv("VIDRENDER_CONFIG_DIR"); dir != "" {
		return filepath.Clean(dir), nil
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" || home == "/" {
		return SystemConfigDir, nil
	}
	return filepath.Join(home, ".config", appName), nil
}

// GetConfigFile returns the path to config.toml inside GetConfigDir.
func GetConfigFile() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
