// Package logging sets up zerolog for the renderer and owns the process-wide
// logging state shared by every coordinator instance.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration
type Config struct {
	Level      zerolog.Level
	Format     string // "json" or "console"
	TimeFormat string
	Output     io.Writer // defaults to stderr
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Level:      zerolog.InfoLevel,
		Format:     "console",
		TimeFormat: time.RFC3339Nano,
	}
}

// New creates a new zerolog logger with the given configuration
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var output io.Writer = out
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: cfg.TimeFormat,
		}
	}

	return zerolog.New(output).
		Level(cfg.Level).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps trace, debug, info, warn and error to zerolog levels.
func ParseLevel(level string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	}
	return zerolog.InfoLevel, false
}

// LevelFromNumeric maps the vendor numeric scale (0 error .. 4 trace, values
// above 4 are clamped) used by VIDEO_RENDER_LOG_LEVEL and the compositor
// debug message.
func LevelFromNumeric(n int) zerolog.Level {
	switch {
	case n <= 0:
		return zerolog.ErrorLevel
	case n == 1:
		return zerolog.WarnLevel
	case n == 2:
		return zerolog.InfoLevel
	case n == 3:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// NewFromEnv creates a logger based on environment variables
// VIDRENDER_LOG_LEVEL: trace, debug, info, warn, error (default: info)
// VIDRENDER_LOG_FORMAT: json, console (default: console)
// VIDEO_RENDER_LOG_LEVEL: numeric 0..6, used when VIDRENDER_LOG_LEVEL is unset
func NewFromEnv() zerolog.Logger {
	return New(ConfigFromEnv())
}

// ConfigFromEnv reads the environment overrides on top of DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if level, ok := ParseLevel(os.Getenv("VIDRENDER_LOG_LEVEL")); ok {
		cfg.Level = level
	} else if raw := os.Getenv("VIDEO_RENDER_LOG_LEVEL"); raw != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			cfg.Level = LevelFromNumeric(n)
		}
	}

	if format := os.Getenv("VIDRENDER_LOG_FORMAT"); format != "" {
		switch format {
		case "json", "console":
			cfg.Format = format
		}
	}

	return cfg
}
