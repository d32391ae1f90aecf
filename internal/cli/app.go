// Package cli wires configuration, logging and the display pipeline for the
// vidrender command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/bnema/vidrender/internal/cli/styles"
	"github.com/bnema/vidrender/internal/config"
	"github.com/bnema/vidrender/internal/domain/build"
	"github.com/bnema/vidrender/internal/logging"
)

// App holds CLI dependencies.
type App struct {
	Config    *config.Config
	Manager   *config.Manager
	Theme     *styles.Theme
	BuildInfo build.Info

	// Context with logger
	ctx context.Context
	log zerolog.Logger
}

// NewApp loads the configuration from dir (the XDG location when empty)
// and initialises the logging registry from it.
func NewApp(dir string) (*App, error) {
	var (
		mgr *config.Manager
		err error
	)
	if dir != "" {
		mgr, err = config.NewManagerAt(dir)
	} else {
		mgr, err = config.NewManager()
	}
	if err != nil {
		return nil, fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	logCfg := cfg.LoggingSetup()
	logCfg.TimeFormat = "15:04:05"
	logCfg.Output = os.Stderr
	logging.Init(logCfg)

	logger := logging.New(logCfg).With().Str("component", "cli").Logger()
	logger.Debug().Str("config", mgr.ConfigFile()).Str("backend", string(cfg.Backend)).Msg("configuration loaded")

	return &App{
		Config:  cfg,
		Manager: mgr,
		Theme:   styles.NewTheme(),
		ctx:     logging.WithContext(context.Background(), logger),
		log:     logger,
	}, nil
}

// Close releases all resources.
func (a *App) Close() error {
	logging.Shutdown()
	return nil
}

// Ctx returns the application context with logger.
func (a *App) Ctx() context.Context {
	return a.ctx
}
