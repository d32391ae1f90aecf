package cli

import (
	"os"

	"github.com/bnema/vidrender/internal/cli/styles"
	"github.com/bnema/vidrender/internal/config"
	"github.com/bnema/vidrender/internal/domain/build"
	"github.com/bnema/vidrender/internal/infrastructure/drm"
	"github.com/bnema/vidrender/internal/infrastructure/dynlib"
	"github.com/bnema/vidrender/internal/infrastructure/videotunnel"
	"github.com/bnema/vidrender/internal/infrastructure/wayland"
	"github.com/bnema/vidrender/internal/infrastructure/westeros"
)

// symbolTable is the part of a loaded library the probe needs.
type symbolTable interface {
	Path() string
	Missing(names []string) []string
	Close() error
}

// Prober inspects the host for what each back end needs.
type Prober struct {
	// open loads a library by explicit path, or by name and override
	// variable when path is empty.
	open func(path, name, env string) (symbolTable, error)
	stat func(path string) (os.FileInfo, error)
}

func NewProber() *Prober {
	return &Prober{open: openLibrary, stat: os.Stat}
}

func openLibrary(path, name, env string) (symbolTable, error) {
	if path != "" {
		return dynlib.OpenPath(path)
	}
	return dynlib.Open(name, env)
}

// Probe checks the back ends in kinds, or all of them when kinds is empty.
func (p *Prober) Probe(cfg *config.Config, kinds ...config.BackendKind) styles.ProbeReport {
	if len(kinds) == 0 {
		for _, name := range build.Backends() {
			kinds = append(kinds, config.BackendKind(name))
		}
	}

	var report styles.ProbeReport
	for _, kind := range kinds {
		switch kind {
		case config.BackendDRM:
			report.Libraries = append(report.Libraries,
				p.library(kind, cfg.DRM.Library, drm.LibraryName, drm.LibraryEnv, drm.Symbols))
		case config.BackendVideoTunnel:
			report.Libraries = append(report.Libraries,
				p.library(kind, cfg.VideoTunnel.Library, videotunnel.LibraryName, videotunnel.LibraryEnv, videotunnel.Symbols))
		case config.BackendWesteros:
			report.Sockets = append(report.Sockets,
				p.socket(kind, westeros.SocketPath(cfg.Westeros.RuntimeDir, cfg.Westeros.SocketName)))
		case config.BackendWayland:
			report.Sockets = append(report.Sockets,
				p.socket(kind, wayland.ResolveDisplay(cfg.Wayland.Display)))
		}
	}
	return report
}

func (p *Prober) library(kind config.BackendKind, path, name, env string, symbols []string) styles.LibraryCheck {
	check := styles.LibraryCheck{
		Backend: string(kind),
		Name:    name,
		Symbols: len(symbols),
	}
	lib, err := p.open(path, name, env)
	if err != nil {
		check.Error = err.Error()
		return check
	}
	defer lib.Close()

	check.Loaded = true
	check.Path = lib.Path()
	check.Missing = lib.Missing(symbols)
	return check
}

func (p *Prober) socket(kind config.BackendKind, path string) styles.SocketCheck {
	check := styles.SocketCheck{Backend: string(kind), Path: path}
	if fi, err := p.stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		check.Present = true
	}
	return check
}
