package cli

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/vidrender/internal/backend"
	"github.com/bnema/vidrender/internal/config"
	"github.com/bnema/vidrender/internal/domain/entity"
	"github.com/bnema/vidrender/internal/infrastructure/drm"
	"github.com/bnema/vidrender/internal/infrastructure/videotunnel"
	"github.com/bnema/vidrender/internal/infrastructure/wayland"
	"github.com/bnema/vidrender/internal/infrastructure/westeros"
)

func TestNewApp_LoadsConfigDir(t *testing.T) {
	dir := t.TempDir()
	app, err := NewApp(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	assert.Equal(t, config.BackendDRM, app.Config.Backend)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.NotNil(t, app.Theme)
	assert.NotNil(t, app.Ctx())
}

func TestNewApp_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("backend = \"vga\"\n"), 0o644))

	_, err := NewApp(dir)
	assert.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	cases := map[config.BackendKind]any{
		config.BackendDRM:         &drm.Backend{},
		config.BackendVideoTunnel: &videotunnel.Backend{},
		config.BackendWesteros:    &westeros.Backend{},
		config.BackendWayland:     &wayland.Backend{},
	}
	for kind, want := range cases {
		t.Run(string(kind), func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Backend = kind

			b, err := NewBackend(cfg, zerolog.Nop())
			require.NoError(t, err)
			assert.IsType(t, want, b)
			assert.Equal(t, string(kind), string(b.Kind()))
		})
	}

	cfg := config.DefaultConfig()
	cfg.Backend = "vga"
	_, err := NewBackend(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "vga")
}

type fakeLib struct {
	path    string
	present map[string]bool
	closed  bool
}

func (f *fakeLib) Path() string { return f.path }

func (f *fakeLib) Missing(names []string) []string {
	var out []string
	for _, n := range names {
		if !f.present[n] {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeLib) Close() error {
	f.closed = true
	return nil
}

func TestProber_Libraries(t *testing.T) {
	present := make(map[string]bool)
	for _, s := range drm.Symbols[1:] {
		present[s] = true
	}
	lib := &fakeLib{path: "/vendor/lib/libdrm_meson.so", present: present}

	var opened []string
	p := &Prober{
		open: func(path, name, env string) (symbolTable, error) {
			opened = append(opened, path+"|"+name+"|"+env)
			if name == videotunnel.LibraryName {
				return nil, errors.New("libvideotunnel.so: cannot open shared object file")
			}
			return lib, nil
		},
		stat: os.Stat,
	}

	cfg := config.DefaultConfig()
	cfg.DRM.Library = "/vendor/lib/libdrm_meson.so"
	report := p.Probe(cfg, config.BackendDRM, config.BackendVideoTunnel)

	require.Len(t, report.Libraries, 2)
	d := report.Libraries[0]
	assert.True(t, d.Loaded)
	assert.Equal(t, lib.path, d.Path)
	assert.Equal(t, len(drm.Symbols), d.Symbols)
	assert.Equal(t, []string{drm.Symbols[0]}, d.Missing)
	assert.True(t, lib.closed)

	v := report.Libraries[1]
	assert.False(t, v.Loaded)
	assert.Contains(t, v.Error, "cannot open")
	assert.False(t, report.OK())

	assert.Equal(t, []string{
		"/vendor/lib/libdrm_meson.so|" + drm.LibraryName + "|" + drm.LibraryEnv,
		"|" + videotunnel.LibraryName + "|" + videotunnel.LibraryEnv,
	}, opened)
}

func TestProber_Sockets(t *testing.T) {
	dir := t.TempDir()
	ln, err := net.Listen("unix", filepath.Join(dir, "video"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wayland-9"), nil, 0o644))

	cfg := config.DefaultConfig()
	cfg.Westeros.RuntimeDir = dir
	cfg.Westeros.SocketName = "video"
	cfg.Wayland.Display = filepath.Join(dir, "wayland-9")

	report := NewProber().Probe(cfg, config.BackendWesteros, config.BackendWayland)
	require.Len(t, report.Sockets, 2)
	assert.True(t, report.Sockets[0].Present)
	assert.Equal(t, filepath.Join(dir, "video"), report.Sockets[0].Path)
	// A regular file is not a compositor.
	assert.False(t, report.Sockets[1].Present)
	assert.Empty(t, report.Libraries)
}

func TestProber_AllByDefault(t *testing.T) {
	p := &Prober{
		open: func(string, string, string) (symbolTable, error) { return nil, errors.New("absent") },
		stat: func(string) (os.FileInfo, error) { return nil, os.ErrNotExist },
	}
	report := p.Probe(config.DefaultConfig())
	assert.Len(t, report.Libraries, 2)
	assert.Len(t, report.Sockets, 2)
}

// pacedBackend is a minimal paced back end: every post shows at once and
// fences signal immediately.
type pacedBackend struct {
	interval time.Duration

	mu     sync.Mutex
	events backend.Events
	posted int
	freed  int
	open   bool
}

func (p *pacedBackend) Kind() backend.Kind { return "paced" }

func (p *pacedBackend) Caps() backend.Caps {
	return backend.Caps{
		RecycleThreshold: 2,
		Formats: backend.FormatTable{
			Formats:  map[entity.PixelFormat]entity.Fourcc{entity.FormatNV12: entity.FourccNV12},
			Fallback: entity.FourccNV12,
		},
	}
}

func (p *pacedBackend) Open(_ context.Context, events backend.Events) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = events
	p.open = true
	return nil
}

func (p *pacedBackend) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

func (p *pacedBackend) Import(buf *entity.RenderBuffer, format entity.Fourcc) (*backend.Buffer, error) {
	return backend.NewBuffer(buf, format)
}

func (p *pacedBackend) Free(b *backend.Buffer) error {
	p.mu.Lock()
	p.freed++
	p.mu.Unlock()
	return b.Close()
}

func (p *pacedBackend) Post(_ context.Context, b *backend.Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.posted == 0 {
		p.events.Notify(entity.MsgFirstFrame, b.Pts)
	}
	p.posted++
	return nil
}

func (p *pacedBackend) WaitFence(context.Context, *backend.Buffer) error { return nil }

func (p *pacedBackend) WaitRefresh(ctx context.Context) (time.Duration, error) {
	t := time.NewTimer(p.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.C:
		return 0, nil
	}
}

func (p *pacedBackend) RefreshInterval() time.Duration { return p.interval }
func (p *pacedBackend) Geometry() entity.Rect          { return entity.Rect{W: 640, H: 360} }
func (p *pacedBackend) MutePlane(bool) error           { return nil }

func TestPlay_RunsForDuration(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Pacing.ImmediateOutput = true
	app := &App{Config: cfg, log: zerolog.Nop()}
	b := &pacedBackend{interval: 2 * time.Millisecond}

	report, err := app.Play(context.Background(), b, PlayOptions{
		Duration: 150 * time.Millisecond,
		Width:    64,
		Height:   32,
		Rate:     entity.Rational{Num: 100, Denom: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "paced", report.Backend)
	assert.Equal(t, 10*time.Millisecond, report.Interval)
	assert.GreaterOrEqual(t, report.Elapsed, 150*time.Millisecond)
	assert.NotZero(t, report.Display.Displayed)
	assert.Equal(t, report.Display.Accepted, report.Display.Released)
	assert.Equal(t, report.Source.Produced, report.Display.Accepted)
	require.NotEmpty(t, report.Messages)
	assert.Contains(t, report.Messages[0], entity.MsgFirstFrame.String())

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.False(t, b.open)
	assert.Equal(t, int(report.Display.Accepted), b.freed)
}

type countingInhibitor struct {
	mu         sync.Mutex
	held, peak int
	err        error
}

func (c *countingInhibitor) Inhibit(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.held++
	c.peak = max(c.peak, c.held)
	return nil
}

func (c *countingInhibitor) Uninhibit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held--
	return nil
}

func TestPlay_HoldsIdleInhibition(t *testing.T) {
	app := &App{Config: config.DefaultConfig(), log: zerolog.Nop()}
	inh := &countingInhibitor{}

	_, err := app.Play(context.Background(), &pacedBackend{interval: 2 * time.Millisecond}, PlayOptions{
		Duration:  30 * time.Millisecond,
		Width:     32,
		Height:    16,
		Rate:      entity.Rational{Num: 50, Denom: 1},
		Inhibitor: inh,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inh.peak)
	assert.Zero(t, inh.held)

	failing := &countingInhibitor{err: errors.New("portal gone")}
	_, err = app.Play(context.Background(), &pacedBackend{interval: 2 * time.Millisecond}, PlayOptions{
		Duration:  10 * time.Millisecond,
		Width:     32,
		Height:    16,
		Rate:      entity.Rational{Num: 50, Denom: 1},
		Inhibitor: failing,
	})
	require.NoError(t, err)
	assert.Zero(t, failing.held)
}

func TestPlay_StopsWithContext(t *testing.T) {
	app := &App{Config: config.DefaultConfig(), log: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	report, err := app.Play(ctx, &pacedBackend{interval: 2 * time.Millisecond}, PlayOptions{
		Width:  32,
		Height: 16,
		Rate:   entity.Rational{Num: 50, Denom: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, report.Display.Accepted, report.Display.Released)
}

func TestPlay_BadSource(t *testing.T) {
	app := &App{Config: config.DefaultConfig(), log: zerolog.Nop()}
	_, err := app.Play(context.Background(), &pacedBackend{}, PlayOptions{Width: 0, Height: 16})
	assert.ErrorContains(t, err, "frame source")
}

func TestDisplayOptions(t *testing.T) {
	p := config.DefaultConfig().Pacing
	p.RecycleThreshold = 3
	p.PosterPriority = 10
	log := zerolog.Nop()

	opts := DisplayOptions(p, &log)
	assert.Equal(t, 3, opts.RecycleThreshold)
	assert.Equal(t, 10, opts.PosterPriority)
	assert.Equal(t, p.FenceTimeout, opts.FenceTimeout)
	assert.Same(t, &log, opts.Logger)
}
