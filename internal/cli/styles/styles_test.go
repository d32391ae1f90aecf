package styles

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bnema/vidrender/internal/config"
	"github.com/bnema/vidrender/internal/display"
	"github.com/bnema/vidrender/internal/domain/build"
	"github.com/bnema/vidrender/internal/synth"
)

func TestAboutRenderer_Render(t *testing.T) {
	out := NewAboutRenderer(NewTheme()).Render(build.Info{
		Version:   "v1.2.3",
		Commit:    "abc123",
		BuildDate: "2026-01-01",
		GoVersion: "go1.25.3",
	})

	assert.Contains(t, out, "v1.2.3")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "videotunnel")
	assert.Contains(t, out, build.RepoURL())
}

func TestProbeReport_OK(t *testing.T) {
	ok := ProbeReport{
		Libraries: []LibraryCheck{{Backend: "drm", Loaded: true, Symbols: 3}},
		Sockets:   []SocketCheck{{Backend: "wayland", Present: true}},
	}
	assert.True(t, ok.OK())

	missing := ok
	missing.Libraries = []LibraryCheck{{Backend: "drm", Loaded: true, Symbols: 3, Missing: []string{"drm_post_buf"}}}
	assert.False(t, missing.OK())

	noSocket := ok
	noSocket.Sockets = []SocketCheck{{Backend: "westeros"}}
	assert.False(t, noSocket.OK())
}

func TestProbeRenderer_Render(t *testing.T) {
	out := NewProbeRenderer(NewTheme()).Render(ProbeReport{
		Libraries: []LibraryCheck{
			{Backend: "drm", Name: "libdrm_meson.so", Path: "/usr/lib/libdrm_meson.so", Loaded: true, Symbols: 15, Missing: []string{"drm_waitvideoFence"}},
			{Backend: "videotunnel", Name: "libvideotunnel.so", Error: "not found"},
		},
		Sockets: []SocketCheck{{Backend: "westeros", Path: "/run/video"}},
	})

	assert.Contains(t, out, "Needs attention")
	assert.Contains(t, out, "1 of 15 symbols missing")
	assert.Contains(t, out, "drm_waitvideoFence")
	assert.Contains(t, out, "not found")
	assert.Contains(t, out, "Not found")
	assert.Contains(t, out, "/run/video")
}

func TestConfigRenderer_RenderSettings(t *testing.T) {
	r := NewConfigRenderer(NewTheme())
	cfg := config.DefaultConfig()

	out := r.RenderSettings(cfg)
	assert.Contains(t, out, "[pacing]")
	assert.Contains(t, out, "[drm]")
	assert.Contains(t, out, "connector")
	assert.NotContains(t, out, "socket_name")

	cfg.Backend = config.BackendWayland
	out = r.RenderSettings(cfg)
	assert.Contains(t, out, "[wayland]")
	assert.Contains(t, out, "(default)")
	assert.NotContains(t, out, "connector")
}

func TestConfigRenderer_Messages(t *testing.T) {
	r := NewConfigRenderer(NewTheme())
	assert.Contains(t, r.RenderConfigInfo("/tmp/vidrender/config.toml"), "/tmp/vidrender/config.toml")
	assert.Contains(t, r.RenderSchemaWritten("/tmp/schema.json"), "/tmp/schema.json")
	assert.Contains(t, r.RenderError(errors.New("boom")), "boom")
}

func TestPlayRenderer_Render(t *testing.T) {
	r := NewPlayRenderer(NewTheme())

	out := r.Render(PlayReport{
		Backend:  "wayland",
		Elapsed:  2 * time.Second,
		Display:  display.Stats{Accepted: 120, Displayed: 118, Dropped: 2, Released: 120},
		Source:   synth.Stats{Produced: 120},
		Messages: []string{"first frame"},
	})
	assert.Contains(t, out, "wayland")
	assert.Contains(t, out, "118")
	assert.Contains(t, out, "59.00")
	assert.Contains(t, out, "frames were lost")
	assert.Contains(t, out, "first frame")

	clean := r.Render(PlayReport{Backend: "drm", Display: display.Stats{Displayed: 10}})
	assert.NotContains(t, clean, "frames were lost")
	assert.NotContains(t, clean, "Displayed/s")

	start := r.RenderStart("drm", 1920, 1080, 40*time.Millisecond)
	assert.Contains(t, start, "1920x1080")
	assert.Contains(t, start, "40ms")
}

func TestEffectiveRate(t *testing.T) {
	assert.InDelta(t, 25.0, effectiveRate(50, 2*time.Second), 0.001)
	assert.Zero(t, effectiveRate(50, 0))
}
