package styles

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type ProbeRenderer struct {
	theme *Theme
}

func NewProbeRenderer(theme *Theme) *ProbeRenderer {
	return &ProbeRenderer{theme: theme}
}

// ProbeReport is what `vidrender probe` found on this host.
type ProbeReport struct {
	Libraries []LibraryCheck
	Sockets   []SocketCheck
}

// OK reports whether every probed back end is usable.
func (p ProbeReport) OK() bool {
	for _, l := range p.Libraries {
		if !l.OK() {
			return false
		}
	}
	for _, s := range p.Sockets {
		if !s.Present {
			return false
		}
	}
	return true
}

// LibraryCheck is the result of loading one vendor library.
type LibraryCheck struct {
	Backend string
	Name    string
	Path    string
	Loaded  bool
	Error   string
	// Symbols is the number of symbols looked up; Missing the ones absent.
	Symbols int
	Missing []string
}

func (l LibraryCheck) OK() bool {
	return l.Loaded && len(l.Missing) == 0
}

// SocketCheck is the result of looking for a compositor socket.
type SocketCheck struct {
	Backend string
	Path    string
	Present bool
}

func (r *ProbeRenderer) Render(report ProbeReport) string {
	header := r.renderHeader(report.OK())

	sections := []string{}
	if len(report.Libraries) > 0 {
		sections = append(sections, r.renderLibraries(report.Libraries))
	}
	if len(report.Sockets) > 0 {
		sections = append(sections, r.renderSockets(report.Sockets))
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, "", strings.Join(sections, "\n\n"))
}

func (r *ProbeRenderer) renderHeader(ok bool) string {
	iconStyle := r.theme.Icon
	statusText := "OK"
	if !ok {
		statusText = "Needs attention"
	}

	title := fmt.Sprintf("%s %s", iconStyle.Render(IconDoctor), r.theme.Title.Render("Probe"))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, " ", r.theme.StatusBadge(statusText, ok))
}

func (r *ProbeRenderer) renderLibraries(libs []LibraryCheck) string {
	lines := make([]string, 0, len(libs))
	for _, l := range libs {
		lines = append(lines, r.renderLibrary(l))
	}
	body := strings.Join(lines, "\n")
	return r.theme.Box.Render(r.theme.BoxHeader.Render(fmt.Sprintf("%s Vendor libraries", r.theme.Highlight.Render(IconPackage))) + "\n" + body)
}

func (r *ProbeRenderer) renderLibrary(l LibraryCheck) string {
	var (
		icon    string
		status  string
		summary string
	)
	switch {
	case !l.Loaded:
		icon = r.theme.statusIcon(false, IconX, r.theme.ErrorStyle)
		status = r.theme.BadgeMuted.Render(r.theme.ErrorStyle.Render("Missing"))
		summary = l.Error
	case len(l.Missing) > 0:
		icon = r.theme.statusIcon(false, IconWarning, r.theme.WarningStyle)
		status = r.theme.StatusBadge("Incomplete", false)
		summary = fmt.Sprintf("%s: %d of %d symbols missing", l.Path, len(l.Missing), l.Symbols)
	default:
		icon = r.theme.statusIcon(true, "", r.theme.Normal)
		status = r.theme.StatusBadge("OK", true)
		summary = fmt.Sprintf("%s (%d symbols)", l.Path, l.Symbols)
	}

	name := fmt.Sprintf("%s %s", r.theme.Normal.Render(l.Backend), r.theme.Subtle.Render(l.Name))
	out := fmt.Sprintf("%s %s %s\n  %s", icon, name, status, r.theme.Subtle.Render(summary))
	for _, sym := range l.Missing {
		out += fmt.Sprintf("\n  %s %s", r.theme.Subtle.Render("•"), r.theme.WarningStyle.Render(sym))
	}
	return out
}

func (r *ProbeRenderer) renderSockets(socks []SocketCheck) string {
	lines := make([]string, 0, len(socks))
	for _, s := range socks {
		state := r.theme.SuccessStyle.Render("Listening")
		if !s.Present {
			state = r.theme.WarningStyle.Render("Not found")
		}
		lines = append(lines, fmt.Sprintf(
			"%s %s %s\n  %s",
			r.theme.statusIcon(s.Present, IconWarning, r.theme.WarningStyle),
			r.theme.Normal.Render(s.Backend),
			state,
			r.theme.Subtle.Render(s.Path),
		))
	}
	body := strings.Join(lines, "\n")
	return r.theme.Box.Render(r.theme.BoxHeader.Render(fmt.Sprintf("%s Compositors", r.theme.Highlight.Render(IconVideo))) + "\n" + body)
}
