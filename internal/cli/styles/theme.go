// Package styles renders the vidrender command output with lipgloss.
package styles

import "github.com/charmbracelet/lipgloss"

// Palette is the set of colors a Theme is built from. Each color adapts to
// light and dark terminal backgrounds.
type Palette struct {
	Background lipgloss.AdaptiveColor
	Surface    lipgloss.AdaptiveColor
	Text       lipgloss.AdaptiveColor
	Muted      lipgloss.AdaptiveColor
	Accent     lipgloss.AdaptiveColor
	Border     lipgloss.AdaptiveColor

	Error   lipgloss.AdaptiveColor
	Warning lipgloss.AdaptiveColor
	Success lipgloss.AdaptiveColor
}

// DefaultPalette is a cyan accent on neutral greys.
func DefaultPalette() Palette {
	return Palette{
		Background: lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#0a0a0b"},
		Surface:    lipgloss.AdaptiveColor{Light: "#e5e7eb", Dark: "#2d2d2d"},
		Text:       lipgloss.AdaptiveColor{Light: "#111827", Dark: "#ffffff"},
		Muted:      lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#909090"},
		Accent:     lipgloss.AdaptiveColor{Light: "#0284c7", Dark: "#38bdf8"},
		Border:     lipgloss.AdaptiveColor{Light: "#d1d5db", Dark: "#333333"},

		Error:   lipgloss.AdaptiveColor{Light: "#dc2626", Dark: "#ef4444"},
		Warning: lipgloss.AdaptiveColor{Light: "#d97706", Dark: "#f59e0b"},
		Success: lipgloss.AdaptiveColor{Light: "#16a34a", Dark: "#4ade80"},
	}
}

// Theme is the set of styles every renderer draws with.
type Theme struct {
	Palette Palette

	Title        lipgloss.Style
	Subtitle     lipgloss.Style
	Normal       lipgloss.Style
	Subtle       lipgloss.Style
	Highlight    lipgloss.Style
	Icon         lipgloss.Style
	ErrorStyle   lipgloss.Style
	WarningStyle lipgloss.Style
	SuccessStyle lipgloss.Style

	Badge      lipgloss.Style
	BadgeMuted lipgloss.Style

	Box       lipgloss.Style
	BoxHeader lipgloss.Style
}

// NewTheme returns the Theme for DefaultPalette.
func NewTheme() *Theme {
	return NewThemeFromPalette(DefaultPalette())
}

// NewThemeFromPalette derives every style from p.
func NewThemeFromPalette(p Palette) *Theme {
	fg := func(c lipgloss.TerminalColor) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(c)
	}

	return &Theme{
		Palette: p,

		Title:        fg(p.Text).Bold(true),
		Subtitle:     fg(p.Muted).Bold(true),
		Normal:       fg(p.Text),
		Subtle:       fg(p.Muted),
		Highlight:    fg(p.Accent).Bold(true),
		Icon:         fg(p.Accent),
		ErrorStyle:   fg(p.Error),
		WarningStyle: fg(p.Warning),
		SuccessStyle: fg(p.Success),

		Badge:      fg(p.Background).Background(p.Accent).Padding(0, 1),
		BadgeMuted: fg(p.Text).Background(p.Surface).Padding(0, 1),

		Box: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(p.Border).
			Padding(1, 2),
		BoxHeader: fg(p.Text).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(p.Border).
			MarginBottom(1),
	}
}
