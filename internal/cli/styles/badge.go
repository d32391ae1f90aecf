package styles

import "github.com/charmbracelet/lipgloss"

// AccentBadge renders a badge with accent color.
func (t *Theme) AccentBadge(text string) string {
	return t.Badge.Render(text)
}

// MutedBadge renders a badge with muted colors.
func (t *Theme) MutedBadge(text string) string {
	return t.BadgeMuted.Render(text)
}

// StatusBadge renders a muted badge whose text is green when ok and amber
// otherwise.
func (t *Theme) StatusBadge(text string, ok bool) string {
	style := t.SuccessStyle
	if !ok {
		style = t.WarningStyle
	}
	return t.BadgeMuted.Render(style.Render(text))
}

// statusIcon returns the check or the given failure icon, styled.
func (t *Theme) statusIcon(ok bool, fail string, failStyle lipgloss.Style) string {
	if ok {
		return t.SuccessStyle.Render(IconCheck)
	}
	return failStyle.Render(fail)
}
