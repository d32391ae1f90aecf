package styles

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/vidrender/internal/domain/build"
)

const logo = `▜▘  ▝▛
 ▚  ▞
  ▚▞
  ▝▘`

// AboutRenderer renders the version screen.
type AboutRenderer struct {
	theme *Theme
}

func NewAboutRenderer(theme *Theme) *AboutRenderer {
	return &AboutRenderer{theme: theme}
}

// Render places the logo to the left of the build details.
func (r *AboutRenderer) Render(info build.Info) string {
	mark := r.theme.Highlight.MarginTop(1).MarginLeft(2).Render(logo)
	return lipgloss.JoinHorizontal(lipgloss.Top, mark, "   ", r.details(info))
}

func (r *AboutRenderer) details(info build.Info) string {
	rows := []struct{ icon, key, value string }{
		{IconVersion, "Version", info.Version},
		{IconGitBranch, "Commit", info.Commit},
		{IconCalendar, "Built", info.BuildDate},
		{IconGo, "Go", info.GoVersion},
		{IconVideo, "Back ends", strings.Join(build.Backends(), ", ")},
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row.key))
	}

	lines := make([]string, 0, len(rows)+3)
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("%s %s %s",
			r.theme.Icon.Render(row.icon),
			r.theme.Subtle.Render(fmt.Sprintf("%-*s", width, row.key)),
			r.theme.Highlight.Render(row.value)))
	}
	lines = append(lines, "",
		fmt.Sprintf("%s %s", r.theme.Icon.Render(IconGithub), r.theme.Subtle.Render(build.RepoURL())),
		fmt.Sprintf("%s %s %s", r.theme.Icon.Render(IconHeart),
			r.theme.Subtle.Render("Made with love by"),
			r.theme.Highlight.Render(strings.Join(build.Contributors(), ", "))),
	)
	return strings.Join(lines, "\n")
}
