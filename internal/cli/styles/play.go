package styles

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/vidrender/internal/display"
	"github.com/bnema/vidrender/internal/synth"
)

// PlayReport summarizes one `vidrender play` run.
type PlayReport struct {
	Backend  string
	Elapsed  time.Duration
	Interval time.Duration
	Display  display.Stats
	Source   synth.Stats
	Messages []string
}

type PlayRenderer struct {
	theme *Theme
}

func NewPlayRenderer(theme *Theme) *PlayRenderer {
	return &PlayRenderer{theme: theme}
}

// RenderStart renders the line printed before the first frame.
func (r *PlayRenderer) RenderStart(backendName string, w, h int, interval time.Duration) string {
	iconStyle := r.theme.Icon
	return fmt.Sprintf(
		"\n  %s Playing %s on %s %s\n",
		iconStyle.Render(IconPlay),
		r.theme.Highlight.Render(fmt.Sprintf("%dx%d", w, h)),
		r.theme.AccentBadge(backendName),
		r.theme.Subtle.Render(fmt.Sprintf("every %s", interval)),
	)
}

func (r *PlayRenderer) Render(rep PlayReport) string {
	iconStyle := r.theme.Icon
	title := fmt.Sprintf("%s %s %s", iconStyle.Render(IconStop), r.theme.Title.Render("Stopped"), r.theme.MutedBadge(rep.Backend))

	d := rep.Display
	rows := [][2]string{
		{"Elapsed", rep.Elapsed.Round(time.Millisecond).String()},
		{"Produced", fmt.Sprint(rep.Source.Produced)},
		{"Accepted", fmt.Sprint(d.Accepted)},
		{"Displayed", fmt.Sprint(d.Displayed)},
		{"Dropped", fmt.Sprint(d.Dropped)},
		{"Released", fmt.Sprint(d.Released)},
		{"Import errors", fmt.Sprint(d.ImportErrors)},
		{"Post errors", fmt.Sprint(d.Poster.PostErrors)},
		{"Fence waits", fmt.Sprint(d.Recycler.FenceWaits)},
		{"Fence timeouts", fmt.Sprint(d.Recycler.FenceTimeouts)},
	}
	if fps := effectiveRate(d.Displayed, rep.Elapsed); fps > 0 {
		rows = append(rows, [2]string{"Displayed/s", fmt.Sprintf("%.2f", fps)})
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row[0]))
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("%s  %s",
			r.theme.Subtle.Render(fmt.Sprintf("%-*s", width, row[0])),
			r.theme.Normal.Render(row[1]),
		))
	}

	if d.Dropped > 0 || d.ImportErrors > 0 {
		lines = append(lines, "", fmt.Sprintf("%s %s",
			r.theme.WarningStyle.Render(IconWarning),
			r.theme.Normal.Render("frames were lost; check the log for the cause"),
		))
	}
	if len(rep.Messages) > 0 {
		lines = append(lines, "", r.theme.Subtitle.Render("Messages"))
		for _, m := range rep.Messages {
			lines = append(lines, fmt.Sprintf("%s %s", r.theme.Subtle.Render("•"), r.theme.Normal.Render(m)))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, "", r.theme.Box.Render(strings.Join(lines, "\n")))
}

func effectiveRate(frames uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(frames) / elapsed.Seconds()
}
