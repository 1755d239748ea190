// Package ui renders styled terminal output for the tm command.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#58a6ff"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	badgeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff")).Background(ColorWarn).Padding(0, 1)
)

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderHeader(s string) string { return headerStyle.Render(s) }

// RenderBadge renders the pending-changes counter, or "" when n is zero.
func RenderBadge(n int) string {
	if n <= 0 {
		return ""
	}
	return badgeStyle.Render(fmt.Sprintf("%d pending", n))
}

// RenderStatus colors a task status.
func RenderStatus(status string) string {
	switch status {
	case "completed":
		return RenderPass(status)
	case "in-progress":
		return RenderAccent(status)
	default:
		return RenderMuted(status)
	}
}

// RenderPriority colors a task priority.
func RenderPriority(priority string) string {
	switch priority {
	case "high":
		return RenderFail(priority)
	case "medium":
		return RenderWarn(priority)
	default:
		return RenderMuted(priority)
	}
}

// Table renders rows as left-aligned columns separated by two spaces.
// Widths are measured on the rendered text so styled cells line up.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style func(string) string) {
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			if style != nil {
				cell = style(cell)
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		b.WriteString("\n")
	}

	writeRow(header, RenderMuted)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return b.String()
}
