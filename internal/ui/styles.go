package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/palemoky/danmaku-sync/internal/danmaku"
)

// Icon constants
const (
	PlayingIcon   = "▶"
	PausedIcon    = "⏸"
	HighlightIcon = "✦ "

	ProgressFilled = "━"
	ProgressEmpty  = "─"
)

// Lipgloss Styles
var (
	docStyle       = lipgloss.NewStyle().Margin(1, 2)
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("228")).Bold(true).Render
	stageStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	promptStyle    = lipgloss.NewStyle().MarginTop(1)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	progressStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	highlightStyle = lipgloss.NewStyle().Bold(true)
	selfStyle      = lipgloss.NewStyle().Underline(true)
)

// colorCycle is what the color key steps through; "" keeps the server default.
var colorCycle = []string{"", "red", "yellow", "green", "cyan", "blue", "purple"}

// danmakuStyle picks the foreground from the message color.
func danmakuStyle(m *danmaku.Message, self bool) lipgloss.Style {
	color := m.Color
	if color == "" {
		color = danmaku.DefaultColor
	}
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	if m.Highlighted() {
		style = style.Inherit(highlightStyle)
	}
	if self {
		style = style.Inherit(selfStyle)
	}
	return style
}
