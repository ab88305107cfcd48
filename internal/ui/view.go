package ui

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/palemoky/danmaku-sync/internal/playback"
)

const (
	defaultStageWidth = 80
	minStageWidth     = 20
)

// segment is one danmaku placed on a lane row.
type segment struct {
	x     int
	text  string
	style lipgloss.Style
}

func (m *ViewerModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle("弹幕放映室"))
	if m.videoID != "" {
		b.WriteString(statusStyle.Render("  · " + m.videoID))
	}
	b.WriteString("\n")

	switch {
	case m.engine != nil:
		b.WriteString(stageStyle.Render(m.renderStage(m.now())))
	case m.disconnected:
		b.WriteString(errorStyle.Render("无法连接服务器"))
	default:
		b.WriteString(statusStyle.Render("正在连接服务器..."))
	}
	b.WriteString("\n")
	b.WriteString(m.renderStatus())

	if m.notice != "" {
		style := noticeStyle
		if m.noticeError {
			style = errorStyle
		}
		b.WriteString("\n" + style.Render(m.notice))
	}

	if m.input.Focused() {
		color := colorCycle[m.colorIdx]
		if color == "" {
			color = "默认"
		}
		b.WriteString(promptStyle.Render(fmt.Sprintf("[%s] %s", color, m.input.View())))
	}
	b.WriteString("\n" + m.help.View(m.keys))

	return docStyle.Render(b.String())
}

func (m *ViewerModel) stageWidth() int {
	w := m.width - 8
	if m.width == 0 {
		w = defaultStageWidth
	}
	return max(w, minStageWidth)
}

// renderStage draws every lane with its visible danmaku scrolled into place.
func (m *ViewerModel) renderStage(now time.Time) string {
	width := m.stageWidth()
	lanes := make([][]segment, m.engine.LaneCount())
	display := m.engine.DisplayDuration()

	for _, v := range m.engine.Visible() {
		if v.Lane < 0 || v.Lane >= len(lanes) {
			continue
		}
		text := v.Message.Text
		if v.Message.Highlighted() {
			text = HighlightIcon + text
		}
		lanes[v.Lane] = append(lanes[v.Lane], segment{
			x:     position(&v, now, display, width, runewidth.StringWidth(text)),
			text:  text,
			style: danmakuStyle(&v.Message, v.Echo || v.Message.AuthorID == m.userID),
		})
	}

	rows := make([]string, len(lanes))
	for i, segs := range lanes {
		rows[i] = renderLane(width, segs)
	}
	return strings.Join(rows, "\n")
}

// position maps transit progress to a column: the text enters at the right
// edge and has fully left the left edge when the transit completes.
func position(v *playback.Visible, now time.Time, display time.Duration, width, textWidth int) int {
	p := transit(v, now, display)
	return int(math.Round(float64(width) - p*float64(width+textWidth)))
}

// renderLane lays segments out left to right; a later segment overlapping an
// earlier one loses its covered prefix.
func renderLane(width int, segs []segment) string {
	slices.SortStableFunc(segs, func(a, b segment) int { return a.x - b.x })

	var b strings.Builder
	pos := 0
	for _, s := range segs {
		text, x := s.text, s.x
		if x < pos {
			var dropped int
			text, dropped = dropLeft(text, pos-x)
			x += dropped
		}
		if x >= width {
			break
		}
		text = runewidth.Truncate(text, width-x, "")
		if text == "" {
			continue
		}
		b.WriteString(strings.Repeat(" ", x-pos))
		b.WriteString(s.style.Render(text))
		pos = x + runewidth.StringWidth(text)
	}
	if pos < width {
		b.WriteString(strings.Repeat(" ", width-pos))
	}
	return b.String()
}

// dropLeft removes at least w columns from the front of s and reports how
// many columns were removed. A wide rune is never split.
func dropLeft(s string, w int) (string, int) {
	dropped := 0
	for i, r := range s {
		if dropped >= w {
			return s[i:], dropped
		}
		dropped += runewidth.RuneWidth(r)
	}
	return "", dropped
}

func (m *ViewerModel) renderStatus() string {
	now := m.now()
	pos := m.player.Position(now)
	icon := PausedIcon
	if m.player.Playing() {
		icon = PlayingIcon
	}

	total := "--:--"
	if d := m.player.Duration(); d > 0 {
		total = clock(d)
	}
	parts := []string{fmt.Sprintf("%s %s / %s", icon, clock(pos), total)}
	if m.userID != "" {
		parts = append(parts, "👤 "+m.userID)
	}
	if m.engine != nil {
		parts = append(parts, fmt.Sprintf("💬 %d 条", len(m.engine.Visible())))
	}
	if m.latency > 0 {
		parts = append(parts, fmt.Sprintf("📶 %dms", m.latency))
	}

	line := statusStyle.Render(strings.Join(parts, "  |  "))
	if bar := progressBar(pos, m.player.Duration(), m.stageWidth()); bar != "" {
		line = progressStyle.Render(bar) + "\n" + line
	}
	return line
}

// progressBar is empty when the duration is unknown.
func progressBar(pos, duration float64, width int) string {
	if duration <= 0 || width <= 0 {
		return ""
	}
	filled := int(math.Round(math.Min(pos/duration, 1) * float64(width)))
	return strings.Repeat(ProgressFilled, filled) + strings.Repeat(ProgressEmpty, width-filled)
}

// clock formats seconds as mm:ss, or h:mm:ss past an hour.
func clock(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	s := int(seconds)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s%3600/60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
