package ui

import (
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"github.com/palemoky/danmaku-sync/internal/playback"
)

func TestRenderLane(t *testing.T) {
	t.Parallel()

	plain := lipgloss.NewStyle()
	seg := func(x int, text string) segment { return segment{x: x, text: text, style: plain} }

	tests := []struct {
		name string
		segs []segment
		want string
	}{
		{"empty lane", nil, "          "},
		{"placed", []segment{seg(2, "abc")}, "  abc     "},
		{"entering from the right", []segment{seg(8, "abcde")}, "        ab"},
		{"leaving to the left", []segment{seg(-2, "abcde")}, "cde       "},
		{"offscreen", []segment{seg(10, "abc")}, "          "},
		{"overlap keeps the leftmost", []segment{seg(2, "XYZ"), seg(0, "abcd")}, "abcdZ     "},
		{"wide runes", []segment{seg(1, "弹幕")}, " 弹幕     "},
		{"wide rune is never split", []segment{seg(-1, "弹幕")}, " 幕       "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderLane(10, tt.segs))
		})
	}
}

func TestDropLeft(t *testing.T) {
	t.Parallel()

	rest, n := dropLeft("abc", 2)
	assert.Equal(t, "c", rest)
	assert.Equal(t, 2, n)

	rest, n = dropLeft("弹幕", 1)
	assert.Equal(t, "幕", rest)
	assert.Equal(t, 2, n)

	rest, _ = dropLeft("ab", 5)
	assert.Empty(t, rest)
}

func TestPosition(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	display := 10 * time.Second
	v := &playback.Visible{InsertedAt: now}

	assert.Equal(t, 20, position(v, now, display, 20, 4), "enters at the right edge")
	assert.Equal(t, 8, position(v, now.Add(5*time.Second), display, 20, 4))
	assert.Equal(t, -4, position(v, now.Add(display), display, 20, 4), "fully gone at the end")

	resumed := &playback.Visible{InsertedAt: now, Elapsed: 5 * time.Second}
	assert.Equal(t, 8, position(resumed, now, display, 20, 4), "seek reconstruction starts mid-transit")
}

func TestClockAndProgress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "00:00", clock(0))
	assert.Equal(t, "01:05", clock(65.9))
	assert.Equal(t, "1:01:01", clock(3661))

	assert.Empty(t, progressBar(10, 0, 10))
	assert.Equal(t, "━━━━━─────", progressBar(30, 60, 10))
	assert.Equal(t, "━━━━━━━━━━", progressBar(90, 60, 10))
}
