// Package danmaku defines the timed overlay message shared by the store,
// the broadcast bridge and the client playback engine.
package danmaku

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxTextLength is the text bound used when none is configured.
const DefaultMaxTextLength = 100

// DefaultColor is applied when a message carries no color.
const DefaultColor = "#ffffff"

// Message is a short text annotation anchored to a playback position.
type Message struct {
	ID          int64     `json:"id,omitempty"`
	VideoID     string    `json:"video_id"`
	AuthorID    string    `json:"author_id"`
	Text        string    `json:"text"`
	Color       string    `json:"color"`
	VideoTime   float64   `json:"video_time"`
	CreatedAt   time.Time `json:"created_at"`
	Score       *float64  `json:"score,omitempty"`
	IsHighlight *bool     `json:"is_highlight,omitempty"`
}

// Persisted reports whether the store has assigned an id.
func (m *Message) Persisted() bool {
	return m.ID > 0
}

// Scored reports whether enrichment has attached a score.
func (m *Message) Scored() bool {
	return m.Score != nil
}

// Highlighted reports whether the message is a scored highlight.
func (m *Message) Highlighted() bool {
	return m.IsHighlight != nil && *m.IsHighlight
}

// WithScore returns a copy of m carrying the given enrichment result.
func (m Message) WithScore(score float64, highlight bool) Message {
	m.Score = &score
	m.IsHighlight = &highlight
	return m
}

// Less orders messages of one video by (VideoTime, ID).
func Less(a, b *Message) bool {
	if a.VideoTime != b.VideoTime {
		return a.VideoTime < b.VideoTime
	}
	return a.ID < b.ID
}

// Compare is the three-way form of Less, for slices.SortFunc.
func Compare(a, b Message) int {
	switch {
	case Less(&a, &b):
		return -1
	case Less(&b, &a):
		return 1
	default:
		return 0
	}
}

// NormalizeText trims surrounding whitespace and checks the rune bound.
// Control characters are rejected so a message cannot break the overlay.
func NormalizeText(text string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxTextLength
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("text is empty")
	}
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("text is not valid utf-8")
	}
	if n := utf8.RuneCountInString(text); n > maxLen {
		return "", fmt.Errorf("text has %d characters, limit is %d", n, maxLen)
	}
	for _, r := range text {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("text contains control characters")
		}
	}
	return text, nil
}

// ValidVideoTime reports whether t is a usable anchor within [0, duration].
// A non-positive duration means the upper bound is unknown.
func ValidVideoTime(t, duration float64) bool {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return false
	}
	return duration <= 0 || t <= duration
}
