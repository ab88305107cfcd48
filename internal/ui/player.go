package ui

import (
	"math"
	"time"
)

// Playhead simulates a video player's clock. The terminal viewer has no
// real video, so playback position is derived from wall time while playing.
type Playhead struct {
	position float64
	anchor   time.Time
	playing  bool
	duration float64
	seeked   bool
}

// NewPlayhead returns a paused playhead at 0. A duration of 0 means unbounded.
func NewPlayhead(duration float64) *Playhead {
	return &Playhead{duration: duration}
}

// Position returns the playback position in seconds at now.
func (p *Playhead) Position(now time.Time) float64 {
	pos := p.position
	if p.playing {
		pos += now.Sub(p.anchor).Seconds()
	}
	return p.clamp(pos)
}

func (p *Playhead) Playing() bool { return p.playing }

func (p *Playhead) Duration() float64 { return p.duration }

// SetDuration updates the bound once the server reports it.
func (p *Playhead) SetDuration(d float64) {
	if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		d = 0
	}
	p.duration = d
}

func (p *Playhead) Play(now time.Time) {
	if p.playing {
		return
	}
	p.anchor = now
	p.playing = true
}

func (p *Playhead) Pause(now time.Time) {
	if !p.playing {
		return
	}
	p.position = p.Position(now)
	p.playing = false
}

func (p *Playhead) Toggle(now time.Time) {
	if p.playing {
		p.Pause(now)
	} else {
		p.Play(now)
	}
}

// Seek jumps to position and marks the jump for the next TakeSeek.
func (p *Playhead) Seek(now time.Time, position float64) {
	p.position = p.clamp(position)
	p.anchor = now
	p.seeked = true
}

// SeekBy jumps relative to the current position.
func (p *Playhead) SeekBy(now time.Time, delta float64) {
	p.Seek(now, p.Position(now)+delta)
}

// TakeSeek reports and clears a pending explicit seek.
func (p *Playhead) TakeSeek() bool {
	s := p.seeked
	p.seeked = false
	return s
}

// Ended reports whether a bounded playhead reached the end.
func (p *Playhead) Ended(now time.Time) bool {
	return p.duration > 0 && p.Position(now) >= p.duration
}

func (p *Playhead) clamp(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if p.duration > 0 && pos > p.duration {
		return p.duration
	}
	return pos
}
