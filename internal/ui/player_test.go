package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlayhead_PlayPause(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	p := NewPlayhead(0)
	assert.Zero(t, p.Position(start))
	assert.False(t, p.Playing())

	p.Play(start)
	assert.InDelta(t, 2.5, p.Position(start.Add(2500*time.Millisecond)), 1e-9)

	p.Pause(start.Add(3 * time.Second))
	assert.False(t, p.Playing())
	assert.InDelta(t, 3.0, p.Position(start.Add(time.Hour)), 1e-9, "paused position is frozen")

	p.Toggle(start.Add(time.Hour))
	assert.True(t, p.Playing())
	assert.InDelta(t, 4.0, p.Position(start.Add(time.Hour+time.Second)), 1e-9)
}

func TestPlayhead_Seek(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	p := NewPlayhead(60)
	assert.False(t, p.TakeSeek())

	p.Seek(now, 30)
	assert.Equal(t, 30.0, p.Position(now))
	assert.True(t, p.TakeSeek())
	assert.False(t, p.TakeSeek(), "seek flag is consumed")

	p.SeekBy(now, -45)
	assert.Zero(t, p.Position(now), "clamped at the start")

	p.SeekBy(now, 100)
	assert.Equal(t, 60.0, p.Position(now), "clamped at the end")
	assert.True(t, p.Ended(now))
}

func TestPlayhead_EndsAtDuration(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	p := NewPlayhead(10)
	p.Seek(now, 8)
	p.Play(now)

	assert.False(t, p.Ended(now.Add(time.Second)))
	assert.True(t, p.Ended(now.Add(5*time.Second)))
	assert.Equal(t, 10.0, p.Position(now.Add(5*time.Second)))

	p.SetDuration(-1)
	assert.Zero(t, p.Duration())
	assert.False(t, p.Ended(now.Add(5*time.Second)), "unbounded playhead never ends")
}
