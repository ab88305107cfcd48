// Package lane assigns on-screen danmaku to horizontal display tracks.
package lane

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultLaneCount       = 10
	DefaultLoadFactor      = 2.0
	DefaultDisplayDuration = 10 * time.Second
)

// Config controls the allocator.
type Config struct {
	LaneCount       int
	DisplayDuration time.Duration
	// LoadFactor switches to random placement once
	// activeCount >= LoadFactor * LaneCount.
	LoadFactor float64
}

// Allocator tracks when each lane frees up.
//
// Under low load it hands out the first free lane, or the one that frees
// earliest when every lane is busy. Under high load it skips the search and
// picks a random lane, accepting overlap.
type Allocator struct {
	cfg           Config
	occupiedUntil []time.Time
	now           func() time.Time
	rnd           *rand.Rand
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithRand replaces the random source used under high load.
func WithRand(r *rand.Rand) Option {
	return func(a *Allocator) { a.rnd = r }
}

// New creates an allocator. Zero config fields take defaults.
func New(cfg Config, opts ...Option) *Allocator {
	if cfg.LaneCount <= 0 {
		cfg.LaneCount = DefaultLaneCount
	}
	if cfg.DisplayDuration <= 0 {
		cfg.DisplayDuration = DefaultDisplayDuration
	}
	if cfg.LoadFactor <= 0 {
		cfg.LoadFactor = DefaultLoadFactor
	}

	a := &Allocator{
		cfg:           cfg,
		occupiedUntil: make([]time.Time, cfg.LaneCount),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rnd == nil {
		a.rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return a
}

// LaneCount returns the number of lanes.
func (a *Allocator) LaneCount() int {
	return a.cfg.LaneCount
}

// Assign reserves a lane for a message that stays on screen for the full
// display duration.
func (a *Allocator) Assign(activeCount int) int {
	return a.AssignFor(activeCount, a.cfg.DisplayDuration)
}

// AssignFor reserves a lane for a message with the given remaining transit
// time, which is shorter than the display duration when the message resumes
// mid-transit after a seek.
func (a *Allocator) AssignFor(activeCount int, remaining time.Duration) int {
	if remaining < 0 {
		remaining = 0
	}
	now := a.now()

	var lane int
	if a.highLoad(activeCount) {
		lane = a.rnd.IntN(a.cfg.LaneCount)
	} else {
		lane = a.freeLane(now)
	}

	a.reserve(lane, now.Add(remaining))
	return lane
}

// Occupied reports whether lane is still reserved.
func (a *Allocator) Occupied(lane int) bool {
	if lane < 0 || lane >= len(a.occupiedUntil) {
		return false
	}
	return a.occupiedUntil[lane].After(a.now())
}

// OccupiedUntil returns the reservation end of lane.
func (a *Allocator) OccupiedUntil(lane int) time.Time {
	if lane < 0 || lane >= len(a.occupiedUntil) {
		return time.Time{}
	}
	return a.occupiedUntil[lane]
}

// Reset frees every lane.
func (a *Allocator) Reset() {
	clear(a.occupiedUntil)
}

func (a *Allocator) highLoad(activeCount int) bool {
	return float64(activeCount) >= a.cfg.LoadFactor*float64(a.cfg.LaneCount)
}

func (a *Allocator) freeLane(now time.Time) int {
	earliest := 0
	for i, until := range a.occupiedUntil {
		if !until.After(now) {
			return i
		}
		if until.Before(a.occupiedUntil[earliest]) {
			earliest = i
		}
	}
	return earliest
}

// reserve never shortens an existing reservation.
func (a *Allocator) reserve(lane int, until time.Time) {
	if until.After(a.occupiedUntil[lane]) {
		a.occupiedUntil[lane] = until
	}
}
