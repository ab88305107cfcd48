// Package playback turns a playback-time signal into the set of danmaku that
// should be on screen.
//
// The engine is driven by its host (a video player or the terminal viewer):
// Tick is called with the current playback position, Complete when an
// on-screen transit finishes. It performs no I/O and never blocks, so it is
// not safe for concurrent use; callers drive it from one event loop.
package playback

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/palemoky/danmaku-sync/internal/danmaku"
	"github.com/palemoky/danmaku-sync/internal/playback/lane"
)

const (
	DefaultDisplayDuration = 10 * time.Second
	DefaultSeekThreshold   = 1500 * time.Millisecond
)

// Config tunes the engine.
type Config struct {
	DisplayDuration time.Duration
	// SeekThreshold is the playback jump treated as a seek.
	SeekThreshold time.Duration
	LaneCount     int
	LoadFactor    float64
}

// Visible is a danmaku currently on screen.
type Visible struct {
	Key     string
	Message danmaku.Message
	// Elapsed is how far into its transit the message starts. Non-zero only
	// for messages reconstructed after a seek or merged late.
	Elapsed    time.Duration
	Lane       int
	InsertedAt time.Time
	Echo       bool

	seq uint64
}

// Remaining returns the transit time left when the message was inserted.
func (v *Visible) Remaining(display time.Duration) time.Duration {
	if r := display - v.Elapsed; r > 0 {
		return r
	}
	return 0
}

// Engine holds the fetched history and the visible set.
type Engine struct {
	cfg    Config
	selfID string
	now    func() time.Time
	lanes  *lane.Allocator

	history []danmaku.Message
	known   map[int64]struct{}
	cursor  int

	lastTime float64
	started  bool

	visible map[string]*Visible
	// shown holds ids displayed since the last seek so the forward walk does
	// not insert a message twice after a local echo or a late merge.
	shown map[int64]struct{}

	seq     uint64
	echoSeq uint64
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	now      func() time.Time
	laneOpts []lane.Option
}

// WithClock replaces time.Now for insertion times and lane reservations.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		o.now = now
		o.laneOpts = append(o.laneOpts, lane.WithClock(now))
	}
}

// WithLaneOptions forwards options to the lane allocator.
func WithLaneOptions(opts ...lane.Option) Option {
	return func(o *engineOptions) { o.laneOpts = append(o.laneOpts, opts...) }
}

// New creates an engine for the viewer selfID.
func New(cfg Config, selfID string, opts ...Option) *Engine {
	if cfg.DisplayDuration <= 0 {
		cfg.DisplayDuration = DefaultDisplayDuration
	}
	if cfg.SeekThreshold <= 0 {
		cfg.SeekThreshold = DefaultSeekThreshold
	}

	o := engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Engine{
		cfg:    cfg,
		selfID: selfID,
		now:    o.now,
		lanes: lane.New(lane.Config{
			LaneCount:       cfg.LaneCount,
			DisplayDuration: cfg.DisplayDuration,
			LoadFactor:      cfg.LoadFactor,
		}, o.laneOpts...),
		known:   make(map[int64]struct{}),
		visible: make(map[string]*Visible),
		shown:   make(map[int64]struct{}),
	}
}

// Key identifies a visible message. Persisted messages are keyed by id.
func Key(m *danmaku.Message) string {
	return strconv.FormatInt(m.ID, 10)
}

// SelfID returns the viewer identity used for self-echo suppression.
func (e *Engine) SelfID() string { return e.selfID }

// DisplayDuration returns the configured on-screen time.
func (e *Engine) DisplayDuration() time.Duration { return e.cfg.DisplayDuration }

// SeekThreshold returns the playback jump treated as a seek.
func (e *Engine) SeekThreshold() time.Duration { return e.cfg.SeekThreshold }

// LaneCount returns the number of display lanes.
func (e *Engine) LaneCount() int { return e.lanes.LaneCount() }

// LastTime returns the playback position of the last tick.
func (e *Engine) LastTime() float64 { return e.lastTime }

// Len returns the number of messages in the history snapshot.
func (e *Engine) Len() int { return len(e.history) }

// Tick advances the engine to currentTime and returns the newly inserted
// messages. seek forces the reconstruction path.
func (e *Engine) Tick(currentTime float64, seek bool) []*Visible {
	if math.IsNaN(currentTime) || math.IsInf(currentTime, 0) {
		return nil
	}
	if currentTime < 0 {
		currentTime = 0
	}

	delta := math.Abs(currentTime - e.lastTime)
	var added []*Visible
	if !e.started || seek || delta > e.cfg.SeekThreshold.Seconds() {
		added = e.seekTo(currentTime)
	} else {
		added = e.advance(currentTime)
	}

	e.lastTime = currentTime
	e.started = true
	return added
}

// seekTo rebuilds the visible set: every message in
// [currentTime-DisplayDuration, currentTime) resumes mid-transit.
func (e *Engine) seekTo(currentTime float64) []*Visible {
	clear(e.visible)
	clear(e.shown)
	e.lanes.Reset()

	e.cursor = sort.Search(len(e.history), func(i int) bool {
		return e.history[i].VideoTime >= currentTime
	})

	windowStart := currentTime - e.cfg.DisplayDuration.Seconds()
	first := e.cursor
	for first > 0 && e.history[first-1].VideoTime >= windowStart {
		first--
	}

	added := make([]*Visible, 0, e.cursor-first)
	for i := first; i < e.cursor; i++ {
		m := e.history[i]
		added = append(added, e.insert(m, elapsed(currentTime, m.VideoTime), false))
	}
	return added
}

// advance walks the cursor forward and inserts every message reached.
func (e *Engine) advance(currentTime float64) []*Visible {
	var added []*Visible
	for e.cursor < len(e.history) && e.history[e.cursor].VideoTime <= currentTime {
		m := e.history[e.cursor]
		e.cursor++
		if _, ok := e.shown[m.ID]; ok {
			continue
		}
		added = append(added, e.insert(m, 0, false))
	}
	return added
}

// LoadHistory merges a fetched window into the history snapshot. Messages
// that were already passed and still fall inside the display window are
// inserted with their elapsed offset.
func (e *Engine) LoadHistory(msgs []danmaku.Message) []*Visible {
	fresh := e.merge(msgs)
	if !e.started {
		return nil
	}

	var added []*Visible
	for _, m := range fresh {
		if v := e.showIfPassed(m); v != nil {
			added = append(added, v)
		}
	}
	return added
}

// Echo shows the viewer's own message immediately, before any broadcast
// round trip. A persisted echo joins the history so a later seek finds it.
func (e *Engine) Echo(msg danmaku.Message) *Visible {
	if !msg.Persisted() {
		e.echoSeq++
		key := "echo-" + strconv.FormatUint(e.echoSeq, 10)
		return e.insertKeyed(key, msg, 0, true)
	}

	e.merge([]danmaku.Message{msg})
	if v, ok := e.visible[Key(&msg)]; ok {
		return v
	}
	return e.insert(msg, 0, true)
}

// Receive handles a live message from the broadcast path. Messages authored
// by this viewer were already shown by Echo and are dropped.
func (e *Engine) Receive(msg danmaku.Message) *Visible {
	if msg.AuthorID == e.selfID || !msg.Persisted() {
		return nil
	}

	fresh := e.merge([]danmaku.Message{msg})
	if len(fresh) == 0 || !e.started {
		return nil
	}
	return e.showIfPassed(fresh[0])
}

// ApplyScore attaches an enrichment result. It reports whether the message
// is currently visible.
func (e *Engine) ApplyScore(id int64, score float64, highlight bool) bool {
	for i := range e.history {
		if e.history[i].ID == id {
			e.history[i] = e.history[i].WithScore(score, highlight)
			break
		}
	}

	v, ok := e.visible[strconv.FormatInt(id, 10)]
	if !ok {
		return false
	}
	v.Message = v.Message.WithScore(score, highlight)
	return true
}

// Complete removes a message whose transit has finished.
func (e *Engine) Complete(key string) bool {
	if _, ok := e.visible[key]; !ok {
		return false
	}
	delete(e.visible, key)
	return true
}

// Visible returns the on-screen messages in insertion order.
func (e *Engine) Visible() []Visible {
	out := make([]Visible, 0, len(e.visible))
	for _, v := range e.visible {
		out = append(out, *v)
	}
	slices.SortFunc(out, func(a, b Visible) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return out
}

// IsVisible reports whether key is on screen.
func (e *Engine) IsVisible(key string) bool {
	_, ok := e.visible[key]
	return ok
}

// merge adds unknown persisted messages to the history, keeps it sorted by
// (VideoTime, ID) and repositions the cursor so already passed messages stay
// behind it. It returns the newly added messages.
func (e *Engine) merge(msgs []danmaku.Message) []danmaku.Message {
	var fresh []danmaku.Message
	for _, m := range msgs {
		if !m.Persisted() {
			continue
		}
		if _, ok := e.known[m.ID]; ok {
			continue
		}
		e.known[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return nil
	}

	var (
		boundary    danmaku.Message
		hasBoundary = e.cursor < len(e.history)
	)
	if hasBoundary {
		boundary = e.history[e.cursor]
	}

	e.history = append(e.history, fresh...)
	slices.SortFunc(e.history, danmaku.Compare)
	slices.SortFunc(fresh, danmaku.Compare)

	if !e.started {
		e.cursor = 0
		return fresh
	}

	last := e.lastTime
	e.cursor = sort.Search(len(e.history), func(i int) bool {
		m := &e.history[i]
		return m.VideoTime > last || (hasBoundary && !danmaku.Less(m, &boundary))
	})
	return fresh
}

func (e *Engine) showIfPassed(m danmaku.Message) *Visible {
	if _, ok := e.shown[m.ID]; ok {
		return nil
	}
	if m.VideoTime > e.lastTime {
		return nil
	}
	// still ahead of the cursor: the forward walk will reach it
	idx := sort.Search(len(e.history), func(i int) bool {
		return !danmaku.Less(&e.history[i], &m)
	})
	if idx >= e.cursor {
		return nil
	}
	if m.VideoTime < e.lastTime-e.cfg.DisplayDuration.Seconds() {
		return nil
	}
	return e.insert(m, elapsed(e.lastTime, m.VideoTime), false)
}

func (e *Engine) insert(m danmaku.Message, offset time.Duration, echo bool) *Visible {
	e.shown[m.ID] = struct{}{}
	return e.insertKeyed(Key(&m), m, offset, echo)
}

func (e *Engine) insertKeyed(key string, m danmaku.Message, offset time.Duration, echo bool) *Visible {
	if v, ok := e.visible[key]; ok {
		return v
	}

	remaining := e.cfg.DisplayDuration - offset
	e.seq++
	v := &Visible{
		Key:        key,
		Message:    m,
		Elapsed:    offset,
		Lane:       e.lanes.AssignFor(len(e.visible), remaining),
		InsertedAt: e.now(),
		Echo:       echo,
		seq:        e.seq,
	}
	e.visible[key] = v
	return v
}

func elapsed(currentTime, videoTime float64) time.Duration {
	d := currentTime - videoTime
	if d < 0 {
		d = 0
	}
	return time.Duration(math.Round(d*1000)) * time.Millisecond
}
