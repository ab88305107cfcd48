package ui

import (
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/palemoky/danmaku-sync/internal/config"
	"github.com/palemoky/danmaku-sync/internal/network/client"
	"github.com/palemoky/danmaku-sync/internal/playback"
	"github.com/palemoky/danmaku-sync/internal/protocol"
)

const (
	frameInterval = 100 * time.Millisecond
	noticeTTL     = 3 * time.Second
)

// Sound cues played by the viewer.
const (
	CueHighlight = "highlight"
	CueSent      = "sent"
)

// CuePlayer plays a named sound cue. *sound.SoundManager satisfies it.
type CuePlayer interface {
	Play(name string)
}

// --- Tea Messages ---

// ServerMessage wraps a protocol message for tea.Msg.
type ServerMessage struct {
	Msg *protocol.Message
}

// ConnectedMsg indicates the first dial succeeded.
type ConnectedMsg struct{}

// ConnectionErrorMsg indicates a connection error.
type ConnectionErrorMsg struct {
	Err error
}

// ReconnectingMsg indicates reconnection in progress.
type ReconnectingMsg struct {
	Attempt  int
	MaxTries int
}

// ReconnectSuccessMsg indicates successful reconnection.
type ReconnectSuccessMsg struct{}

// ClearNoticeMsg clears a temporary notice if it is still the current one.
type ClearNoticeMsg struct{ seq int }

type frameMsg time.Time

// ViewerModel is the bubbletea model of the terminal danmaku viewer.
type ViewerModel struct {
	client   *client.Client
	cfg      config.PlaybackConfig
	engine   *playback.Engine
	player   *Playhead
	sound    CuePlayer
	now      func() time.Time
	autoPlay bool

	userID  string
	videoID string
	latency int64

	// history coverage of the current position, in video seconds
	loadedTo    float64
	windowStale bool

	notice      string
	noticeSeq   int
	noticeError bool

	reconnectChan chan tea.Msg
	connected     bool
	disconnected  bool

	sentSeq  int
	colorIdx int

	input    textinput.Model
	help     help.Model
	keys     keyMap
	width    int
	height   int
	quitting bool
}

// Options configures a viewer.
type Options struct {
	ServerURL string
	Playback  config.PlaybackConfig
	Sound     CuePlayer
	// AutoPlay starts the playhead as soon as the server confirms the room.
	AutoPlay bool
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// NewViewer creates the viewer model. The connection is opened by Init.
func NewViewer(opts Options) *ViewerModel {
	ti := textinput.New()
	ti.Placeholder = "说点什么…（回车发送，Esc 取消）"
	ti.CharLimit = 100
	ti.Width = 50

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := client.NewClient(opts.ServerURL)
	reconnectChan := make(chan tea.Msg, 10)

	c.OnReconnecting = func(attempt, maxTries int) {
		select {
		case reconnectChan <- ReconnectingMsg{Attempt: attempt, MaxTries: maxTries}:
		default:
		}
	}
	c.OnReconnect = func() {
		select {
		case reconnectChan <- ReconnectSuccessMsg{}:
		default:
		}
	}

	return &ViewerModel{
		client:        c,
		cfg:           opts.Playback,
		player:        NewPlayhead(0),
		sound:         opts.Sound,
		now:           now,
		autoPlay:      opts.AutoPlay,
		input:         ti,
		help:          help.New(),
		keys:          defaultKeyMap(),
		reconnectChan: reconnectChan,
	}
}

func (m *ViewerModel) Init() tea.Cmd {
	return tea.Batch(
		m.connectToServer(),
		textinput.Blink,
		m.listenForReconnect(),
		m.frame(),
	)
}

func (m *ViewerModel) connectToServer() tea.Cmd {
	return func() tea.Msg {
		if err := m.client.Connect(); err != nil {
			return ConnectionErrorMsg{Err: err}
		}
		return ConnectedMsg{}
	}
}

func (m *ViewerModel) listenForMessages() tea.Cmd {
	return func() tea.Msg {
		msg, err := m.client.Receive()
		if err != nil {
			return ConnectionErrorMsg{Err: err}
		}
		return ServerMessage{Msg: msg}
	}
}

func (m *ViewerModel) listenForReconnect() tea.Cmd {
	return func() tea.Msg {
		return <-m.reconnectChan
	}
}

func (m *ViewerModel) frame() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m *ViewerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case ConnectedMsg:
		m.connected = true
		m.client.StartHeartbeat()
		return m, m.listenForMessages()

	case ConnectionErrorMsg:
		m.disconnected = true
		return m, m.setError(fmt.Sprintf("连接已断开: %v", msg.Err))

	case ServerMessage:
		return m, tea.Batch(m.handleServerMessage(msg.Msg), m.listenForMessages())

	case ReconnectingMsg:
		notice := fmt.Sprintf("🔄 正在重连 (%d/%d)...", msg.Attempt, msg.MaxTries)
		return m, tea.Batch(m.setNotice(notice, false), m.listenForReconnect())

	case ReconnectSuccessMsg:
		return m, tea.Batch(m.setNotice("✅ 重连成功", true), m.listenForReconnect())

	case ClearNoticeMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
			m.noticeError = false
		}
		return m, nil

	case frameMsg:
		m.advance()
		if m.quitting {
			return m, nil
		}
		return m, m.frame()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// advance drives the engine from the playhead: one Tick per frame, history
// fetches around seeks, and removal of finished transits.
func (m *ViewerModel) advance() {
	if m.engine == nil {
		return
	}
	now := m.now()
	if m.player.Playing() && m.player.Ended(now) {
		m.player.Pause(now)
	}

	pos := m.player.Position(now)
	seek := m.player.TakeSeek()
	jump := math.Abs(pos-m.engine.LastTime()) > m.engine.SeekThreshold().Seconds()

	for _, v := range m.engine.Tick(pos, seek) {
		m.cue(v)
	}

	prefetch := m.cfg.PrefetchWindow
	if prefetch <= 0 {
		prefetch = 60
	}
	switch {
	case seek || jump || m.windowStale:
		m.requestWindow(pos-m.engine.DisplayDuration().Seconds(), pos+prefetch)
	case pos+prefetch/2 >= m.loadedTo:
		m.requestWindow(m.loadedTo, m.loadedTo+prefetch)
	}

	m.expire(now)
}

// requestWindow asks the server for [from, to), clamped to the video.
func (m *ViewerModel) requestWindow(from, to float64) {
	from = math.Max(from, 0)
	if d := m.player.Duration(); d > 0 {
		// messages may sit exactly at the end
		to = math.Min(to, math.Nextafter(d, math.Inf(1)))
	}
	if to <= from {
		return
	}
	if err := m.client.RequestHistory(from, to); err != nil {
		// retried next frame
		m.windowStale = true
		return
	}
	m.loadedTo = to
	m.windowStale = false
}

func (m *ViewerModel) expire(now time.Time) {
	display := m.engine.DisplayDuration()
	for _, v := range m.engine.Visible() {
		if transit(&v, now, display) >= 1 {
			m.engine.Complete(v.Key)
		}
	}
}

// transit is the fraction of the on-screen journey completed at now.
func transit(v *playback.Visible, now time.Time, display time.Duration) float64 {
	if display <= 0 {
		return 1
	}
	p := float64(v.Elapsed+now.Sub(v.InsertedAt)) / float64(display)
	return math.Max(0, math.Min(1, p))
}

func (m *ViewerModel) cue(v *playback.Visible) {
	if m.sound != nil && v != nil && v.Message.Highlighted() {
		m.sound.Play(CueHighlight)
	}
}

func (m *ViewerModel) setNotice(text string, temporary bool) tea.Cmd {
	m.noticeSeq++
	m.notice = text
	m.noticeError = false
	if !temporary {
		return nil
	}
	seq := m.noticeSeq
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg { return ClearNoticeMsg{seq: seq} })
}

func (m *ViewerModel) setError(text string) tea.Cmd {
	cmd := m.setNotice(text, true)
	m.noticeError = true
	return cmd
}

// newEngine builds the engine once the server has confirmed the identity
// used for self-echo suppression.
func (m *ViewerModel) newEngine(selfID string) *playback.Engine {
	return playback.New(playback.Config{
		DisplayDuration: m.cfg.DisplayDurationTime(),
		SeekThreshold:   time.Duration(m.cfg.SeekThreshold * float64(time.Second)),
		LaneCount:       m.cfg.LaneCount,
		LoadFactor:      m.cfg.LaneLoadFactor,
	}, selfID, playback.WithClock(m.now))
}

// Engine exposes the synchronization engine, nil before the first handshake.
func (m *ViewerModel) Engine() *playback.Engine { return m.engine }

// Player exposes the playhead.
func (m *ViewerModel) Player() *Playhead { return m.player }
