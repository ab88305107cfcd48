package ui

import (
	"fmt"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
)

// handleServerMessage applies one server message to the viewer state.
func (m *ViewerModel) handleServerMessage(msg *protocol.Message) tea.Cmd {
	switch msg.Type {
	case protocol.MsgConnected:
		return m.handleConnected(msg)
	case protocol.MsgHistoryResult:
		m.handleHistoryResult(msg)
	case protocol.MsgDanmaku:
		m.handleDanmaku(msg)
	case protocol.MsgDanmakuAck:
		m.handleAck(msg)
	case protocol.MsgDanmakuScored:
		m.handleScored(msg)
	case protocol.MsgPong:
		m.latency = m.client.GetLatency()
	case protocol.MsgError:
		return m.handleError(msg)
	}
	return nil
}

func (m *ViewerModel) handleConnected(msg *protocol.Message) tea.Cmd {
	payload, err := codec.ParsePayload[protocol.ConnectedPayload](msg)
	if err != nil {
		return nil
	}

	m.videoID = payload.VideoID
	m.player.SetDuration(payload.Duration)

	// same identity after a reconnect keeps the loaded history; only the current window is refetched
	if m.engine == nil || m.userID != payload.UserID {
		m.engine = m.newEngine(payload.UserID)
		m.player.Seek(m.now(), m.player.Position(m.now()))
	}
	m.userID = payload.UserID
	m.windowStale = true

	if m.autoPlay {
		m.player.Play(m.now())
		m.autoPlay = false
	}
	return nil
}

func (m *ViewerModel) handleHistoryResult(msg *protocol.Message) {
	if m.engine == nil {
		return
	}
	payload, err := codec.ParsePayload[protocol.HistoryResultPayload](msg)
	if err != nil {
		return
	}
	for _, v := range m.engine.LoadHistory(payload.Danmaku) {
		m.cue(v)
	}
}

func (m *ViewerModel) handleDanmaku(msg *protocol.Message) {
	if m.engine == nil {
		return
	}
	payload, err := codec.ParsePayload[protocol.DanmakuPayload](msg)
	if err != nil {
		return
	}
	m.cue(m.engine.Receive(payload.Danmaku))
}

// handleAck shows the persisted message right away; the broadcast copy is dropped by the engine.
func (m *ViewerModel) handleAck(msg *protocol.Message) {
	if m.engine == nil {
		return
	}
	payload, err := codec.ParsePayload[protocol.DanmakuAckPayload](msg)
	if err != nil {
		return
	}
	m.engine.Echo(payload.Danmaku)
	if m.sound != nil {
		m.sound.Play(CueSent)
	}
}

func (m *ViewerModel) handleScored(msg *protocol.Message) {
	if m.engine == nil {
		return
	}
	payload, err := codec.ParsePayload[protocol.DanmakuScoredPayload](msg)
	if err != nil {
		return
	}
	if m.engine.ApplyScore(payload.ID, payload.Score, payload.IsHighlight) && payload.IsHighlight && m.sound != nil {
		m.sound.Play(CueHighlight)
	}
}

func (m *ViewerModel) handleError(msg *protocol.Message) tea.Cmd {
	payload, err := codec.ParsePayload[protocol.ErrorPayload](msg)
	if err != nil {
		return nil
	}
	log.Printf("服务端错误 %d: %s", payload.Code, payload.Message)

	if payload.Code == protocol.ErrCodeServerMaintenance {
		return m.setNotice("🚧 "+payload.Message, false)
	}
	return m.setError(fmt.Sprintf("⚠️ %s", payload.Message))
}
