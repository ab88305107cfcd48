package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

const seekStep = 5.0

type keyMap struct {
	Toggle  key.Binding
	Back    key.Binding
	Forward key.Binding
	Compose key.Binding
	Color   key.Binding
	Help    key.Binding
	Quit    key.Binding
	Send    key.Binding
	Cancel  key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Toggle:  key.NewBinding(key.WithKeys(" ", "p"), key.WithHelp("space", "播放/暂停")),
		Back:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "后退 5 秒")),
		Forward: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "前进 5 秒")),
		Compose: key.NewBinding(key.WithKeys("enter", "i", "/"), key.WithHelp("enter", "发弹幕")),
		Color:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "切换颜色")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "帮助")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "退出")),
		Send:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "发送")),
		Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "取消")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Back, k.Forward, k.Compose, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Back, k.Forward},
		{k.Compose, k.Send, k.Cancel, k.Color},
		{k.Help, k.Quit},
	}
}

// handleKey processes keyboard input.
func (m *ViewerModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.input.Focused() {
		return m.handleComposeKey(msg)
	}

	now := m.now()
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.client.Close()
		return tea.Quit
	case key.Matches(msg, m.keys.Toggle):
		m.player.Toggle(now)
	case key.Matches(msg, m.keys.Back):
		m.player.SeekBy(now, -seekStep)
	case key.Matches(msg, m.keys.Forward):
		m.player.SeekBy(now, seekStep)
	case key.Matches(msg, m.keys.Color):
		m.colorIdx = (m.colorIdx + 1) % len(colorCycle)
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Compose):
		m.input.Reset()
		return m.input.Focus()
	}
	return nil
}

func (m *ViewerModel) handleComposeKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case msg.Type == tea.KeyCtrlC:
		m.quitting = true
		m.client.Close()
		return tea.Quit
	case key.Matches(msg, m.keys.Cancel):
		m.input.Blur()
		m.input.Reset()
		return nil
	case key.Matches(msg, m.keys.Send):
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// submit sends the composed danmaku anchored at the current playback position.
func (m *ViewerModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	m.input.Blur()
	if text == "" {
		return nil
	}

	m.sentSeq++
	ref := strconv.Itoa(m.sentSeq)
	pos := m.player.Position(m.now())
	if err := m.client.SendDanmaku(pos, text, colorCycle[m.colorIdx], ref); err != nil {
		return m.setNotice("⚠️ 发送失败: "+err.Error(), true)
	}
	return nil
}
