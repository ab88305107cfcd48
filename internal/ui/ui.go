// Package ui is the terminal danmaku viewer: a simulated playhead drives the
// synchronization engine and the visible set is drawn as scrolling lanes.
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the viewer in the alternate screen and blocks until it quits.
func Run(opts Options) error {
	p := tea.NewProgram(NewViewer(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
