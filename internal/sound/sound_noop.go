//go:build ci

// Package sound plays the viewer's short audio cues.
package sound

const DefaultDir = "assets/sounds"

// SoundManager is silent in CI builds, which have no audio device.
type SoundManager struct{}

func NewSoundManager(string) *SoundManager {
	return &SoundManager{}
}

func (sm *SoundManager) Init() error { return nil }

func (sm *SoundManager) Loaded(string) bool { return false }

func (sm *SoundManager) Play(string) {}

func (sm *SoundManager) Close() {}
