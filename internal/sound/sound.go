//go:build !ci

// Package sound plays the viewer's short audio cues.
package sound

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

// DefaultDir holds one file per cue, named after the cue (highlight.mp3, sent.wav).
const DefaultDir = "assets/sounds"

const sampleRate = beep.SampleRate(44100)

// SoundManager decodes cue files once and replays them from memory.
type SoundManager struct {
	dir string

	mu      sync.RWMutex
	buffers map[string]*beep.Buffer
	enabled bool
}

func NewSoundManager(dir string) *SoundManager {
	if dir == "" {
		dir = DefaultDir
	}
	return &SoundManager{
		dir:     dir,
		buffers: make(map[string]*beep.Buffer),
	}
}

// Init opens the speaker and loads the cue files. A missing directory only
// means no cues.
func (sm *SoundManager) Init() error {
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	if err := sm.loadSoundFiles(); err != nil {
		return err
	}

	sm.mu.Lock()
	sm.enabled = true
	sm.mu.Unlock()
	return nil
}

func (sm *SoundManager) loadSoundFiles() error {
	files, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read sound directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".mp3" && ext != ".wav" {
			continue
		}

		buffer, err := decodeFile(filepath.Join(sm.dir, name), ext)
		if err != nil {
			log.Printf("⚠️ 音效 %s 加载失败: %v", name, err)
			continue
		}
		sm.mu.Lock()
		sm.buffers[strings.TrimSuffix(name, filepath.Ext(name))] = buffer
		sm.mu.Unlock()
	}
	return nil
}

func decodeFile(path, ext string) (*beep.Buffer, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch ext {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported sound format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = streamer.Close() }()

	var resampled beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		resampled = beep.Resample(4, format.SampleRate, sampleRate, streamer)
	}

	buffer := beep.NewBuffer(beep.Format{
		SampleRate:  sampleRate,
		NumChannels: 2,
		Precision:   4,
	})
	buffer.Append(resampled)
	return buffer, nil
}

// Loaded reports whether a cue was decoded.
func (sm *SoundManager) Loaded(name string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.buffers[name]
	return ok
}

// Play starts a cue without waiting for it. Unknown cues are silent.
func (sm *SoundManager) Play(name string) {
	sm.mu.RLock()
	buffer, ok := sm.buffers[name]
	enabled := sm.enabled
	sm.mu.RUnlock()
	if !enabled || !ok {
		return
	}

	speaker.Play(buffer.Streamer(0, buffer.Len()))
}

func (sm *SoundManager) Close() {
	sm.mu.Lock()
	sm.enabled = false
	sm.mu.Unlock()
}
