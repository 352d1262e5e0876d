package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/dgnsrekt/narrate/tts"
)

// MockRenderer implements tts.Renderer without producing sound. Clips end
// after PlaybackTime of unpaused rendering, or when Finish is called.
type MockRenderer struct {
	mu sync.Mutex

	// PlaybackTime is how long a clip plays before ending on its own. Zero
	// means clips only end through Finish or Fail.
	playbackTime time.Duration

	current   tts.AudioHandle
	paused    bool
	remaining time.Duration
	started   time.Time
	timer     *time.Timer
	seq       uint64

	history []PlaybackEvent
	events  chan tts.RenderEvent

	renderError error
}

// PlaybackEvent records a renderer call for test verification.
type PlaybackEvent struct {
	Type      string
	Timestamp time.Time
	Handle    tts.AudioHandle
}

// NewMockRenderer creates a mock renderer whose clips end after playbackTime.
func NewMockRenderer(playbackTime time.Duration) *MockRenderer {
	return &MockRenderer{
		playbackTime: playbackTime,
		events:       make(chan tts.RenderEvent, 64),
	}
}

// Render starts "playing" handle.
func (m *MockRenderer) Render(handle tts.AudioHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.renderError != nil {
		m.record("render-error", handle)
		return m.renderError
	}
	if handle == nil || len(handle.Bytes()) == 0 {
		m.record("render-error", handle)
		return tts.ErrEmptyAudio
	}

	m.stopTimerLocked()
	m.seq++
	m.current = handle
	m.paused = false
	m.remaining = m.playbackTime
	m.record("render", handle)
	m.startTimerLocked()
	return nil
}

// Pause stops the playback clock.
func (m *MockRenderer) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.paused {
		return nil
	}
	if m.timer != nil {
		m.remaining -= time.Since(m.started)
		if m.remaining < 0 {
			m.remaining = 0
		}
	}
	m.stopTimerLocked()
	m.paused = true
	m.record("pause", m.current)
	return nil
}

// Resume restarts the playback clock.
func (m *MockRenderer) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.paused {
		return nil
	}
	m.paused = false
	m.record("resume", m.current)
	m.startTimerLocked()
	return nil
}

// Stop forgets the current clip without emitting an event.
func (m *MockRenderer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimerLocked()
	if m.current != nil {
		m.record("stop", m.current)
	}
	m.seq++
	m.current = nil
	m.paused = false
	return nil
}

// Events delivers end and failure notifications.
func (m *MockRenderer) Events() <-chan tts.RenderEvent {
	return m.events
}

// Finish ends the current clip as if it had played to completion.
func (m *MockRenderer) Finish() bool {
	return m.end(tts.RenderEvent{Kind: tts.RenderEnded})
}

// Fail reports a playback failure for the current clip.
func (m *MockRenderer) Fail(err error) bool {
	if err == nil {
		err = errors.New("mock render failure")
	}
	return m.end(tts.RenderEvent{Kind: tts.RenderFailed, Err: err})
}

func (m *MockRenderer) end(ev tts.RenderEvent) bool {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return false
	}
	ev = m.endLocked(ev)
	m.mu.Unlock()

	m.emit(ev)
	return true
}

func (m *MockRenderer) endLocked(ev tts.RenderEvent) tts.RenderEvent {
	m.stopTimerLocked()
	ev.Handle = m.current
	m.record("end", m.current)
	m.seq++
	m.current = nil
	m.paused = false
	return ev
}

func (m *MockRenderer) emit(ev tts.RenderEvent) {
	select {
	case m.events <- ev:
	default:
	}
}

func (m *MockRenderer) startTimerLocked() {
	if m.playbackTime <= 0 {
		return
	}
	seq := m.seq
	m.started = time.Now()
	m.timer = time.AfterFunc(m.remaining, func() {
		m.mu.Lock()
		if m.seq != seq || m.paused || m.current == nil {
			m.mu.Unlock()
			return
		}
		ev := m.endLocked(tts.RenderEvent{Kind: tts.RenderEnded})
		m.mu.Unlock()
		m.emit(ev)
	})
}

func (m *MockRenderer) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *MockRenderer) record(kind string, h tts.AudioHandle) {
	m.history = append(m.history, PlaybackEvent{Type: kind, Timestamp: time.Now(), Handle: h})
}

// InjectError makes every following Render call fail with err.
func (m *MockRenderer) InjectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderError = err
}

// Current returns the clip being rendered and whether it is paused.
func (m *MockRenderer) Current() (tts.AudioHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.paused
}

// History returns a copy of the recorded calls.
func (m *MockRenderer) History() []PlaybackEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlaybackEvent, len(m.history))
	copy(out, m.history)
	return out
}

// Count returns how many recorded calls have the given type.
func (m *MockRenderer) Count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.history {
		if e.Type == kind {
			n++
		}
	}
	return n
}
