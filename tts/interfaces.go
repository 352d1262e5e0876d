package tts

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Engine is the generation port: it renders one paragraph of text into a
// playable audio handle. Implementations may block for seconds. The
// controller never calls Generate while another call is outstanding.
type Engine interface {
	// Generate converts the paragraph at index into audio. Cancellation of
	// ctx means the caller has lost interest in the result.
	Generate(ctx context.Context, index int, text string, settings GenerationSettings) (AudioHandle, error)
}

// EngineFunc adapts a plain function to the Engine interface.
type EngineFunc func(ctx context.Context, index int, text string, settings GenerationSettings) (AudioHandle, error)

// Generate calls f.
func (f EngineFunc) Generate(ctx context.Context, index int, text string, settings GenerationSettings) (AudioHandle, error) {
	return f(ctx, index, text, settings)
}

// Renderer plays audio handles to the speakers. Ended and failed playback
// is reported on the Events channel.
type Renderer interface {
	// Render starts playing the handle from the beginning, replacing any
	// current playback.
	Render(handle AudioHandle) error

	// Pause temporarily stops playback.
	Pause() error

	// Resume continues playback from the paused position.
	Resume() error

	// Stop halts playback and forgets the current handle.
	Stop() error

	// Events delivers RenderEnded and RenderFailed notifications.
	Events() <-chan RenderEvent
}

// RenderEventKind identifies what happened to a rendered handle.
type RenderEventKind int

const (
	// RenderEnded means the handle played to completion.
	RenderEnded RenderEventKind = iota
	// RenderFailed means the renderer could not play the handle.
	RenderFailed
)

// RenderEvent is emitted by a Renderer for the handle it was rendering.
type RenderEvent struct {
	Kind   RenderEventKind
	Handle AudioHandle
	Err    error
}

// GenerationSettings carries the voice parameters sent with every
// generation request.
type GenerationSettings struct {
	Voice       string  `yaml:"voice" mapstructure:"voice"`
	Speed       float64 `yaml:"speed" mapstructure:"speed"`
	Pitch       float64 `yaml:"pitch" mapstructure:"pitch"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// DefaultGenerationSettings returns neutral voice parameters.
func DefaultGenerationSettings() GenerationSettings {
	return GenerationSettings{
		Speed:       1.0,
		Temperature: 0.7,
	}
}

// AudioHandle is an opaque, revocable reference to generated audio.
type AudioHandle interface {
	// Bytes returns the encoded audio. It returns nil after Release.
	Bytes() []byte

	// Duration is the playback length of the audio.
	Duration() time.Duration

	// Release frees the underlying resource. Calling it more than once
	// has no further effect.
	Release()
}

// AudioFormat represents the format of audio data.
type AudioFormat int

const (
	// FormatPCM16 represents 16-bit little endian PCM audio.
	FormatPCM16 AudioFormat = iota
	// FormatWAV represents a RIFF/WAVE container.
	FormatWAV
	// FormatMP3 represents MP3 compressed audio.
	FormatMP3
)

// String returns the lowercase name of the format.
func (f AudioFormat) String() string {
	switch f {
	case FormatPCM16:
		return "pcm16"
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// Audio is the in-memory AudioHandle produced by the bundled engines.
type Audio struct {
	Format     AudioFormat
	SampleRate int
	Channels   int

	mu       sync.RWMutex
	data     []byte
	duration time.Duration

	once     sync.Once
	released atomic.Bool
	onRelease func()
}

// NewAudio wraps raw audio bytes. If duration is zero it is estimated from
// the PCM parameters.
func NewAudio(data []byte, format AudioFormat, sampleRate, channels int, duration time.Duration) *Audio {
	a := &Audio{
		Format:     format,
		SampleRate: sampleRate,
		Channels:   channels,
		data:       data,
		duration:   duration,
	}
	if a.duration == 0 && format == FormatPCM16 && sampleRate > 0 && channels > 0 {
		samples := len(data) / (2 * channels)
		a.duration = time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
	}
	return a
}

// OnRelease registers fn to run when the handle is released.
func (a *Audio) OnRelease(fn func()) *Audio {
	a.onRelease = fn
	return a
}

// Bytes returns the audio data, or nil once released.
func (a *Audio) Bytes() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.data
}

// Duration returns the playback length.
func (a *Audio) Duration() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.duration
}

// Release drops the audio data exactly once.
func (a *Audio) Release() {
	a.once.Do(func() {
		a.mu.Lock()
		a.data = nil
		a.mu.Unlock()
		a.released.Store(true)
		if a.onRelease != nil {
			a.onRelease()
		}
	})
}

// Released reports whether Release has been called.
func (a *Audio) Released() bool {
	return a.released.Load()
}
