package audio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/tts"
)

// PlayerConfig contains configuration for the speaker renderer.
type PlayerConfig struct {
	SampleRate int // Hz
	Channels   int // 1 = mono, 2 = stereo
	BufferSize time.Duration
	Volume     float64

	// PollInterval is how often the end of a clip is checked.
	PollInterval time.Duration
}

// DefaultPlayerConfig returns the default player configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate:   22050,
		Channels:     1,
		BufferSize:   100 * time.Millisecond,
		Volume:       1.0,
		PollInterval: 20 * time.Millisecond,
	}
}

func (c PlayerConfig) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Channels)
	}
	if c.Volume < 0 || c.Volume > 2 {
		return fmt.Errorf("volume must be between 0.0 and 2.0, got %f", c.Volume)
	}
	return nil
}

// Player renders audio handles to an Output, normally the speakers through
// oto. It implements tts.Renderer.
type Player struct {
	output Output
	config PlayerConfig
	logger *log.Logger

	mu     sync.Mutex
	player Voice
	handle tts.AudioHandle
	data   []byte // kept alive while oto reads from it
	paused bool
	seq    uint64

	events chan tts.RenderEvent
	done   chan struct{}
	once   sync.Once
}

// NewPlayer opens the audio device. Only one oto context may exist per
// process.
func NewPlayer(config PlayerConfig, logger *log.Logger) (*Player, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid player config: %w", err)
	}
	out, err := openOto(config.SampleRate, config.Channels, config.BufferSize)
	if err != nil {
		return nil, err
	}
	return NewPlayerWithOutput(out, config, logger)
}

// NewPlayerWithOutput creates a player rendering to out.
func NewPlayerWithOutput(out Output, config PlayerConfig, logger *log.Logger) (*Player, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid player config: %w", err)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPlayerConfig().PollInterval
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Player{
		output: out,
		config: config,
		logger: logger.WithPrefix("player"),
		events: make(chan tts.RenderEvent, 16),
		done:   make(chan struct{}),
	}, nil
}

// Render starts playing handle from the beginning, replacing current playback.
func (p *Player) Render(handle tts.AudioHandle) error {
	pcm, err := p.pcmData(handle)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	// oto reads asynchronously, so it gets its own copy.
	data := make([]byte, len(pcm))
	copy(data, pcm)

	pl := p.output.NewVoice(bytes.NewReader(data))
	pl.SetVolume(p.config.Volume)
	pl.Play()

	p.seq++
	p.player = pl
	p.handle = handle
	p.data = data
	p.paused = false

	go p.watch(p.seq, pl, handle)

	p.logger.Debug("rendering", "bytes", len(data), "duration", handle.Duration())
	return nil
}

// watch polls the voice until the clip drains or is replaced.
func (p *Player) watch(seq uint64, pl Voice, handle tts.AudioHandle) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.seq != seq {
			p.mu.Unlock()
			return
		}
		if p.paused || pl.IsPlaying() {
			p.mu.Unlock()
			continue
		}

		ev := tts.RenderEvent{Kind: tts.RenderEnded, Handle: handle}
		if err := pl.Err(); err != nil {
			ev = tts.RenderEvent{Kind: tts.RenderFailed, Handle: handle, Err: err}
		}
		p.player = nil
		p.handle = nil
		p.data = nil
		p.mu.Unlock()

		select {
		case p.events <- ev:
		case <-p.done:
		}
		return
	}
}

// Pause temporarily stops playback.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player == nil || p.paused {
		return nil
	}
	p.player.Pause()
	p.paused = true
	return nil
}

// Resume continues playback from the paused position.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player == nil || !p.paused {
		return nil
	}
	p.player.Play()
	p.paused = false
	return nil
}

// Stop halts playback and forgets the current handle.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	if p.player == nil {
		return
	}
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		p.logger.Warn("closing voice", "err", err)
	}
	p.seq++
	p.player = nil
	p.handle = nil
	p.data = nil
	p.paused = false
}

// Events delivers end and failure notifications.
func (p *Player) Events() <-chan tts.RenderEvent {
	return p.events
}

// SetVolume changes the output volume of current and future clips.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.Volume = v
	if p.player != nil {
		p.player.SetVolume(v)
	}
}

// Close stops playback and ends the watch goroutines.
func (p *Player) Close() error {
	p.once.Do(func() {
		_ = p.Stop()
		close(p.done)
	})
	return nil
}

// pcmData returns the raw samples of handle, stripping a RIFF/WAVE header
// if present. The device is opened for one sample rate, so clips at another
// rate play at the wrong pitch.
func (p *Player) pcmData(handle tts.AudioHandle) ([]byte, error) {
	b := handle.Bytes()
	if len(b) == 0 {
		return nil, tts.ErrEmptyAudio
	}
	rate := 0
	if a, ok := handle.(*tts.Audio); ok {
		rate = a.SampleRate
	}

	if len(b) >= 4 && string(b[0:4]) == "RIFF" {
		info, err := ParseWAV(b)
		if err != nil {
			return nil, err
		}
		if info.BitsPerSample != 16 {
			return nil, fmt.Errorf("%w: %d-bit samples", ErrInvalidWAV, info.BitsPerSample)
		}
		rate = info.SampleRate
		b = info.PCM(b)
	}
	if rate != 0 && rate != p.config.SampleRate {
		p.logger.Warn("sample rate mismatch", "clip", rate, "device", p.config.SampleRate)
	}
	return b, nil
}
