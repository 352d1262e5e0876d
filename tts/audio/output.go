package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Output is a sound device. The Player asks it for one voice per clip.
type Output interface {
	NewVoice(r io.Reader) Voice
}

// Voice plays a single clip read from the reader it was created with.
// *oto.Player satisfies it.
type Voice interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Err() error
	Close() error
}

type otoOutput struct {
	ctx *oto.Context
}

func (o otoOutput) NewVoice(r io.Reader) Voice {
	return o.ctx.NewPlayer(r)
}

// openOto creates the process-wide oto context for signed 16-bit samples.
// Only one oto context may exist per process.
func openOto(sampleRate, channels int, bufferSize time.Duration) (Output, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready
	return otoOutput{ctx: ctx}, nil
}
