package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgnsrekt/narrate/tts"
)

// ErrInvalidWAV is returned for data that is not a PCM RIFF/WAVE file.
var ErrInvalidWAV = errors.New("invalid wav data")

// WAVInfo describes the PCM stream inside a WAV file.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataOffset    int
	DataLen       int
}

// Duration is the playback length of the data chunk.
func (w WAVInfo) Duration() time.Duration {
	bytesPerSecond := w.SampleRate * w.Channels * w.BitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(float64(w.DataLen) / float64(bytesPerSecond) * float64(time.Second))
}

// ParseWAV reads the fmt and data chunks of a RIFF/WAVE file.
func ParseWAV(b []byte) (WAVInfo, error) {
	var info WAVInfo
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return info, ErrInvalidWAV
	}

	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		pos += 8
		switch id {
		case "fmt ":
			if pos+16 > len(b) {
				return info, ErrInvalidWAV
			}
			if format := binary.LittleEndian.Uint16(b[pos:]); format != 1 {
				return info, fmt.Errorf("%w: format %d is not PCM", ErrInvalidWAV, format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(b[pos+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[pos+4:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(b[pos+14:]))
		case "data":
			if info.SampleRate == 0 {
				return info, fmt.Errorf("%w: data before fmt chunk", ErrInvalidWAV)
			}
			info.DataOffset = pos
			info.DataLen = min(size, len(b)-pos)
			if info.DataLen <= 0 {
				return info, tts.ErrEmptyAudio
			}
			return info, nil
		}
		pos += size + size%2
	}
	return info, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

// PCM returns the sample bytes of the data chunk.
func (w WAVInfo) PCM(b []byte) []byte {
	return b[w.DataOffset : w.DataOffset+w.DataLen]
}

// DecodeAudio wraps data produced by a remote backend in a handle. WAV data
// carries its own parameters; anything else is taken as raw PCM16 at
// sampleRate and channels.
func DecodeAudio(data []byte, format tts.AudioFormat, sampleRate, channels int) (*tts.Audio, error) {
	if len(data) == 0 {
		return nil, tts.ErrEmptyAudio
	}
	switch format {
	case tts.FormatWAV:
		info, err := ParseWAV(data)
		if err != nil {
			return nil, err
		}
		return tts.NewAudio(data, tts.FormatWAV, info.SampleRate, info.Channels, info.Duration()), nil
	case tts.FormatPCM16:
		if channels <= 0 {
			channels = 1
		}
		return tts.NewAudio(data, tts.FormatPCM16, sampleRate, channels, 0), nil
	}
	return nil, fmt.Errorf("unsupported audio format %s", format)
}
