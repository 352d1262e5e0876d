// Package piper implements the Piper TTS engine integration.
//
// Each paragraph is synthesized by a fresh piper process that reads the text
// on stdin and writes raw 16-bit mono PCM on stdout. Cancelling the request
// context kills the process.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/tts"
)

// ErrBinaryNotFound is returned when the piper binary cannot be located.
var ErrBinaryNotFound = errors.New("piper binary not found")

// Config holds the piper invocation settings.
type Config struct {
	BinaryPath      string
	ModelPath       string
	SampleRate      int
	SpeakerID       int
	NoiseScale      float64
	NoiseW          float64
	SentenceSilence time.Duration
	// VoiceDirs is searched when a voice name is given instead of a model
	// path.
	VoiceDirs []string
}

// ConfigFrom resolves the piper section of the narrate configuration.
func ConfigFrom(pc tts.PiperConfig, sampleRate int) (Config, error) {
	cfg := DefaultConfig()
	if pc.Binary != "" {
		cfg.BinaryPath = pc.Binary
	}
	if sampleRate > 0 {
		cfg.SampleRate = sampleRate
	}
	cfg.SpeakerID = pc.SpeakerID
	cfg.NoiseScale = pc.NoiseScale
	cfg.NoiseW = pc.NoiseW
	cfg.SentenceSilence = pc.SentenceSilence

	model := pc.ModelPath
	if model == "" {
		model = pc.Model
	}
	path, err := ResolveModel(model, cfg.VoiceDirs)
	if err != nil {
		return cfg, err
	}
	cfg.ModelPath = path
	return cfg, nil
}

// DefaultConfig returns a default configuration for Piper.
func DefaultConfig() Config {
	binary := "piper"
	if found := findPiperBinary(); found != "" {
		binary = found
	}
	return Config{
		BinaryPath: binary,
		SampleRate: 22050,
		NoiseScale: 0.667,
		NoiseW:     0.8,
		VoiceDirs:  defaultVoiceDirs(),
	}
}

// Engine runs one piper process per generation request.
type Engine struct {
	config Config
	logger *log.Logger
}

// New creates a piper engine. The binary must be resolvable on PATH or
// by absolute path.
func New(config Config, logger *log.Logger) (*Engine, error) {
	if config.BinaryPath == "" {
		return nil, ErrBinaryNotFound
	}
	path, err := exec.LookPath(config.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, config.BinaryPath)
	}
	config.BinaryPath = path
	if config.ModelPath == "" {
		return nil, ErrModelNotFound
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 22050
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{config: config, logger: logger.WithPrefix("piper")}, nil
}

// Generate synthesizes text. Settings.Voice, when set, selects another
// model by name or path for this request.
func (e *Engine) Generate(ctx context.Context, index int, text string, settings tts.GenerationSettings) (tts.AudioHandle, error) {
	model := e.config.ModelPath
	if settings.Voice != "" {
		resolved, err := ResolveModel(settings.Voice, e.config.VoiceDirs)
		if err != nil {
			return nil, tts.NewGenerationError(index, tts.KindServer, err)
		}
		model = resolved
	}

	args := e.args(model, settings)
	e.logger.Debug("running piper", "index", index, "args", args)

	cmd := exec.CommandContext(ctx, e.config.BinaryPath, args...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, tts.NewGenerationError(index, "", ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, tts.NewGenerationError(index, tts.KindServer, fmt.Errorf("piper failed: %s: %w", msg, err))
	}
	if len(output) == 0 {
		return nil, tts.NewGenerationError(index, tts.KindServer, tts.ErrEmptyAudio)
	}

	e.logger.Debug("piper generated audio", "index", index, "bytes", len(output), "elapsed", time.Since(start))
	return tts.NewAudio(output, tts.FormatPCM16, e.config.SampleRate, 1, 0), nil
}

func (e *Engine) args(model string, settings tts.GenerationSettings) []string {
	args := []string{"--model", model, "--output-raw"}
	if settings.Speed > 0 && settings.Speed != 1 {
		// piper takes a phoneme length multiplier, not a rate.
		args = append(args, "--length_scale", formatFloat(1/settings.Speed))
	}
	if e.config.SpeakerID > 0 {
		args = append(args, "--speaker", strconv.Itoa(e.config.SpeakerID))
	}
	noise := e.config.NoiseScale
	if settings.Temperature > 0 {
		noise = settings.Temperature
	}
	if noise > 0 {
		args = append(args, "--noise_scale", formatFloat(noise))
	}
	if e.config.NoiseW > 0 {
		args = append(args, "--noise_w", formatFloat(e.config.NoiseW))
	}
	if e.config.SentenceSilence > 0 {
		args = append(args, "--sentence_silence", formatFloat(e.config.SentenceSilence.Seconds()))
	}
	return args
}

// Available reports whether the binary runs.
func (e *Engine) Available(ctx context.Context) error {
	return exec.CommandContext(ctx, e.config.BinaryPath, "--version").Run()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
