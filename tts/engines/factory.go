package engines

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/engines/bus"
	"github.com/dgnsrekt/narrate/tts/engines/mock"
	"github.com/dgnsrekt/narrate/tts/engines/piper"
	"github.com/dgnsrekt/narrate/tts/engines/remote"
)

// New creates the configured engine, wrapped in a FallbackEngine when
// cfg.Fallback is set. The returned closer releases engine resources.
func New(cfg tts.Config, logger *log.Logger) (tts.Engine, io.Closer, error) {
	if logger == nil {
		logger = log.Default()
	}
	primary, err := build(cfg.Engine, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%s engine: %w", cfg.Engine, err)
	}
	if cfg.Fallback == "" {
		return primary, closer{primary}, nil
	}

	secondary, err := build(cfg.Fallback, cfg, logger)
	if err != nil {
		_ = closeEngine(primary)
		return nil, nil, fmt.Errorf("%s fallback engine: %w", cfg.Fallback, err)
	}
	fe := NewFallbackEngine(primary, secondary, cfg.FallbackAfter, logger)
	return fe, fe, nil
}

// Name returns a display name for the configured engine.
func Name(cfg tts.Config) string {
	if cfg.Fallback != "" {
		return cfg.Engine + "+" + cfg.Fallback
	}
	return cfg.Engine
}

func build(name string, cfg tts.Config, logger *log.Logger) (tts.Engine, error) {
	switch name {
	case "mock":
		return mock.New(cfg.Mock), nil
	case "piper":
		pc, err := piper.ConfigFrom(cfg.Piper, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		return piper.New(pc, logger)
	case "remote":
		return remote.New(remote.ConfigFrom(cfg.Remote, cfg.SampleRate), remote.WithLogger(logger))
	case "bus":
		return bus.Connect(cfg.Bus.URL, cfg.Bus.Subject, logger)
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}

type closer struct{ e tts.Engine }

func (c closer) Close() error { return closeEngine(c.e) }
