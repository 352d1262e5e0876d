// Package engines builds generation engines from configuration.
package engines

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/tts"
)

// FallbackEngine wraps a primary engine with automatic fallback to a
// secondary engine when the primary fails consistently.
type FallbackEngine struct {
	primary     tts.Engine
	fallback    tts.Engine
	maxFailures int
	logger      *log.Logger

	mu            sync.Mutex
	failures      int
	usingFallback bool
}

// NewFallbackEngine switches to fallback after maxFailures consecutive
// primary failures. The switch is permanent for the engine's lifetime.
func NewFallbackEngine(primary, fallback tts.Engine, maxFailures int, logger *log.Logger) *FallbackEngine {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FallbackEngine{
		primary:     primary,
		fallback:    fallback,
		maxFailures: maxFailures,
		logger:      logger.WithPrefix("fallback"),
	}
}

// Generate uses the active engine. The request that exhausts the primary is
// retried on the fallback straight away.
func (f *FallbackEngine) Generate(ctx context.Context, index int, text string, settings tts.GenerationSettings) (tts.AudioHandle, error) {
	f.mu.Lock()
	using := f.usingFallback
	f.mu.Unlock()

	if using {
		return f.fallback.Generate(ctx, index, text, settings)
	}

	audio, err := f.primary.Generate(ctx, index, text, settings)
	if err == nil {
		f.mu.Lock()
		if f.failures > 0 {
			f.logger.Info("primary engine recovered", "failures", f.failures)
			f.failures = 0
		}
		f.mu.Unlock()
		return audio, nil
	}
	// Cancellation says nothing about the primary's health.
	if ctx.Err() != nil {
		return nil, err
	}

	f.mu.Lock()
	f.failures++
	failures := f.failures
	switched := failures >= f.maxFailures && !f.usingFallback
	if switched {
		f.usingFallback = true
	}
	f.mu.Unlock()

	f.logger.Warn("primary engine failed", "index", index, "attempt", failures, "max", f.maxFailures, "err", err)
	if !switched {
		return nil, err
	}

	f.logger.Warn("switching to fallback engine", "failures", failures)
	return f.fallback.Generate(ctx, index, text, settings)
}

// UsingFallback reports whether the fallback engine is active.
func (f *FallbackEngine) UsingFallback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usingFallback
}

// Status describes which engine is active.
func (f *FallbackEngine) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usingFallback {
		return "using fallback engine"
	}
	return "using primary engine"
}

// Close closes both engines.
func (f *FallbackEngine) Close() error {
	return errors.Join(closeEngine(f.primary), closeEngine(f.fallback))
}

func closeEngine(e tts.Engine) error {
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
