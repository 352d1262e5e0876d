// Package mock provides a scripted TTS engine for tests and demos.
package mock

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/narrate/tts"
)

// ErrInjected is returned for scripted and random failures.
var ErrInjected = errors.New("mock: injected failure")

const sampleRate = 22050

// Call records one Generate invocation.
type Call struct {
	Index    int
	Text     string
	Settings tts.GenerationSettings
	At       time.Time
}

// MockEngine implements tts.Engine with silent PCM audio. Delays, failures
// and hangs can be scripted per paragraph index.
type MockEngine struct {
	mu sync.Mutex

	delay       time.Duration
	wpm         int
	failureRate float64
	failures    map[int]int // remaining scripted failures, -1 for always
	failureErr  error
	blocked     map[int]bool
	onGenerate  func(index int)
	rng         *rand.Rand

	calls     []Call
	active    int
	maxActive int
	generated int
	released  int
}

// New creates a mock engine from cfg.
func New(cfg tts.MockConfig) *MockEngine {
	wpm := cfg.WordsPerMinute
	if wpm <= 0 {
		wpm = 150
	}
	return &MockEngine{
		delay:       cfg.GenerationDelay,
		wpm:         wpm,
		failureRate: cfg.FailureRate,
		failures:    make(map[int]int),
		failureErr:  ErrInjected,
		blocked:     make(map[int]bool),
		rng:         rand.New(rand.NewPCG(1, 2)),
	}
}

// Generate implements tts.Engine.
func (e *MockEngine) Generate(ctx context.Context, index int, text string, settings tts.GenerationSettings) (tts.AudioHandle, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Index: index, Text: text, Settings: settings, At: time.Now()})
	e.active++
	e.maxActive = max(e.maxActive, e.active)
	delay, blocked, hook := e.delay, e.blocked[index], e.onGenerate
	fail := e.shouldFailLocked(index)
	failErr := e.failureErr
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if hook != nil {
		hook(index)
	}

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	if fail {
		return nil, tts.NewGenerationError(index, tts.KindServer, failErr)
	}
	return e.synthesize(text, settings), nil
}

func (e *MockEngine) shouldFailLocked(index int) bool {
	if n, ok := e.failures[index]; ok {
		switch {
		case n < 0:
			return true
		case n > 0:
			e.failures[index] = n - 1
			return true
		}
	}
	return e.failureRate > 0 && e.rng.Float64() < e.failureRate
}

// synthesize returns silence lasting as long as the text would take to read.
func (e *MockEngine) synthesize(text string, settings tts.GenerationSettings) *tts.Audio {
	d := e.EstimateDuration(text, settings.Speed)
	samples := int(d.Seconds() * sampleRate)
	data := make([]byte, max(samples, 1)*2)

	e.mu.Lock()
	e.generated++
	e.mu.Unlock()

	audio := tts.NewAudio(data, tts.FormatPCM16, sampleRate, 1, d)
	return audio.OnRelease(func() {
		e.mu.Lock()
		e.released++
		e.mu.Unlock()
	})
}

// EstimateDuration estimates speaking time for text at the given speed.
func (e *MockEngine) EstimateDuration(text string, speed float64) time.Duration {
	words := len(strings.Fields(text))
	if words < 1 {
		words = 1
	}
	if speed <= 0 {
		speed = 1
	}
	seconds := float64(words) * 60.0 / float64(e.wpm) / speed
	return time.Duration(seconds * float64(time.Second))
}

// Test control methods

// SetDelay sets the simulated generation delay.
func (e *MockEngine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// FailIndex makes the next n calls for index fail. A negative n fails every
// call.
func (e *MockEngine) FailIndex(index, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[index] = n
}

// SetFailureError replaces the error returned by scripted failures.
func (e *MockEngine) SetFailureError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureErr = err
}

// Block makes calls for index hang until their context is cancelled.
func (e *MockEngine) Block(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blocked[index] = true
}

// Unblock lets later calls for index complete normally.
func (e *MockEngine) Unblock(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.blocked, index)
}

// OnGenerate registers a hook run at the start of every call.
func (e *MockEngine) OnGenerate(fn func(index int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onGenerate = fn
}

// Calls returns a copy of the recorded calls.
func (e *MockEngine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallCount returns the number of calls made for index.
func (e *MockEngine) CallCount(index int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Index == index {
			n++
		}
	}
	return n
}

// MaxConcurrent returns the highest number of overlapping calls observed.
func (e *MockEngine) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive
}

// Outstanding returns how many generated handles have not been released.
func (e *MockEngine) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generated - e.released
}
