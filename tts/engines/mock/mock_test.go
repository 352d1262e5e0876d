package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/tts"
)

func newEngine() *MockEngine {
	return New(tts.MockConfig{WordsPerMinute: 150})
}

func TestGenerate(t *testing.T) {
	engine := newEngine()

	h, err := engine.Generate(context.Background(), 0, "Hello there, world!", tts.DefaultGenerationSettings())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	audio, ok := h.(*tts.Audio)
	if !ok {
		t.Fatalf("Generate returned %T, want *tts.Audio", h)
	}
	if audio.Format != tts.FormatPCM16 || audio.SampleRate != 22050 || audio.Channels != 1 {
		t.Errorf("unexpected format %v/%d/%d", audio.Format, audio.SampleRate, audio.Channels)
	}
	if len(audio.Bytes()) == 0 {
		t.Error("expected non-empty audio data")
	}
	// 3 words at 150 wpm
	if want := 1200 * time.Millisecond; audio.Duration() != want {
		t.Errorf("Duration() = %v, want %v", audio.Duration(), want)
	}

	if engine.Outstanding() != 1 {
		t.Errorf("Outstanding() = %d, want 1", engine.Outstanding())
	}
	h.Release()
	h.Release()
	if engine.Outstanding() != 0 {
		t.Errorf("Outstanding() after release = %d, want 0", engine.Outstanding())
	}
}

func TestEstimateDuration(t *testing.T) {
	engine := newEngine()
	tests := []struct {
		name  string
		text  string
		speed float64
		want  time.Duration
	}{
		{"one word", "hi", 1, 400 * time.Millisecond},
		{"empty counts as a word", "", 1, 400 * time.Millisecond},
		{"double speed", "one two three", 2, 600 * time.Millisecond},
		{"zero speed is normal", "one two three", 0, 1200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.EstimateDuration(tt.text, tt.speed); got != tt.want {
				t.Errorf("EstimateDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailIndex(t *testing.T) {
	engine := newEngine()
	engine.FailIndex(2, 2)
	ctx := context.Background()
	s := tts.DefaultGenerationSettings()

	for i := 0; i < 2; i++ {
		_, err := engine.Generate(ctx, 2, "text", s)
		var ge *tts.GenerationError
		if !errors.As(err, &ge) || ge.Index != 2 || ge.Kind != tts.KindServer {
			t.Fatalf("call %d: err = %v", i, err)
		}
		if !errors.Is(err, ErrInjected) {
			t.Errorf("call %d: err should wrap ErrInjected", i)
		}
	}
	if _, err := engine.Generate(ctx, 2, "text", s); err != nil {
		t.Errorf("third call should succeed: %v", err)
	}

	engine.FailIndex(5, -1)
	for i := 0; i < 5; i++ {
		if _, err := engine.Generate(ctx, 5, "text", s); err == nil {
			t.Fatal("index 5 should always fail")
		}
	}
	if engine.CallCount(5) != 5 {
		t.Errorf("CallCount(5) = %d", engine.CallCount(5))
	}
}

func TestBlockHonoursCancellation(t *testing.T) {
	engine := newEngine()
	engine.Block(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Generate(ctx, 1, "text", tts.DefaultGenerationSettings())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestDelayHonoursCancellation(t *testing.T) {
	engine := newEngine()
	engine.SetDelay(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := engine.Generate(ctx, 0, "text", tts.DefaultGenerationSettings())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
}

func TestMaxConcurrent(t *testing.T) {
	engine := newEngine()
	engine.SetDelay(20 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := engine.Generate(context.Background(), i, "text", tts.DefaultGenerationSettings())
			if err == nil {
				h.Release()
			}
		}(i)
	}
	wg.Wait()

	if engine.MaxConcurrent() < 2 {
		t.Errorf("MaxConcurrent() = %d, expected overlapping calls", engine.MaxConcurrent())
	}
	if len(engine.Calls()) != 3 {
		t.Errorf("Calls() = %d entries", len(engine.Calls()))
	}
}

func TestFailureRate(t *testing.T) {
	engine := New(tts.MockConfig{FailureRate: 1})
	if _, err := engine.Generate(context.Background(), 0, "text", tts.DefaultGenerationSettings()); err == nil {
		t.Error("failure rate 1 should always fail")
	}
}
