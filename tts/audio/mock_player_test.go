package audio_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
)

func waitEvent(t *testing.T, r *audio.MockRenderer, timeout time.Duration) tts.RenderEvent {
	t.Helper()
	select {
	case ev := <-r.Events():
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for render event")
		return tts.RenderEvent{}
	}
}

func TestMockRendererManualFinish(t *testing.T) {
	r := audio.NewMockRenderer(0)
	clip := createTestAudio()

	if err := r.Render(clip); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if cur, paused := r.Current(); cur != clip || paused {
		t.Fatalf("Current() = %v, %v", cur, paused)
	}

	if !r.Finish() {
		t.Fatal("Finish should report an active clip")
	}
	ev := waitEvent(t, r, time.Second)
	if ev.Kind != tts.RenderEnded || ev.Handle != clip {
		t.Errorf("unexpected event %+v", ev)
	}
	if r.Finish() {
		t.Error("Finish with no clip should return false")
	}
}

func TestMockRendererAutoFinish(t *testing.T) {
	r := audio.NewMockRenderer(20 * time.Millisecond)
	clip := createTestAudio()

	start := time.Now()
	if err := r.Render(clip); err != nil {
		t.Fatalf("Render: %v", err)
	}
	ev := waitEvent(t, r, time.Second)
	if ev.Kind != tts.RenderEnded {
		t.Errorf("Kind = %v, want RenderEnded", ev.Kind)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("clip ended before its playback time")
	}
}

func TestMockRendererPauseHoldsClock(t *testing.T) {
	r := audio.NewMockRenderer(30 * time.Millisecond)
	if err := r.Render(createTestAudio()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	_ = r.Pause()

	select {
	case ev := <-r.Events():
		t.Fatalf("paused clip ended: %+v", ev)
	case <-time.After(80 * time.Millisecond):
	}

	_ = r.Resume()
	waitEvent(t, r, time.Second)

	if r.Count("pause") != 1 || r.Count("resume") != 1 {
		t.Errorf("history = %+v", r.History())
	}
}

func TestMockRendererStopSilences(t *testing.T) {
	r := audio.NewMockRenderer(10 * time.Millisecond)
	if err := r.Render(createTestAudio()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	_ = r.Stop()

	select {
	case ev := <-r.Events():
		t.Fatalf("stopped clip emitted %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMockRendererErrors(t *testing.T) {
	r := audio.NewMockRenderer(0)

	released := createTestAudio()
	released.Release()
	if err := r.Render(released); !errors.Is(err, tts.ErrEmptyAudio) {
		t.Errorf("Render(released) = %v, want ErrEmptyAudio", err)
	}

	boom := errors.New("device lost")
	r.InjectError(boom)
	if err := r.Render(createTestAudio()); !errors.Is(err, boom) {
		t.Errorf("Render = %v, want injected error", err)
	}
	r.InjectError(nil)

	if err := r.Render(createTestAudio()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	r.Fail(boom)
	ev := waitEvent(t, r, time.Second)
	if ev.Kind != tts.RenderFailed || !errors.Is(ev.Err, boom) {
		t.Errorf("unexpected event %+v", ev)
	}
}
