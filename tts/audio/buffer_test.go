package audio_test

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
)

// createTestAudio creates a one second stereo clip.
func createTestAudio() *tts.Audio {
	return tts.NewAudio(make([]byte, 1024), tts.FormatPCM16, 44100, 2, time.Second)
}

func fill(buf *audio.Buffer, indices ...int) map[int]*tts.Audio {
	out := make(map[int]*tts.Audio, len(indices))
	for _, i := range indices {
		a := createTestAudio()
		buf.Put(i, a)
		out[i] = a
	}
	return out
}

func TestBufferPutAndGet(t *testing.T) {
	buf := audio.NewBuffer(1)
	clips := fill(buf, 0, 1, 2)

	for i, want := range clips {
		got, ok := buf.Get(i)
		if !ok {
			t.Fatalf("Get(%d) missing", i)
		}
		if got != want {
			t.Errorf("Get(%d) returned a different handle", i)
		}
	}

	if _, ok := buf.Get(7); ok {
		t.Error("Get(7) should miss")
	}
	if buf.Len() != 3 {
		t.Errorf("Len() = %d, want 3", buf.Len())
	}
}

func TestBufferPutOverwriteReleases(t *testing.T) {
	buf := audio.NewBuffer(1)
	first := createTestAudio()
	second := createTestAudio()

	buf.Put(3, first)
	buf.Put(3, first)
	if first.Released() {
		t.Fatal("re-putting the same handle must not release it")
	}

	buf.Put(3, second)
	if !first.Released() {
		t.Error("overwritten handle should be released")
	}
	if second.Released() {
		t.Error("new handle should not be released")
	}
	if got := buf.Stats().TotalReplaced; got != 1 {
		t.Errorf("TotalReplaced = %d, want 1", got)
	}
}

func TestBufferEvictBefore(t *testing.T) {
	tests := []struct {
		name         string
		retainBehind int
		cursor       int
		wantLeft     []int
	}{
		{"retain one", 1, 3, []int{2, 3, 4, 5}},
		{"retain none", 0, 3, []int{3, 4, 5}},
		{"retain three", 3, 3, []int{0, 1, 2, 3, 4, 5}},
		{"cursor at start", 1, 0, []int{0, 1, 2, 3, 4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := audio.NewBuffer(tt.retainBehind)
			clips := fill(buf, 0, 1, 2, 3, 4, 5)

			evicted := buf.EvictBefore(tt.cursor)
			if evicted != 6-len(tt.wantLeft) {
				t.Errorf("EvictBefore() = %d, want %d", evicted, 6-len(tt.wantLeft))
			}
			if got := buf.Indices(); !slices.Equal(got, tt.wantLeft) {
				t.Errorf("Indices() = %v, want %v", got, tt.wantLeft)
			}
			for i, a := range clips {
				if a.Released() == slices.Contains(tt.wantLeft, i) {
					t.Errorf("index %d released=%v", i, a.Released())
				}
			}
		})
	}
}

func TestBufferEvictOutside(t *testing.T) {
	buf := audio.NewBuffer(1)
	clips := fill(buf, 0, 1, 2, 8, 9, 10, 15)

	if n := buf.EvictOutside(7, 12); n != 4 {
		t.Errorf("EvictOutside() = %d, want 4", n)
	}
	if got := buf.Indices(); !slices.Equal(got, []int{8, 9, 10}) {
		t.Errorf("Indices() = %v", got)
	}
	if !clips[15].Released() || !clips[0].Released() {
		t.Error("evicted clips should be released")
	}
}

func TestBufferClear(t *testing.T) {
	buf := audio.NewBuffer(1)
	clips := fill(buf, 0, 1, 2)
	v := buf.Version()

	if n := buf.Clear(); n != 3 {
		t.Errorf("Clear() = %d, want 3", n)
	}
	if buf.Len() != 0 {
		t.Errorf("Len() after Clear = %d", buf.Len())
	}
	for i, a := range clips {
		if !a.Released() {
			t.Errorf("clip %d not released", i)
		}
	}
	if buf.Version() == v {
		t.Error("Clear should bump the version")
	}
	if n := buf.Clear(); n != 0 {
		t.Errorf("second Clear() = %d, want 0", n)
	}
}

func TestBufferEntriesOrdered(t *testing.T) {
	buf := audio.NewBuffer(1)
	fill(buf, 5, 1, 3)

	entries := buf.Entries()
	if len(entries) != 3 {
		t.Fatalf("Entries() len = %d", len(entries))
	}
	for i, want := range []int{1, 3, 5} {
		if entries[i].Index != want {
			t.Errorf("entries[%d].Index = %d, want %d", i, entries[i].Index, want)
		}
		if entries[i].GeneratedAt.IsZero() {
			t.Errorf("entries[%d].GeneratedAt not set", i)
		}
	}
}

func TestBufferReleaseCountedOnce(t *testing.T) {
	buf := audio.NewBuffer(0)
	releases := 0
	a := tts.NewAudio([]byte{1, 2}, tts.FormatPCM16, 22050, 1, 0).OnRelease(func() { releases++ })

	buf.Put(0, a)
	buf.EvictBefore(5)
	buf.Clear()
	a.Release()

	if releases != 1 {
		t.Errorf("release hook ran %d times, want 1", releases)
	}
}

func TestBufferConcurrency(t *testing.T) {
	buf := audio.NewBuffer(1)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buf.Put(w*100+i, createTestAudio())
				buf.Has(i)
				buf.Indices()
			}
		}(w)
	}
	wg.Wait()

	if buf.Len() != 400 {
		t.Errorf("Len() = %d, want 400", buf.Len())
	}
	if got := buf.Stats().PeakSize; got != 400 {
		t.Errorf("PeakSize = %d, want 400", got)
	}
}
