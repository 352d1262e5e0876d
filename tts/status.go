package tts

import "slices"

// BufferView is the read-only part of the buffer store used to derive status.
type BufferView interface {
	Has(index int) bool
	Indices() []int
}

// BufferStatus describes how much audio is ready ahead of the cursor.
type BufferStatus struct {
	// BufferSize is the number of contiguous ready entries starting at the
	// cursor, the cursor included.
	BufferSize   int
	TargetBuffer int
	MinBuffer    int

	IsGenerating    bool
	GeneratingIndex int // -1 when idle

	// Generated holds every buffered index, sorted.
	Generated []int
}

// DeriveBufferStatus computes the buffer status from the store contents and
// the scheduler's in-flight index. It has no side effects.
func DeriveBufferStatus(cursor int, store BufferView, inflight int, cfg BufferedPlaybackConfig) BufferStatus {
	st := BufferStatus{
		TargetBuffer:    cfg.TargetBufferSize,
		MinBuffer:       cfg.MinBufferSize,
		IsGenerating:    inflight >= 0,
		GeneratingIndex: inflight,
	}
	if store == nil {
		return st
	}

	for i := cursor; cursor >= 0 && store.Has(i); i++ {
		st.BufferSize++
	}
	st.Generated = store.Indices()

	return st
}

// Threshold returns the number of ready entries required at the cursor
// before playback may continue. Near the end of the document it shrinks to
// the number of paragraphs left.
func Threshold(cfg BufferedPlaybackConfig, cursor, total int) int {
	remaining := total - cursor
	if remaining < 0 {
		remaining = 0
	}
	return min(cfg.MinBufferSize, remaining)
}

// Snapshot is the observable state of a playback session.
type Snapshot struct {
	Status          PlaybackStatus
	Buffer          BufferStatus
	CurrentIndex    int
	TotalParagraphs int
	Error           string
}

// Equal reports whether two snapshots describe the same state.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Status == o.Status &&
		s.CurrentIndex == o.CurrentIndex &&
		s.TotalParagraphs == o.TotalParagraphs &&
		s.Error == o.Error &&
		s.Buffer.BufferSize == o.Buffer.BufferSize &&
		s.Buffer.TargetBuffer == o.Buffer.TargetBuffer &&
		s.Buffer.MinBuffer == o.Buffer.MinBuffer &&
		s.Buffer.IsGenerating == o.Buffer.IsGenerating &&
		s.Buffer.GeneratingIndex == o.Buffer.GeneratingIndex &&
		slices.Equal(s.Buffer.Generated, o.Buffer.Generated)
}

// Progress returns the fraction of the document already played.
func (s Snapshot) Progress() float64 {
	if s.TotalParagraphs == 0 {
		return 0
	}
	if s.Status == StatusCompleted {
		return 1
	}
	return float64(s.CurrentIndex) / float64(s.TotalParagraphs)
}

// Checkpoint is the resumable part of a session: where the cursor is and
// which audio has already been generated.
type Checkpoint struct {
	CurrentIndex int
	Paragraphs   []string
	Settings     GenerationSettings
	Audio        map[int]AudioHandle
}
