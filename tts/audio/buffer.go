// Package audio provides the audio buffer store and playback renderers.
package audio

import (
	"slices"
	"sync"
	"time"

	"github.com/dgnsrekt/narrate/tts"
)

// BufferEntry is one generated paragraph held by the buffer.
type BufferEntry struct {
	Index       int
	Audio       tts.AudioHandle
	GeneratedAt time.Time
}

// BufferStats tracks buffer activity.
type BufferStats struct {
	TotalAdded    uint64
	TotalEvicted  uint64
	TotalReplaced uint64
	PeakSize      int
}

// Buffer maps paragraph indices to generated audio. Every handle that leaves
// the buffer (eviction, clear, overwrite) is released exactly once.
type Buffer struct {
	mu      sync.RWMutex
	entries map[int]*BufferEntry

	retainBehind int
	version      uint64
	stats        BufferStats

	now func() time.Time
}

// NewBuffer creates an empty buffer that keeps retainBehind entries behind
// the cursor on EvictBefore.
func NewBuffer(retainBehind int) *Buffer {
	if retainBehind < 0 {
		retainBehind = 0
	}
	return &Buffer{
		entries:      make(map[int]*BufferEntry),
		retainBehind: retainBehind,
		now:          time.Now,
	}
}

// SetRetainBehind changes how many entries behind the cursor survive eviction.
func (b *Buffer) SetRetainBehind(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	b.retainBehind = n
}

// Put stores audio at index, replacing and releasing any previous handle.
func (b *Buffer) Put(index int, audio tts.AudioHandle) {
	if audio == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.entries[index]; ok {
		if prev.Audio == audio {
			return
		}
		prev.Audio.Release()
		b.stats.TotalReplaced++
	}

	b.entries[index] = &BufferEntry{Index: index, Audio: audio, GeneratedAt: b.now()}
	b.stats.TotalAdded++
	if len(b.entries) > b.stats.PeakSize {
		b.stats.PeakSize = len(b.entries)
	}
	b.version++
}

// Get returns the audio stored at index.
func (b *Buffer) Get(index int) (tts.AudioHandle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[index]
	if !ok {
		return nil, false
	}
	return e.Audio, true
}

// Has reports whether index has audio.
func (b *Buffer) Has(index int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[index]
	return ok
}

// Remove deletes and releases the entry at index.
func (b *Buffer) Remove(index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(index)
}

// EvictBefore releases every entry older than cursor-retainBehind and
// returns how many were removed.
func (b *Buffer) EvictBefore(cursor int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := cursor - b.retainBehind
	n := 0
	for idx := range b.entries {
		if idx < limit && b.removeLocked(idx) {
			n++
		}
	}
	return n
}

// EvictOutside releases every entry whose index is not within [lo, hi].
func (b *Buffer) EvictOutside(lo, hi int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for idx := range b.entries {
		if (idx < lo || idx > hi) && b.removeLocked(idx) {
			n++
		}
	}
	return n
}

// Clear releases every entry.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for idx := range b.entries {
		if b.removeLocked(idx) {
			n++
		}
	}
	return n
}

func (b *Buffer) removeLocked(index int) bool {
	e, ok := b.entries[index]
	if !ok {
		return false
	}
	delete(b.entries, index)
	e.Audio.Release()
	b.stats.TotalEvicted++
	b.version++
	return true
}

// Indices returns the buffered indices in ascending order.
func (b *Buffer) Indices() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]int, 0, len(b.entries))
	for idx := range b.entries {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// Entries returns a copy of the entries ordered by index.
func (b *Buffer) Entries() []BufferEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]BufferEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, c BufferEntry) int { return a.Index - c.Index })
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Version changes on every mutation.
func (b *Buffer) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Stats returns buffer statistics.
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}
