package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Common errors for session storage
var (
	// ErrCacheMiss is returned when no session is stored for a key
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when a stored session cannot be decoded
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrItemTooLarge is returned when a session exceeds the store capacity
	ErrItemTooLarge = errors.New("item too large for cache")
)

// CacheStats holds session store metrics
type CacheStats struct {
	Capacity  int64 // Maximum capacity in bytes
	Size      int64 // Current size in bytes on disk
	ItemCount int64 // Number of stored sessions

	Hits      int64
	Misses    int64
	Evictions int64

	LastSave  time.Time
	LastEvict time.Time
}

// HitRate returns hits / (hits + misses).
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// SessionInfo describes one stored session.
type SessionInfo struct {
	ID           string    // Random id assigned on first save
	Key          string    // Document key
	Document     string    // Document path or name
	Size         int64     // Size on disk (compressed)
	OriginalSize int64     // Encoded size before compression
	SavedAt      time.Time // Last save
	CurrentIndex int
	Paragraphs   int
	Clips        int
}

// String summarises the session for logs and listings.
func (i SessionInfo) String() string {
	return fmt.Sprintf("%s paragraph %d/%d, %d clips, %s (saved %s)",
		i.Document, i.CurrentIndex+1, i.Paragraphs, i.Clips,
		humanize.Bytes(uint64(i.Size)), humanize.Time(i.SavedAt))
}

// Config holds session store settings.
type Config struct {
	Path             string        // Directory for session files
	Capacity         int64         // Bytes, oldest sessions are evicted beyond it
	CompressionLevel int           // Zstd level (1-22, default 3)
	TTL              time.Duration // Sessions older than this are pruned
}

// DefaultConfig returns the default session store configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Path:             dir,
		Capacity:         256 * 1024 * 1024, // 256MB
		CompressionLevel: 3,
		TTL:              7 * 24 * time.Hour,
	}
}
