package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/narrate/tts"
)

const indexFile = "sessions.index"

// SessionStore keeps one compressed checkpoint per document on disk.
type SessionStore struct {
	cfg    Config
	logger *log.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// Index for fast lookups
	index map[string]*sessionEntry
	size  int64

	mu    sync.Mutex
	stats CacheStats
	now   func() time.Time
}

// sessionEntry is the index record of a stored session.
type sessionEntry struct {
	Info     SessionInfo
	FilePath string
}

// record is the on-disk form of a checkpoint.
type record struct {
	ID           string
	Key          string
	Document     string
	CurrentIndex int
	Paragraphs   []string
	Settings     tts.GenerationSettings
	Clips        map[int]clip
	SavedAt      time.Time
}

type clip struct {
	Data       []byte
	Format     tts.AudioFormat
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// NewSessionStore opens or creates a session store in cfg.Path.
func NewSessionStore(cfg Config, logger *log.Logger) (*SessionStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("session store path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if cfg.CompressionLevel <= 0 {
		cfg.CompressionLevel = 3
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &SessionStore{
		cfg:    cfg,
		logger: logger.WithPrefix("session"),
		index:  make(map[string]*sessionEntry),
		stats:  CacheStats{Capacity: cfg.Capacity},
		now:    time.Now,
	}

	var err error
	s.encoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := s.loadIndex(); err != nil {
		s.logger.Warn("session index unreadable, starting empty", "err", err)
		s.index = make(map[string]*sessionEntry)
	}
	s.calculateSize()

	if cfg.TTL > 0 {
		if n := s.Prune(cfg.TTL); n > 0 {
			s.logger.Debug("pruned expired sessions", "count", n)
		}
	}
	return s, nil
}

// SessionKey identifies a document and its paragraph sequence. Editing the
// document yields a new key.
func SessionKey(document string, paragraphs []string) string {
	h := sha256.New()
	h.Write([]byte(document))
	for _, p := range paragraphs {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Save stores cp under key, replacing any earlier session for it.
func (s *SessionStore) Save(key, document string, cp tts.Checkpoint) (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record{
		ID:           uuid.NewString(),
		Key:          key,
		Document:     document,
		CurrentIndex: cp.CurrentIndex,
		Paragraphs:   cp.Paragraphs,
		Settings:     cp.Settings,
		Clips:        make(map[int]clip, len(cp.Audio)),
		SavedAt:      s.now(),
	}
	if existing, ok := s.index[key]; ok {
		rec.ID = existing.Info.ID
	}
	for idx, h := range cp.Audio {
		data := h.Bytes()
		if len(data) == 0 {
			continue
		}
		c := clip{Data: bytes.Clone(data), Duration: h.Duration(), Format: tts.FormatWAV}
		if a, ok := h.(*tts.Audio); ok {
			c.Format, c.SampleRate, c.Channels = a.Format, a.SampleRate, a.Channels
		}
		rec.Clips[idx] = c
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return SessionInfo{}, fmt.Errorf("encode session: %w", err)
	}
	compressed := s.encoder.EncodeAll(buf.Bytes(), nil)
	diskSize := int64(len(compressed))

	if s.cfg.Capacity > 0 && diskSize > s.cfg.Capacity {
		return SessionInfo{}, ErrItemTooLarge
	}

	if existing, ok := s.index[key]; ok {
		s.size -= existing.Info.Size
		delete(s.index, key)
	}
	for s.cfg.Capacity > 0 && s.size+diskSize > s.cfg.Capacity && len(s.index) > 0 {
		s.evictOldest()
	}

	path := s.filePath(key)
	if err := writeFile(path, compressed); err != nil {
		return SessionInfo{}, fmt.Errorf("write session: %w", err)
	}

	info := SessionInfo{
		ID:           rec.ID,
		Key:          key,
		Document:     document,
		Size:         diskSize,
		OriginalSize: int64(buf.Len()),
		SavedAt:      rec.SavedAt,
		CurrentIndex: rec.CurrentIndex,
		Paragraphs:   len(rec.Paragraphs),
		Clips:        len(rec.Clips),
	}
	s.index[key] = &sessionEntry{Info: info, FilePath: path}
	s.size += diskSize
	s.stats.LastSave = rec.SavedAt
	s.syncStats()

	if err := s.saveIndex(); err != nil {
		s.logger.Warn("failed to save session index", "err", err)
	}
	s.logger.Debug("session saved",
		"document", document, "clips", info.Clips,
		"size", humanize.Bytes(uint64(diskSize)), "raw", humanize.Bytes(uint64(info.OriginalSize)))
	return info, nil
}

// Load restores the session stored under key. Audio handles in the result
// are owned by the caller.
func (s *SessionStore) Load(key string) (tts.Checkpoint, SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[key]
	if !ok {
		s.stats.Misses++
		return tts.Checkpoint{}, SessionInfo{}, ErrCacheMiss
	}

	raw, err := os.ReadFile(entry.FilePath)
	if err != nil {
		s.dropLocked(key)
		s.stats.Misses++
		return tts.Checkpoint{}, SessionInfo{}, ErrCacheMiss
	}
	decoded, err := s.decoder.DecodeAll(raw, nil)
	if err != nil {
		s.dropLocked(key)
		return tts.Checkpoint{}, SessionInfo{}, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}

	var rec record
	if err := gob.NewDecoder(bytes.NewReader(decoded)).Decode(&rec); err != nil {
		s.dropLocked(key)
		return tts.Checkpoint{}, SessionInfo{}, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}

	cp := tts.Checkpoint{
		CurrentIndex: rec.CurrentIndex,
		Paragraphs:   rec.Paragraphs,
		Settings:     rec.Settings,
		Audio:        make(map[int]tts.AudioHandle, len(rec.Clips)),
	}
	for idx, c := range rec.Clips {
		cp.Audio[idx] = tts.NewAudio(c.Data, c.Format, c.SampleRate, c.Channels, c.Duration)
	}

	s.stats.Hits++
	return cp, entry.Info, nil
}

// Delete removes the session stored under key.
func (s *SessionStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; !ok {
		return ErrCacheMiss
	}
	s.dropLocked(key)
	return s.saveIndex()
}

// Prune removes sessions saved more than maxAge ago.
func (s *SessionStore) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for key, entry := range s.index {
		if entry.Info.SavedAt.Before(cutoff) {
			s.dropLocked(key)
			removed++
		}
	}
	if removed > 0 {
		if err := s.saveIndex(); err != nil {
			s.logger.Warn("failed to save session index", "err", err)
		}
	}
	return removed
}

// List returns stored sessions, most recent first.
func (s *SessionStore) List() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SessionInfo, 0, len(s.index))
	for _, entry := range s.index {
		out = append(out, entry.Info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out
}

// Stats returns store statistics.
func (s *SessionStore) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close saves the index and releases the codecs.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.saveIndex()
	_ = s.encoder.Close()
	s.decoder.Close()
	return err
}

// Private helper methods

func (s *SessionStore) filePath(key string) string {
	return filepath.Join(s.cfg.Path, key+".session")
}

func (s *SessionStore) dropLocked(key string) {
	entry, ok := s.index[key]
	if !ok {
		return
	}
	_ = os.Remove(entry.FilePath)
	s.size -= entry.Info.Size
	delete(s.index, key)
	s.syncStats()
}

func (s *SessionStore) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range s.index {
		if oldestKey == "" || entry.Info.SavedAt.Before(oldest) {
			oldestKey, oldest = key, entry.Info.SavedAt
		}
	}
	if oldestKey == "" {
		return
	}
	s.logger.Debug("evicting session", "document", s.index[oldestKey].Info.Document)
	s.dropLocked(oldestKey)
	s.stats.Evictions++
	s.stats.LastEvict = s.now()
}

func (s *SessionStore) syncStats() {
	s.stats.Size = s.size
	s.stats.ItemCount = int64(len(s.index))
}

func (s *SessionStore) calculateSize() {
	s.size = 0
	for key, entry := range s.index {
		if _, err := os.Stat(entry.FilePath); err != nil {
			delete(s.index, key)
			continue
		}
		s.size += entry.Info.Size
	}
	s.syncStats()
}

func (s *SessionStore) loadIndex() error {
	file, err := os.Open(filepath.Join(s.cfg.Path, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&s.index)
}

func (s *SessionStore) saveIndex() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.index); err != nil {
		return err
	}
	return writeFile(filepath.Join(s.cfg.Path, indexFile), buf.Bytes())
}

// writeFile writes to a temp file first, then renames it over path.
func writeFile(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}

// ShortKey abbreviates a key for display.
func ShortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return strings.ToUpper(key[:8])
}
