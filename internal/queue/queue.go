package queue

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrInFlight is returned by Begin while another request is outstanding.
	ErrInFlight = errors.New("a generation request is already in flight")

	// ErrNotInFlight is returned by Settle for an index that was never begun.
	ErrNotInFlight = errors.New("no generation request in flight for index")
)

// Config holds the retry policy.
type Config struct {
	// MaxRetries is how many times a failed paragraph is retried before it
	// is marked permanently failed.
	MaxRetries int
	// RetryDelay is how long a failed paragraph waits before it is eligible
	// again.
	RetryDelay time.Duration
}

// Stats tracks scheduler activity.
type Stats struct {
	TotalIssued    int64
	TotalSettled   int64
	TotalFailed    int64
	TotalRetries   int64
	TotalPermanent int64
	LastIssue      time.Time
}

type failure struct {
	attempts  int
	permanent bool
	retryAt   time.Time
}

// Scheduler is the lookahead scheduler. It never issues requests itself; the
// caller asks DecideNext, then reports Begin, Settle, Succeed and Fail.
type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	inflight int // -1 when idle
	failures map[int]*failure
	stats    Stats
	now      func() time.Time
}

// New creates a scheduler with the given retry policy.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		inflight: -1,
		failures: make(map[int]*failure),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetConfig replaces the retry policy. Existing failure counts are kept.
func (s *Scheduler) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// DecideNext returns the nearest index in [cursor, min(cursor+target,
// total-1)] that still needs generating. It returns false when a request is
// in flight, the window is covered, the cursor is past the end, or a
// permanently failed paragraph blocks the window.
func (s *Scheduler) DecideNext(cursor int, buffered func(int) bool, total, target int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight >= 0 || cursor < 0 || cursor >= total {
		return -1, false
	}

	now := s.now()
	last := min(cursor+target, total-1)
	for i := cursor; i <= last; i++ {
		if buffered(i) {
			continue
		}
		if f, ok := s.failures[i]; ok {
			if f.permanent {
				return -1, false
			}
			if now.Before(f.retryAt) {
				continue
			}
		}
		return i, true
	}
	return -1, false
}

// Begin marks index as the single outstanding request.
func (s *Scheduler) Begin(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight >= 0 {
		return ErrInFlight
	}
	s.inflight = index
	s.stats.TotalIssued++
	s.stats.LastIssue = s.now()
	if f, ok := s.failures[index]; ok && f.attempts > 0 {
		s.stats.TotalRetries++
	}
	return nil
}

// Settle frees the in-flight slot when a result for index arrives.
func (s *Scheduler) Settle(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight != index {
		return ErrNotInFlight
	}
	s.inflight = -1
	s.stats.TotalSettled++
	return nil
}

// InFlight returns the outstanding index, if any.
func (s *Scheduler) InFlight() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight, s.inflight >= 0
}

// Succeed clears the failure record for index.
func (s *Scheduler) Succeed(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, index)
}

// Fail records a failed attempt for index. It reports whether the retry
// budget is spent and how many attempts have failed so far.
func (s *Scheduler) Fail(index int) (permanent bool, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.failures[index]
	if !ok {
		f = &failure{}
		s.failures[index] = f
	}
	f.attempts++
	s.stats.TotalFailed++

	if f.attempts > s.cfg.MaxRetries {
		if !f.permanent {
			s.stats.TotalPermanent++
		}
		f.permanent = true
		return true, f.attempts
	}
	f.retryAt = s.now().Add(s.cfg.RetryDelay)
	return false, f.attempts
}

// NextRetry returns the earliest time a backing-off index becomes eligible
// again. It reports false when no retry is pending.
func (s *Scheduler) NextRetry() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var next time.Time
	for _, f := range s.failures {
		if f.permanent || !now.Before(f.retryAt) {
			continue
		}
		if next.IsZero() || f.retryAt.Before(next) {
			next = f.retryAt
		}
	}
	return next, !next.IsZero()
}

// PermanentlyFailed reports whether index exhausted its retries.
func (s *Scheduler) PermanentlyFailed(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[index]
	return ok && f.permanent
}

// Attempts returns the number of failed attempts recorded for index.
func (s *Scheduler) Attempts(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.failures[index]; ok {
		return f.attempts
	}
	return 0
}

// Reset forgets every failure record. The in-flight slot is untouched.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[int]*failure)
}

// GetStats returns scheduler statistics.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
