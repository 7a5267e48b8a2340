// Package dedupe guards against duplicate message sends within a time window.
//
// The guard is content-addressed: subject id plus the first 50 characters of
// the trimmed content plus an optional context string. It promises "probably
// sent very recently", not strict exactly-once; exactly-once is enforced at
// the data backend with existing-row checks before insert.
package dedupe

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultWindow is the span during which a repeated key is a duplicate.
	DefaultWindow = 10 * time.Minute

	contentPrefixLen = 50
)

// Service is the in-process dedup map. Safe for concurrent use.
type Service struct {
	mu     sync.Mutex
	sent   map[string]time.Time
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWindow overrides the dedup window.
func WithWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a dedup service with the default 10 minute window.
func NewService(log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		sent:   map[string]time.Time{},
		window: DefaultWindow,
		now:    time.Now,
		logger: log.With(slog.String("service", "dedupe")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsDuplicate reports whether the same (subject, content, context) was marked
// sent within the window.
func (s *Service) IsDuplicate(subjectID, content, context string) bool {
	key := Key(subjectID, content, context)

	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.sent[key]
	if !ok {
		return false
	}
	if s.now().Sub(at) > s.window {
		delete(s.sent, key)
		return false
	}
	return true
}

// MarkSent records the key at the current time, then sweeps expired entries.
// Concurrent callers racing on one key both succeed; last write wins.
func (s *Service) MarkSent(subjectID, content, context string) {
	key := Key(subjectID, content, context)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent[key] = s.now()
	s.sweepLocked()
}

// Sweep drops every entry older than the window. Called on a cron tick in
// addition to the amortized sweep inside MarkSent.
func (s *Service) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// Len returns the number of live entries.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *Service) sweepLocked() int {
	cutoff := s.now().Add(-s.window)
	removed := 0
	for key, at := range s.sent {
		if at.Before(cutoff) {
			delete(s.sent, key)
			removed++
		}
	}
	return removed
}

// Key builds the content-addressed dedup key.
func Key(subjectID, content, context string) string {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) > contentPrefixLen {
		trimmed = trimmed[:contentPrefixLen]
	}
	return fmt.Sprintf("%s:%s:%s", subjectID, trimmed, context)
}
