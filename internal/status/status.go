// Package status tracks each message's orchestration lifecycle in process
// memory: a status cache plus the set of message ids currently being worked.
package status

import (
	"log/slog"
	"sync"
	"time"
)

// Status is a message lifecycle state.
type Status string

// Lifecycle states. Absence from the cache means StatusNew. StatusCompleted
// and StatusError are terminal.
const (
	StatusNew        Status = "new"
	StatusAnalyzing  Status = "analyzing"
	StatusDelegating Status = "delegating"
	StatusReplying   Status = "replying"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Stage describes the current processing step in human-readable form.
type Stage struct {
	Stage   string `json:"stage"`
	Details string `json:"details"`
}

// MessageStatus is the cached lifecycle record for one message.
type MessageStatus struct {
	ID                string `json:"id"`
	Status            Status `json:"status"`
	ProcessingStage   Stage  `json:"processing_stage"`
	AgentName         string `json:"agent_name,omitempty"`
	AgentDescription  string `json:"agent_description,omitempty"`
	Response          string `json:"response,omitempty"`
	ProcessingDetails string `json:"processing_details,omitempty"`
	IsCompleted       bool   `json:"is_completed"`
	UpdatedAt         time.Time
}

// Details carries the fields merged into the cached record on an update.
// Empty fields keep their previous values.
type Details struct {
	Stage             string
	StageDetails      string
	AgentName         string
	AgentDescription  string
	Response          string
	ProcessingDetails string
}

// Summary is the list-endpoint view of one message.
type Summary struct {
	ID           string `json:"id"`
	Status       Status `json:"status"`
	IsProcessing bool   `json:"is_processing"`
	IsProcessed  bool   `json:"is_processed"`
}

type statusEntry struct {
	record  MessageStatus
	evictAt time.Time // zero until completion
}

type processingEntry struct {
	releaseAt time.Time // zero while active
}

// Tracker is the shared status cache and processing set. All mutation happens
// under one mutex; no multi-step update is assumed atomic without it.
type Tracker struct {
	mu         sync.Mutex
	statuses   map[string]*statusEntry
	processing map[string]*processingEntry

	releaseGrace  time.Duration
	evictionGrace time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithGrace overrides the release and eviction grace periods.
func WithGrace(release, eviction time.Duration) Option {
	return func(t *Tracker) {
		if release > 0 {
			t.releaseGrace = release
		}
		if eviction > 0 {
			t.evictionGrace = eviction
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a Tracker with 5s release grace and 5m eviction grace.
func NewTracker(log *slog.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{
		statuses:      map[string]*statusEntry{},
		processing:    map[string]*processingEntry{},
		releaseGrace:  5 * time.Second,
		evictionGrace: 5 * time.Minute,
		now:           time.Now,
		logger:        log.With(slog.String("service", "status")),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// UpdateStatus merges details into the cached record and returns the result.
// Omitted detail fields fall back to the previously stored values.
func (t *Tracker) UpdateStatus(id string, st Status, details Details) MessageStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.statuses[id]
	if !ok {
		entry = &statusEntry{record: MessageStatus{ID: id}}
		t.statuses[id] = entry
	}
	record := &entry.record
	record.Status = st
	record.UpdatedAt = t.now()
	if details.Stage != "" || details.StageDetails != "" {
		record.ProcessingStage = Stage{Stage: details.Stage, Details: details.StageDetails}
	}
	if details.AgentName != "" {
		record.AgentName = details.AgentName
	}
	if details.AgentDescription != "" {
		record.AgentDescription = details.AgentDescription
	}
	if details.Response != "" {
		record.Response = details.Response
	}
	if details.ProcessingDetails != "" {
		record.ProcessingDetails = details.ProcessingDetails
	}
	return *record
}

// MarkAsProcessing atomically claims the message id. It returns false when the
// id is already claimed (active or within the release grace), which is the
// signal for a duplicate trigger to short-circuit.
func (t *Tracker) MarkAsProcessing(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.processing[id]; ok {
		if entry.releaseAt.IsZero() || t.now().Before(entry.releaseAt) {
			return false
		}
	}
	t.processing[id] = &processingEntry{}
	return true
}

// IsProcessing reports whether the id is claimed (active or in release grace).
func (t *Tracker) IsProcessing(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.processing[id]
	if !ok {
		return false
	}
	return entry.releaseAt.IsZero() || t.now().Before(entry.releaseAt)
}

// MarkAsProcessed flags completion: the processing claim is held for a short
// grace so in-flight pollers still observe it, the record is flagged
// completed immediately, and cache eviction is scheduled for the long grace.
func (t *Tracker) MarkAsProcessed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if entry, ok := t.processing[id]; ok {
		entry.releaseAt = now.Add(t.releaseGrace)
	}
	if entry, ok := t.statuses[id]; ok {
		entry.record.IsCompleted = true
		entry.evictAt = now.Add(t.evictionGrace)
	}
}

// IsProcessed reports whether the id completed (successfully or not).
func (t *Tracker) IsProcessed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.statuses[id]
	return ok && entry.record.IsCompleted
}

// Reset drops any claim and cached record for the id (force reprocessing).
func (t *Tracker) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.processing, id)
	delete(t.statuses, id)
}

// GetStatus returns the cached record for the id.
func (t *Tracker) GetStatus(id string) (MessageStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.statuses[id]
	if !ok {
		return MessageStatus{}, false
	}
	return entry.record, true
}

// ListStatuses returns summaries for the given ids; unknown ids report
// StatusNew.
func (t *Tracker) ListStatuses(ids []string) []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		summary := Summary{ID: id, Status: StatusNew}
		if entry, ok := t.statuses[id]; ok {
			summary.Status = entry.record.Status
			summary.IsProcessed = entry.record.IsCompleted
		}
		if entry, ok := t.processing[id]; ok {
			summary.IsProcessing = entry.releaseAt.IsZero() || now.Before(entry.releaseAt)
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// Sweep removes processing claims past their release deadline and cached
// records past their eviction deadline. Driven by a cron tick; memory
// hygiene only, never correctness.
func (t *Tracker) Sweep() (released, evicted int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, entry := range t.processing {
		if !entry.releaseAt.IsZero() && !now.Before(entry.releaseAt) {
			delete(t.processing, id)
			released++
		}
	}
	for id, entry := range t.statuses {
		if !entry.evictAt.IsZero() && !now.Before(entry.evictAt) {
			delete(t.statuses, id)
			evicted++
		}
	}
	return released, evicted
}
