package failures

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/domain"
)

// Settings bound the session error budget.
type Settings struct {
	// MaxConsecutive is max_errors_per_session: the budget is exhausted once
	// the consecutive failure count exceeds it.
	MaxConsecutive int
	StopOnCritical bool
}

// TrackerSummary is a read-only view of the tracker.
type TrackerSummary struct {
	Total       int                      `json:"total"`
	Consecutive int                      `json:"consecutive"`
	Critical    bool                     `json:"critical"`
	Exhausted   bool                     `json:"exhausted"`
	ByKind      map[domain.ErrorKind]int `json:"by_kind"`
}

// Tracker counts failures across all clients of a session. Safe for concurrent use.
type Tracker struct {
	settings Settings
	logger   *zap.Logger

	mu          sync.Mutex
	total       int
	consecutive int
	critical    bool
	byKind      map[domain.ErrorKind]int
}

// NewTracker creates a tracker with the given budget.
func NewTracker(settings Settings, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		settings: settings,
		logger:   logger,
		byKind:   make(map[domain.ErrorKind]int),
	}
}

// Failure registers one failed attempt and returns the record annotated with
// the consecutive count at the time.
func (t *Tracker) Failure(rec domain.ErrorRecord) domain.ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.consecutive++
	t.byKind[rec.Kind]++
	rec.Consecutive = t.consecutive

	if rec.Kind == domain.ErrorKindUnauthorized && !t.critical {
		t.critical = true
		t.logger.Error("critical broker error", zap.String("kind", string(rec.Kind)), zap.String("message", rec.Message))
	}
	if t.exhaustedLocked() {
		t.logger.Warn("session error budget exhausted",
			zap.Int("consecutive", t.consecutive),
			zap.Int("max", t.settings.MaxConsecutive))
	}
	return rec
}

// Success resets the consecutive counter.
func (t *Tracker) Success() {
	t.mu.Lock()
	t.consecutive = 0
	t.mu.Unlock()
}

// Exhausted reports whether the consecutive failure count exceeds the budget.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exhaustedLocked()
}

func (t *Tracker) exhaustedLocked() bool {
	return t.settings.MaxConsecutive > 0 && t.consecutive > t.settings.MaxConsecutive
}

// Critical reports whether an UNAUTHORIZED failure was seen.
func (t *Tracker) Critical() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.critical
}

// ShouldHalt reports whether recurring syncs must stop: the budget is
// exhausted, or a critical failure was seen with stop_on_critical set.
func (t *Tracker) ShouldHalt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exhaustedLocked() {
		return true
	}
	return t.settings.StopOnCritical && t.critical
}

// Summary returns a snapshot of the counters.
func (t *Tracker) Summary() TrackerSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	byKind := make(map[domain.ErrorKind]int, len(t.byKind))
	for k, v := range t.byKind {
		byKind[k] = v
	}
	return TrackerSummary{
		Total:       t.total,
		Consecutive: t.consecutive,
		Critical:    t.critical,
		Exhausted:   t.exhaustedLocked(),
		ByKind:      byKind,
	}
}

// Reset clears all counters, e.g. when Auto Sync starts.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = 0
	t.consecutive = 0
	t.critical = false
	t.byKind = make(map[domain.ErrorKind]int)
}
