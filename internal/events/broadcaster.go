// Package events fans out engine notifications to interested readers.
package events

import (
	"sync"
	"time"

	"github.com/vadiminshakov/mirror/internal/domain"
)

// Kind names an engine notification.
type Kind string

const (
	KindRunStarted         Kind = "run_started"
	KindRunFinished        Kind = "run_finished"
	KindTickSkipped        Kind = "tick_skipped"
	KindAutoSyncStarted    Kind = "auto_sync_started"
	KindAutoSyncStopped    Kind = "auto_sync_stopped"
	KindCrashRecovered     Kind = "crash_recovered"
	KindCacheRefreshFailed Kind = "cache_refresh_failed"
	KindBudgetExhausted    Kind = "budget_exhausted"
)

// Event is one notification. Result is set for run_finished only.
type Event struct {
	Timestamp time.Time             `json:"ts"`
	Kind      Kind                  `json:"kind"`
	RunID     string                `json:"run_id,omitempty"`
	Message   string                `json:"message,omitempty"`
	Result    *domain.SyncRunResult `json:"result,omitempty"`
}

// Broadcaster fans out events to all subscribers via buffered channels.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping if a reader is slow.
func (b *Broadcaster) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
