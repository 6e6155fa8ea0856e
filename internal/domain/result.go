package domain

import (
	"fmt"
	"time"
)

// ClientResult is the outcome of one main -> slave sync.
type ClientResult struct {
	ClientID string `json:"client_id"`
	// Attempted counts orders submitted or simulated.
	Attempted int `json:"attempted"`
	// Placed counts orders that reached a definitive success (filled or simulated).
	Placed   int           `json:"placed"`
	Errors   []ErrorRecord `json:"errors,omitempty"`
	Skipped  string        `json:"skipped,omitempty"`
	Verdicts []Verdict     `json:"verdicts,omitempty"`
	Orders   []OrderRecord `json:"orders,omitempty"`
	// Recorded is true when a history entry was appended.
	Recorded bool          `json:"recorded"`
	Duration time.Duration `json:"duration"`
	// Failed is true when the client could not be synced at all.
	Failed bool `json:"failed"`
}

// OK reports whether the client synced without errors.
func (r ClientResult) OK() bool {
	return !r.Failed && len(r.Errors) == 0
}

// SyncRunResult aggregates the client results of one run.
type SyncRunResult struct {
	RunID      string         `json:"run_id"`
	Mode       OperatingMode  `json:"mode"`
	Source     string         `json:"source"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Clients    []ClientResult `json:"clients"`
	// BudgetExhausted is set when the session error budget ran out during the run.
	BudgetExhausted bool   `json:"budget_exhausted"`
	Critical        bool   `json:"critical"`
	Err             string `json:"error,omitempty"`
}

// Synced counts clients that finished without errors.
func (r SyncRunResult) Synced() int {
	n := 0
	for _, c := range r.Clients {
		if c.OK() {
			n++
		}
	}
	return n
}

// Partial reports whether some, but not all, clients synced.
func (r SyncRunResult) Partial() bool {
	s := r.Synced()
	return s > 0 && s < len(r.Clients)
}

// Duration of the whole run.
func (r SyncRunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary renders e.g. "3 of 4 clients synced".
func (r SyncRunResult) Summary() string {
	if r.Err != "" {
		return fmt.Sprintf("run failed: %s", r.Err)
	}
	s := fmt.Sprintf("%d of %d clients synced", r.Synced(), len(r.Clients))
	if r.BudgetExhausted {
		s += " (aborted: error budget exhausted)"
	}
	return s
}
