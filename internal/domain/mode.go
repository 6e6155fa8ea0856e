// Package domain defines core data structures used throughout the mirroring engine.
package domain

import "fmt"

// OperatingMode controls whether orders reach the broker and which history sequence is used.
type OperatingMode string

const (
	// ModeDryRun validates and records plans without touching any account.
	ModeDryRun OperatingMode = "dry_run"
	// ModeSimulation applies simulated fills to a paper ledger.
	ModeSimulation OperatingMode = "simulation"
	// ModeLive submits orders to the broker.
	ModeLive OperatingMode = "live"
)

// HistorySequence names one of the two append-only history sequences.
type HistorySequence string

const (
	SequenceLive      HistorySequence = "live"
	SequenceSimulated HistorySequence = "simulated"
)

// ParseOperatingMode converts a config value into an OperatingMode.
func ParseOperatingMode(s string) (OperatingMode, error) {
	m := OperatingMode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown operating mode %q", s)
	}
	return m, nil
}

// String returns the string representation.
func (m OperatingMode) String() string {
	return string(m)
}

// IsValid checks if the OperatingMode value is valid.
func (m OperatingMode) IsValid() bool {
	return m == ModeDryRun || m == ModeSimulation || m == ModeLive
}

// ExecutesOrders reports whether orders are sent to the broker.
func (m OperatingMode) ExecutesOrders() bool {
	return m == ModeLive
}

// UsesPaperLedger reports whether slave holdings come from the simulation ledger.
func (m OperatingMode) UsesPaperLedger() bool {
	return m == ModeSimulation
}

// Sequence returns the history sequence this mode writes to.
func (m OperatingMode) Sequence() HistorySequence {
	if m == ModeLive {
		return SequenceLive
	}
	return SequenceSimulated
}
