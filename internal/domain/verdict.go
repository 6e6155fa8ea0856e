package domain

import "github.com/shopspring/decimal"

// VerdictKind is the outcome of validating one planned order.
type VerdictKind string

const (
	VerdictApproved VerdictKind = "approved"
	VerdictRejected VerdictKind = "rejected"
	VerdictClipped  VerdictKind = "clipped"
)

// Verdict is the validation outcome for one planned order. Consumed immediately, never persisted.
type Verdict struct {
	Order PlannedOrder `json:"order"`
	Kind  VerdictKind  `json:"kind"`
	// Quantity is the signed quantity that may be submitted (zero when rejected).
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason,omitempty"`
	// Silent marks drops that are not worth reporting, e.g. below the minimum order value.
	Silent bool `json:"silent,omitempty"`
	// NonExecutable marks simulation orders validated while the market was closed.
	NonExecutable bool `json:"non_executable,omitempty"`
}

// Allowed reports whether the order may be submitted or simulated.
func (v Verdict) Allowed() bool {
	return v.Kind == VerdictApproved || v.Kind == VerdictClipped
}

// ValidationResult carries verdicts aligned with the plan order plus a run-level flag.
type ValidationResult struct {
	Verdicts    []Verdict `json:"verdicts"`
	Proceed     bool      `json:"proceed"`
	AbortReason string    `json:"abort_reason,omitempty"`
}

// Allowed returns verdicts that may be submitted, in plan order.
func (r ValidationResult) Allowed() []Verdict {
	out := make([]Verdict, 0, len(r.Verdicts))
	for _, v := range r.Verdicts {
		if v.Allowed() {
			out = append(out, v)
		}
	}
	return out
}
