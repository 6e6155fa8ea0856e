package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PlannedOrder is one line of a SyncPlan.
type PlannedOrder struct {
	Symbol     string          `json:"symbol"`
	CurrentQty decimal.Decimal `json:"current_qty"`
	TargetQty  decimal.Decimal `json:"target_qty"`
	DeltaQty   decimal.Decimal `json:"delta_qty"`
	// Price used for value estimates.
	Price          decimal.Decimal `json:"price"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
}

// Side returns the order side implied by the delta.
func (o PlannedOrder) Side() Side {
	if o.DeltaQty.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// SyncPlan is the full set of deltas for one (main, slave) pair. Never persisted.
type SyncPlan struct {
	MainAccountID  string          `json:"main_account_id"`
	SlaveAccountID string          `json:"slave_account_id"`
	Scale          decimal.Decimal `json:"scale"`
	// Orders are ordered by symbol and include zero deltas.
	Orders []PlannedOrder `json:"orders"`
}

// Actionable returns the orders whose delta is non-zero.
func (p SyncPlan) Actionable() []PlannedOrder {
	out := make([]PlannedOrder, 0, len(p.Orders))
	for _, o := range p.Orders {
		if !o.DeltaQty.IsZero() {
			out = append(out, o)
		}
	}
	return out
}

// IsNoop reports whether the plan changes nothing.
func (p SyncPlan) IsNoop() bool {
	for _, o := range p.Orders {
		if !o.DeltaQty.IsZero() {
			return false
		}
	}
	return true
}

// Fingerprint identifies the set of non-zero deltas. Two plans with the same
// fingerprint would submit the same orders.
func (p SyncPlan) Fingerprint() string {
	var b strings.Builder
	for _, o := range p.Orders {
		if o.DeltaQty.IsZero() {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(o.Symbol)
		b.WriteByte('=')
		b.WriteString(o.DeltaQty.String())
	}
	if b.Len() == 0 {
		return "noop"
	}
	return b.String()
}
