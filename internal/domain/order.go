package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Outcome is the definitive result of an order.
type Outcome string

const (
	OutcomeFilled    Outcome = "filled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeError     Outcome = "error"
	OutcomeSimulated Outcome = "simulated"
)

// OrderRequest is what the engine asks the broker to execute.
type OrderRequest struct {
	AccountID     string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	ClientOrderID string
}

// OrderAck is the broker's answer to an accepted order.
type OrderAck struct {
	BrokerOrderID string
	Status        string
	FilledQty     decimal.Decimal
	// AvgPrice is zero when the broker did not report one.
	AvgPrice decimal.Decimal
}

// OrderRecord describes an order after its outcome is known.
type OrderRecord struct {
	ClientID      string          `json:"client_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price_or_estimate"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	Message       string          `json:"message,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Placed reports whether the order reached the market.
func (r OrderRecord) Placed() bool {
	return r.Outcome == OutcomeFilled
}

// HistoryEntry groups the order records of one recorded run for one client.
type HistoryEntry struct {
	RunID       string        `json:"run_id"`
	ClientID    string        `json:"client_id"`
	Mode        OperatingMode `json:"mode"`
	Fingerprint string        `json:"fingerprint"`
	Timestamp   time.Time     `json:"timestamp"`
	Orders      []OrderRecord `json:"orders"`
}
