package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a single symbol held by an account.
type Holding struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	// Price is the last known market price per unit.
	Price decimal.Decimal `json:"price"`
}

// MarketValue returns quantity * price.
func (h Holding) MarketValue() decimal.Decimal {
	return h.Quantity.Mul(h.Price)
}

// AccountSnapshot is a point-in-time view of an account.
// Snapshots are never mutated after capture; the cache replaces them wholesale.
type AccountSnapshot struct {
	AccountID   string          `json:"account_id"`
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	Cash        decimal.Decimal `json:"cash"`
	// Holdings are ordered by symbol.
	Holdings   []Holding `json:"holdings"`
	CapturedAt time.Time `json:"captured_at"`
	// Stale is set by the cache on snapshots older than its max age.
	Stale bool `json:"stale,omitempty"`
}

// Holding returns the holding for symbol, if any.
func (s AccountSnapshot) Holding(symbol string) (Holding, bool) {
	for _, h := range s.Holdings {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return Holding{}, false
}

// Quantity returns the held quantity of symbol or zero.
func (s AccountSnapshot) Quantity(symbol string) decimal.Decimal {
	h, ok := s.Holding(symbol)
	if !ok {
		return decimal.Zero
	}
	return h.Quantity
}

// Price returns the last known price of symbol or zero.
func (s AccountSnapshot) Price(symbol string) decimal.Decimal {
	h, ok := s.Holding(symbol)
	if !ok {
		return decimal.Zero
	}
	return h.Price
}

// PositionsValue sums the market value of all holdings.
func (s AccountSnapshot) PositionsValue() decimal.Decimal {
	total := decimal.Zero
	for _, h := range s.Holdings {
		total = total.Add(h.MarketValue())
	}
	return total
}

// TotalValue is the liquidation value of the account: cash plus positions.
// Falls back to equity when no cash figure was captured.
func (s AccountSnapshot) TotalValue() decimal.Decimal {
	if s.Cash.IsZero() && !s.Equity.IsZero() {
		return s.Equity
	}
	return s.Cash.Add(s.PositionsValue())
}

// Age returns how old the snapshot is relative to now.
func (s AccountSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}
