// Package validator checks planned orders against market hours, limits and buying power.
package validator

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/domain"
)

const (
	ReasonMarketClosed     = "market closed"
	ReasonNoChange         = "no change"
	ReasonMissingPrice     = "missing price"
	ReasonMaxOrderSize     = "max order size"
	ReasonBuyingPower      = "insufficient buying power"
	ReasonMaxPositionValue = "max position value"
	ReasonBelowMinimum     = "below minimum order value"
	ReasonRunCap           = "run cap"
)

// MarketCalendar reports whether the market is open.
type MarketCalendar interface {
	IsOpen(t time.Time) bool
}

// Input is everything the validator needs besides the plan.
type Input struct {
	Limits        domain.TradingLimits
	MarginPercent decimal.Decimal
	Slave         domain.AccountSnapshot
	Now           time.Time
	Mode          domain.OperatingMode
	// AllowClosedSimulation lets simulation and dry runs validate while the market is closed.
	AllowClosedSimulation bool
	// Precision of order quantities, 0 for whole shares.
	Precision int32
}

// Validator is stateless apart from its calendar.
type Validator struct {
	calendar MarketCalendar
	logger   *zap.Logger
}

// New creates a validator.
func New(calendar MarketCalendar, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{calendar: calendar, logger: logger}
}

// Available is the amount that may still be spent on buys:
// max(0, min(buying power, total value * (1 + margin/100) - positions value)).
func Available(slave domain.AccountSnapshot, marginPercent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(marginPercent.Div(decimal.NewFromInt(100)))
	byMargin := slave.TotalValue().Mul(factor).Sub(slave.PositionsValue())
	available := decimal.Min(slave.BuyingPower, byMargin)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// Validate returns one verdict per planned order, aligned with plan.Orders.
// Orders are judged by priority (largest |delta| first, then symbol) so that
// buying power and the run cap go to the most significant orders.
func (v *Validator) Validate(plan domain.SyncPlan, in Input) domain.ValidationResult {
	res := domain.ValidationResult{
		Verdicts: make([]domain.Verdict, len(plan.Orders)),
		Proceed:  true,
	}

	nonExecutable := false
	if v.calendar != nil && !v.calendar.IsOpen(in.Now) {
		if in.Mode.ExecutesOrders() || !in.AllowClosedSimulation {
			v.logger.Info("market closed, rejecting all orders",
				zap.String("slave", plan.SlaveAccountID),
				zap.String("mode", in.Mode.String()))
			for i, o := range plan.Orders {
				res.Verdicts[i] = reject(o, ReasonMarketClosed, false)
			}
			res.Proceed = false
			res.AbortReason = ReasonMarketClosed
			return res
		}
		nonExecutable = true
	}

	remaining := Available(in.Slave, in.MarginPercent)
	allowed := 0

	for _, i := range priority(plan.Orders) {
		o := plan.Orders[i]
		verdict := v.judge(o, in, remaining)

		if verdict.Allowed() {
			if in.Limits.MaxOrdersPerRun > 0 && allowed >= in.Limits.MaxOrdersPerRun {
				verdict = reject(o, ReasonRunCap, false)
			} else {
				allowed++
				if verdict.Quantity.IsPositive() {
					remaining = remaining.Sub(verdict.Quantity.Mul(o.Price))
				}
				verdict.NonExecutable = nonExecutable
			}
		}

		res.Verdicts[i] = verdict
	}

	return res
}

func (v *Validator) judge(o domain.PlannedOrder, in Input, remaining decimal.Decimal) domain.Verdict {
	if o.DeltaQty.IsZero() {
		return reject(o, ReasonNoChange, true)
	}
	if !o.Price.IsPositive() {
		return reject(o, ReasonMissingPrice, false)
	}

	qty := o.DeltaQty
	var reasons []string

	if in.Limits.MaxOrderSize.IsPositive() && qty.Abs().GreaterThan(in.Limits.MaxOrderSize) {
		size := in.Limits.MaxOrderSize.RoundFloor(in.Precision)
		if qty.IsNegative() {
			size = size.Neg()
		}
		qty = size
		reasons = append(reasons, ReasonMaxOrderSize)
	}

	if qty.IsPositive() {
		if qty.Mul(o.Price).GreaterThan(remaining) {
			affordable := decimal.Zero
			if remaining.IsPositive() {
				affordable = remaining.Div(o.Price).RoundFloor(in.Precision)
			}
			if !affordable.IsPositive() {
				return reject(o, ReasonBuyingPower, false)
			}
			qty = affordable
			reasons = append(reasons, ReasonBuyingPower)
		}

		if in.Limits.MaxPositionValue.IsPositive() {
			resulting := o.CurrentQty.Add(qty).Mul(o.Price)
			if resulting.GreaterThan(in.Limits.MaxPositionValue) {
				room := in.Limits.MaxPositionValue.Div(o.Price).Sub(o.CurrentQty).RoundFloor(in.Precision)
				if !room.IsPositive() {
					return reject(o, ReasonMaxPositionValue, false)
				}
				qty = room
				reasons = append(reasons, ReasonMaxPositionValue)
			}
		}
	}

	if qty.IsZero() {
		return reject(o, strings.Join(reasons, ", "), false)
	}

	if qty.Abs().Mul(o.Price).LessThan(in.Limits.MinOrderValue) {
		return reject(o, ReasonBelowMinimum, true)
	}

	if len(reasons) == 0 {
		return domain.Verdict{Order: o, Kind: domain.VerdictApproved, Quantity: qty}
	}
	return domain.Verdict{
		Order:    o,
		Kind:     domain.VerdictClipped,
		Quantity: qty,
		Reason:   strings.Join(reasons, ", "),
	}
}

func reject(o domain.PlannedOrder, reason string, silent bool) domain.Verdict {
	return domain.Verdict{
		Order:    o,
		Kind:     domain.VerdictRejected,
		Quantity: decimal.Zero,
		Reason:   reason,
		Silent:   silent,
	}
}

// priority returns plan indexes ordered by |delta| descending, then symbol.
func priority(orders []domain.PlannedOrder) []int {
	idx := make([]int, len(orders))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		oa, ob := orders[idx[a]], orders[idx[b]]
		if c := oa.DeltaQty.Abs().Cmp(ob.DeltaQty.Abs()); c != 0 {
			return c > 0
		}
		return oa.Symbol < ob.Symbol
	})
	return idx
}
