// Package calculator turns a main/slave snapshot pair into a SyncPlan.
package calculator

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/mirror/internal/domain"
)

// Rounding selects how fractional target quantities are resolved.
type Rounding string

const (
	RoundNearest Rounding = "nearest"
	RoundDown    Rounding = "down"
	RoundUp      Rounding = "up"
)

// IsValid checks if the Rounding value is valid.
func (r Rounding) IsValid() bool {
	return r == RoundNearest || r == RoundDown || r == RoundUp
}

var hundred = decimal.NewFromInt(100)

// Params are the per-client sizing inputs.
type Params struct {
	Method        domain.ScaleMethod
	FixedAmount   decimal.Decimal
	NominalEquity decimal.Decimal
	// UsagePercent for DYNAMIC_RATIO; zero means 100.
	UsagePercent decimal.Decimal
	Threshold    decimal.Decimal
	// Precision is the number of decimal places of a quantity, 0 for whole shares.
	Precision int32
	Rounding  Rounding
}

// ParamsFor builds Params from a client configuration.
func ParamsFor(c domain.ClientConfig, precision int32, rounding Rounding) Params {
	return Params{
		Method:        c.ScaleMethod,
		FixedAmount:   c.FixedAmount,
		NominalEquity: c.NominalEquity,
		UsagePercent:  c.UsagePercent,
		Threshold:     c.Threshold,
		Precision:     precision,
		Rounding:      rounding,
	}
}

// Calculator is pure and safe for concurrent use.
type Calculator struct {
	logger *zap.Logger
}

// New creates a calculator.
func New(logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{logger: logger}
}

// Scale returns the sizing factor of slave relative to main.
func (c *Calculator) Scale(main, slave domain.AccountSnapshot, p Params) (decimal.Decimal, error) {
	if !main.Equity.IsPositive() {
		return decimal.Zero, errors.Wrapf(domain.ErrUndefinedScale, "main account %s equity %s", main.AccountID, main.Equity)
	}

	switch p.Method {
	case domain.ScaleEquityRatio, "":
		return slave.Equity.Div(main.Equity), nil

	case domain.ScaleFixedAmount:
		if !p.FixedAmount.IsPositive() {
			return decimal.Zero, errors.Wrap(domain.ErrUndefinedScale, "fixed amount must be positive")
		}
		nominal := p.NominalEquity
		if !nominal.IsPositive() {
			nominal = slave.Equity
		}
		protected := nominal.Sub(p.FixedAmount)
		working := slave.Equity.Sub(protected)
		if !working.IsPositive() {
			c.logger.Warn("working equity is not positive, nothing to trade",
				zap.String("slave", slave.AccountID),
				zap.String("equity", slave.Equity.String()),
				zap.String("protected", protected.String()))
			return decimal.Zero, nil
		}
		return working.Div(main.Equity), nil

	case domain.ScaleDynamicRatio:
		usage := p.UsagePercent
		if usage.IsZero() {
			usage = hundred
		}
		return usage.Div(hundred).Mul(slave.Equity).Div(main.Equity), nil
	}

	return decimal.Zero, errors.Errorf("unknown scale method %q", p.Method)
}

// Plan computes target and delta quantities for every symbol held by either account.
// Symbols held only by the slave are closed out.
func (c *Calculator) Plan(main, slave domain.AccountSnapshot, p Params) (domain.SyncPlan, error) {
	scale, err := c.Scale(main, slave, p)
	if err != nil {
		return domain.SyncPlan{}, err
	}

	symbols := make(map[string]struct{}, len(main.Holdings)+len(slave.Holdings))
	for _, h := range main.Holdings {
		symbols[h.Symbol] = struct{}{}
	}
	for _, h := range slave.Holdings {
		symbols[h.Symbol] = struct{}{}
	}
	ordered := make([]string, 0, len(symbols))
	for s := range symbols {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	plan := domain.SyncPlan{
		MainAccountID:  main.AccountID,
		SlaveAccountID: slave.AccountID,
		Scale:          scale,
		Orders:         make([]domain.PlannedOrder, 0, len(ordered)),
	}

	for _, symbol := range ordered {
		mainHolding, inMain := main.Holding(symbol)
		current := slave.Quantity(symbol)

		price := mainHolding.Price
		if !price.IsPositive() {
			price = slave.Price(symbol)
		}

		target := decimal.Zero
		if inMain {
			target = round(mainHolding.Quantity.Mul(scale), p.Precision, p.Rounding)
		}

		delta := target.Sub(current)
		if inMain && belowThreshold(delta, current, p.Threshold) {
			c.logger.Debug("delta below threshold",
				zap.String("symbol", symbol),
				zap.String("delta", delta.String()),
				zap.String("current", current.String()))
			delta = decimal.Zero
		}

		plan.Orders = append(plan.Orders, domain.PlannedOrder{
			Symbol:         symbol,
			CurrentQty:     current,
			TargetQty:      target,
			DeltaQty:       delta,
			Price:          price,
			EstimatedValue: delta.Abs().Mul(price),
		})
	}

	return plan, nil
}

func belowThreshold(delta, current, threshold decimal.Decimal) bool {
	if !threshold.IsPositive() || !current.IsPositive() || delta.IsZero() {
		return false
	}
	return delta.Abs().Div(current).LessThan(threshold)
}

func round(v decimal.Decimal, precision int32, mode Rounding) decimal.Decimal {
	switch mode {
	case RoundDown:
		return v.Truncate(precision)
	case RoundUp:
		if v.IsNegative() {
			return v.RoundFloor(precision)
		}
		return v.RoundCeil(precision)
	}
	return v.Round(precision)
}
