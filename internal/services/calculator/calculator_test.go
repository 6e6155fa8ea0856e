package calculator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/mirror/internal/domain"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func snapshot(id, equity string, holdings ...domain.Holding) domain.AccountSnapshot {
	return domain.AccountSnapshot{AccountID: id, Equity: d(equity), BuyingPower: d(equity), Holdings: holdings}
}

func holding(symbol, qty, price string) domain.Holding {
	return domain.Holding{Symbol: symbol, Quantity: d(qty), Price: d(price)}
}

func TestPlan_EquityRatioScenario(t *testing.T) {
	c := New(nil)
	main := snapshot("main", "100000", holding("AAPL", "100", "150"))
	slave := snapshot("slave", "10000")

	plan, err := c.Plan(main, slave, Params{Method: domain.ScaleEquityRatio})
	require.NoError(t, err)

	assert.True(t, plan.Scale.Equal(d("0.1")), "scale %s", plan.Scale)
	require.Len(t, plan.Orders, 1)
	o := plan.Orders[0]
	assert.Equal(t, "AAPL", o.Symbol)
	assert.True(t, o.TargetQty.Equal(d("10")))
	assert.True(t, o.DeltaQty.Equal(d("10")))
	assert.True(t, o.EstimatedValue.Equal(d("1500")))
	assert.Equal(t, domain.SideBuy, o.Side())
}

func TestPlan_TargetIsRoundedProduct(t *testing.T) {
	c := New(nil)
	pairs := []struct {
		mainEquity, slaveEquity, qty string
	}{
		{"100000", "10000", "100"},
		{"30000", "10000", "7"},
		{"12345.67", "891.23", "333"},
		{"1", "1000000", "3"},
		{"250000", "17", "1000"},
	}
	for _, p := range pairs {
		main := snapshot("main", p.mainEquity, holding("SPY", p.qty, "400"))
		slave := snapshot("slave", p.slaveEquity)

		plan, err := c.Plan(main, slave, Params{Method: domain.ScaleEquityRatio})
		require.NoError(t, err)

		scale := d(p.slaveEquity).Div(d(p.mainEquity))
		assert.True(t, plan.Scale.Equal(scale))
		assert.True(t, plan.Orders[0].TargetQty.Equal(d(p.qty).Mul(scale).Round(0)),
			"main=%s slave=%s qty=%s target=%s", p.mainEquity, p.slaveEquity, p.qty, plan.Orders[0].TargetQty)
	}
}

func TestPlan_ZeroMainEquityIsUndefined(t *testing.T) {
	c := New(nil)
	main := snapshot("main", "0", holding("AAPL", "100", "150"))
	slave := snapshot("slave", "10000")

	for _, m := range []domain.ScaleMethod{domain.ScaleEquityRatio, domain.ScaleDynamicRatio, domain.ScaleFixedAmount} {
		_, err := c.Plan(main, slave, Params{Method: m, FixedAmount: d("100")})
		assert.ErrorIs(t, err, domain.ErrUndefinedScale, m)
	}
}

func TestPlan_Idempotent(t *testing.T) {
	c := New(nil)
	main := snapshot("main", "52000",
		holding("AAPL", "120", "190.5"),
		holding("MSFT", "33", "410"),
		holding("NVDA", "5", "900"))
	slave := snapshot("slave", "7300",
		holding("AAPL", "10", "190.5"),
		holding("TSLA", "4", "250"))
	p := Params{Method: domain.ScaleEquityRatio}

	first, err := c.Plan(main, slave, p)
	require.NoError(t, err)
	second, err := c.Plan(main, slave, p)
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	require.Len(t, second.Orders, len(first.Orders))
	for i := range first.Orders {
		assert.True(t, first.Orders[i].DeltaQty.Equal(second.Orders[i].DeltaQty))
	}
}

func TestPlan_ClosesSymbolsMissingFromMain(t *testing.T) {
	c := New(nil)
	main := snapshot("main", "10000", holding("AAPL", "10", "100"))
	slave := snapshot("slave", "10000",
		holding("AAPL", "10", "100"),
		holding("TSLA", "4", "250"))

	plan, err := c.Plan(main, slave, Params{Method: domain.ScaleEquityRatio, Threshold: d("0.5")})
	require.NoError(t, err)
	require.Len(t, plan.Orders, 2)

	assert.Equal(t, "AAPL", plan.Orders[0].Symbol)
	assert.True(t, plan.Orders[0].DeltaQty.IsZero())
	assert.Equal(t, "TSLA", plan.Orders[1].Symbol)
	assert.True(t, plan.Orders[1].DeltaQty.Equal(d("-4")))
	assert.True(t, plan.Orders[1].Price.Equal(d("250")))
	assert.Equal(t, domain.SideSell, plan.Orders[1].Side())
}

func TestPlan_Threshold(t *testing.T) {
	c := New(nil)
	main := snapshot("main", "10000", holding("AAPL", "102", "10"))
	slave := snapshot("slave", "10000", holding("AAPL", "100", "10"))

	plan, err := c.Plan(main, slave, Params{Method: domain.ScaleEquityRatio, Threshold: d("0.03")})
	require.NoError(t, err)
	assert.True(t, plan.IsNoop())

	plan, err = c.Plan(main, slave, Params{Method: domain.ScaleEquityRatio})
	require.NoError(t, err)
	assert.True(t, plan.Orders[0].DeltaQty.Equal(d("2")))
}

func TestScale_FixedAmount(t *testing.T) {
	c := New(nil)
	main := snapshot("main", "100000")

	// 20000 at setup, 5000 traded: 15000 protected
	p := Params{Method: domain.ScaleFixedAmount, FixedAmount: d("5000"), NominalEquity: d("20000")}

	scale, err := c.Scale(main, snapshot("slave", "21000"), p)
	require.NoError(t, err)
	assert.True(t, scale.Equal(d("0.06")), scale.String())

	scale, err = c.Scale(main, snapshot("slave", "14000"), p)
	require.NoError(t, err)
	assert.True(t, scale.IsZero())

	// nominal falls back to current equity
	scale, err = c.Scale(main, snapshot("slave", "30000"), Params{Method: domain.ScaleFixedAmount, FixedAmount: d("5000")})
	require.NoError(t, err)
	assert.True(t, scale.Equal(d("0.05")), scale.String())
}

func TestScale_DynamicRatio(t *testing.T) {
	c := New(nil)
	main := snapshot("main", "100000")
	slave := snapshot("slave", "20000")

	scale, err := c.Scale(main, slave, Params{Method: domain.ScaleDynamicRatio, UsagePercent: d("50")})
	require.NoError(t, err)
	assert.True(t, scale.Equal(d("0.1")), scale.String())

	scale, err = c.Scale(main, slave, Params{Method: domain.ScaleDynamicRatio})
	require.NoError(t, err)
	assert.True(t, scale.Equal(d("0.2")), scale.String())
}

func TestRounding(t *testing.T) {
	assert.True(t, round(d("2.5"), 0, RoundNearest).Equal(d("3")))
	assert.True(t, round(d("-2.5"), 0, RoundNearest).Equal(d("-3")))
	assert.True(t, round(d("2.9"), 0, RoundDown).Equal(d("2")))
	assert.True(t, round(d("2.1"), 0, RoundUp).Equal(d("3")))
	assert.True(t, round(d("0.123456"), 4, RoundDown).Equal(d("0.1234")))
}
