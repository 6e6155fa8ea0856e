package domain

import "github.com/shopspring/decimal"

// TradingLimits bound what a single run may submit for one client.
type TradingLimits struct {
	MaxOrderSize     decimal.Decimal `yaml:"max_order_size" json:"max_order_size"`
	MaxPositionValue decimal.Decimal `yaml:"max_position_value" json:"max_position_value"`
	MinOrderValue    decimal.Decimal `yaml:"min_order_value" json:"min_order_value"`
	MaxOrdersPerRun  int             `yaml:"max_orders_per_run" json:"max_orders_per_run"`
}

// LimitsOverride holds optional per-client overrides; nil fields keep the global value.
type LimitsOverride struct {
	MaxOrderSize     *decimal.Decimal `yaml:"max_order_size,omitempty" json:"max_order_size,omitempty"`
	MaxPositionValue *decimal.Decimal `yaml:"max_position_value,omitempty" json:"max_position_value,omitempty"`
	MinOrderValue    *decimal.Decimal `yaml:"min_order_value,omitempty" json:"min_order_value,omitempty"`
	MaxOrdersPerRun  *int             `yaml:"max_orders_per_run,omitempty" json:"max_orders_per_run,omitempty"`
}

// DefaultTradingLimits returns the global defaults.
func DefaultTradingLimits() TradingLimits {
	return TradingLimits{
		MaxOrderSize:     decimal.NewFromInt(1000),
		MaxPositionValue: decimal.NewFromInt(50000),
		MinOrderValue:    decimal.NewFromInt(1),
		MaxOrdersPerRun:  10,
	}
}

// Merge applies the override on top of l and returns the result.
func (l TradingLimits) Merge(o *LimitsOverride) TradingLimits {
	if o == nil {
		return l
	}
	if o.MaxOrderSize != nil {
		l.MaxOrderSize = *o.MaxOrderSize
	}
	if o.MaxPositionValue != nil {
		l.MaxPositionValue = *o.MaxPositionValue
	}
	if o.MinOrderValue != nil {
		l.MinOrderValue = *o.MinOrderValue
	}
	if o.MaxOrdersPerRun != nil {
		l.MaxOrdersPerRun = *o.MaxOrdersPerRun
	}
	return l
}
