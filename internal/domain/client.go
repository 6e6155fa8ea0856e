package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ScaleMethod selects how a slave's positions are sized relative to main.
type ScaleMethod string

const (
	// ScaleEquityRatio scales by slave equity / main equity.
	ScaleEquityRatio ScaleMethod = "EQUITY_RATIO"
	// ScaleFixedAmount trades only a fixed slice of the slave equity, protecting the rest.
	ScaleFixedAmount ScaleMethod = "FIXED_AMOUNT"
	// ScaleDynamicRatio scales by a usage percent of slave equity.
	ScaleDynamicRatio ScaleMethod = "DYNAMIC_RATIO"
)

// IsValid checks if the ScaleMethod value is valid.
func (m ScaleMethod) IsValid() bool {
	switch m {
	case ScaleEquityRatio, ScaleFixedAmount, ScaleDynamicRatio:
		return true
	}
	return false
}

// ClientConfig describes one slave account. Read-only to the engine.
type ClientConfig struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	AccountID      string `yaml:"account_id" json:"account_id"`
	CredentialsRef string `yaml:"credentials" json:"credentials"`
	Enabled        bool   `yaml:"enabled" json:"enabled"`

	// MarginPercent in [0, 100] extends available funds beyond total value.
	MarginPercent decimal.Decimal `yaml:"margin_percent" json:"margin_percent"`
	ScaleMethod   ScaleMethod     `yaml:"scale_method" json:"scale_method"`
	// FixedAmount is the traded slice for FIXED_AMOUNT.
	FixedAmount decimal.Decimal `yaml:"fixed_amount" json:"fixed_amount"`
	// NominalEquity is the slave equity at the moment FIXED_AMOUNT was configured.
	NominalEquity decimal.Decimal `yaml:"nominal_equity" json:"nominal_equity"`
	// UsagePercent applies to DYNAMIC_RATIO, 100 by default.
	UsagePercent decimal.Decimal `yaml:"usage_percent" json:"usage_percent"`
	// Threshold skips relative changes smaller than this fraction of the current quantity.
	Threshold decimal.Decimal `yaml:"threshold" json:"threshold"`

	Limits *LimitsOverride `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// Validate checks the client configuration for obvious mistakes.
func (c ClientConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.AccountID == "" {
		return fmt.Errorf("client %s: account_id is required", c.ID)
	}
	if !c.ScaleMethod.IsValid() {
		return fmt.Errorf("client %s: unknown scale method %q", c.ID, c.ScaleMethod)
	}
	hundred := decimal.NewFromInt(100)
	if c.MarginPercent.IsNegative() || c.MarginPercent.GreaterThan(hundred) {
		return fmt.Errorf("client %s: margin_percent must be within 0..100, got %s", c.ID, c.MarginPercent)
	}
	if c.UsagePercent.IsNegative() || c.UsagePercent.GreaterThan(hundred) {
		return fmt.Errorf("client %s: usage_percent must be within 0..100, got %s", c.ID, c.UsagePercent)
	}
	if c.ScaleMethod == ScaleFixedAmount && !c.FixedAmount.IsPositive() {
		return fmt.Errorf("client %s: fixed_amount must be positive for %s", c.ID, ScaleFixedAmount)
	}
	return nil
}

// DisplayName returns the name or falls back to the id.
func (c ClientConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
