// Package pricing turns a supplier's price and shipping cost into a retail
// price using a tiered margin table and a VAT rate.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMargin applies when the base cost falls into no tier.
	DefaultMargin = 0.5
	// DefaultVATRate applies when PricingConfig.VATRate is nil.
	DefaultVATRate = 0.15
)

var (
	ErrInvalidInput  = errors.New("invalid pricing input")
	ErrInvalidConfig = errors.New("invalid pricing config")
)

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// MarginTier maps the inclusive base cost range [Min, Max] to a fractional margin.
type MarginTier struct {
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Margin float64 `json:"margin" yaml:"margin"`
}

// PricingConfig is read-only for the duration of a run. Tiers are matched in
// slice order and the first match wins, so overlapping ranges are allowed.
type PricingConfig struct {
	MarginTiers []MarginTier
	VATRate     *float64
}

// NewPricingConfig returns a config with an explicit VAT rate.
func NewPricingConfig(tiers []MarginTier, vatRate float64) PricingConfig {
	return PricingConfig{MarginTiers: tiers, VATRate: &vatRate}
}

// VAT returns the configured VAT rate, or DefaultVATRate when unset.
func (c PricingConfig) VAT() float64 {
	if c.VATRate == nil {
		return DefaultVATRate
	}
	return *c.VATRate
}

// Validate checks the tier table and VAT rate. ComputePrice does not call it.
func (c PricingConfig) Validate() error {
	for i, t := range c.MarginTiers {
		if t.Min > t.Max {
			return fmt.Errorf("%w: tier %d has min %v > max %v", ErrInvalidConfig, i, t.Min, t.Max)
		}
		if t.Margin < 0 || math.IsNaN(t.Margin) {
			return fmt.Errorf("%w: tier %d has negative margin %v", ErrInvalidConfig, i, t.Margin)
		}
	}
	if v := c.VAT(); v < 0 || math.IsNaN(v) {
		return fmt.Errorf("%w: vat rate %v", ErrInvalidConfig, v)
	}
	return nil
}

// ProductCost is what the supplier charges for one unit delivered.
type ProductCost struct {
	SupplierPrice    float64
	SupplierShipping float64
}

// Base returns supplier price plus shipping.
func (p ProductCost) Base() float64 {
	return p.SupplierPrice + p.SupplierShipping
}

// Validate reports negative or non-finite costs. It is opt-in: the pipeline
// only calls it when strict pricing is enabled.
func (p ProductCost) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"supplier_price", p.SupplierPrice},
		{"supplier_shipping", p.SupplierShipping},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidInput, f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("%w: %s is negative (%v)", ErrInvalidInput, f.name, f.value)
		}
	}
	if math.IsInf(p.Base(), 0) {
		return fmt.Errorf("%w: base cost overflows", ErrInvalidInput)
	}
	return nil
}

// CheckFinal reports a computed price that does not fit in a float64.
func CheckFinal(price float64) error {
	if !isFinite(price) {
		return fmt.Errorf("%w: final price %v is not finite", ErrInvalidInput, price)
	}
	return nil
}

// SelectMargin returns the margin of the first tier whose bounds contain
// baseCost, or DefaultMargin if none does.
func SelectMargin(tiers []MarginTier, baseCost float64) float64 {
	for _, t := range tiers {
		if baseCost >= t.Min && baseCost <= t.Max {
			return t.Margin
		}
	}
	return DefaultMargin
}

// Breakdown holds every intermediate step of a price computation.
type Breakdown struct {
	Base       float64 `json:"base"`
	Margin     float64 `json:"margin"`
	WithMargin float64 `json:"with_margin"`
	VATRate    float64 `json:"vat_rate"`
	WithVAT    float64 `json:"with_vat"`
	FinalPrice float64 `json:"final_price"`
}

// ComputePrice returns (base * (1+margin) * (1+vat)) rounded to the nearest
// 0.5, halves away from zero.
func ComputePrice(cost ProductCost, cfg PricingConfig) float64 {
	return Compute(cost, cfg).FinalPrice
}

// Compute is ComputePrice with the intermediate values kept.
func Compute(cost ProductCost, cfg PricingConfig) Breakdown {
	if !isFinite(cost.SupplierPrice, cost.SupplierShipping, cfg.VAT()) {
		return computeFloat(cost, cfg)
	}

	base := decimal.NewFromFloat(cost.SupplierPrice).Add(decimal.NewFromFloat(cost.SupplierShipping))
	baseF := base.InexactFloat64()

	margin := SelectMargin(cfg.MarginTiers, baseF)
	if !isFinite(margin) {
		return computeFloat(cost, cfg)
	}
	vat := cfg.VAT()

	withMargin := base.Mul(one.Add(decimal.NewFromFloat(margin)))
	withVAT := withMargin.Mul(one.Add(decimal.NewFromFloat(vat)))

	return Breakdown{
		Base:       baseF,
		Margin:     margin,
		WithMargin: withMargin.InexactFloat64(),
		VATRate:    vat,
		WithVAT:    withVAT.InexactFloat64(),
		FinalPrice: roundHalf(withVAT),
	}
}

// roundHalf rounds d to the nearest multiple of 0.5.
func roundHalf(d decimal.Decimal) float64 {
	return d.Mul(two).Round(0).Div(two).InexactFloat64()
}

// computeFloat handles NaN and Inf inputs, which decimal cannot represent.
// The result propagates them instead of panicking.
func computeFloat(cost ProductCost, cfg PricingConfig) Breakdown {
	base := cost.Base()
	margin := SelectMargin(cfg.MarginTiers, base)
	vat := cfg.VAT()
	withMargin := base * (1 + margin)
	withVAT := withMargin * (1 + vat)
	return Breakdown{
		Base:       base,
		Margin:     margin,
		WithMargin: withMargin,
		VATRate:    vat,
		WithVAT:    withVAT,
		FinalPrice: math.Round(withVAT*2) / 2,
	}
}

func isFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
