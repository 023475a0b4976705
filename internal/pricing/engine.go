package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownPromotionKind is returned for promotion kinds outside the supported set.
	ErrUnknownPromotionKind = errors.New("pricing: unknown promotion kind")
	// ErrUnknownShippingMethod is returned when no fee is configured for the method.
	ErrUnknownShippingMethod = errors.New("pricing: unknown shipping method")
	// ErrInvalidPromotion indicates a promotion whose parameters are out of range.
	ErrInvalidPromotion = errors.New("pricing: invalid promotion")
	// ErrInvalidConfig indicates a calculator configuration that cannot price carts.
	ErrInvalidConfig = errors.New("pricing: invalid config")
)

// Variant is an optional attribute selection whose adder is added to the base unit price.
type Variant struct {
	Name       string          `json:"name"`
	Value      string          `json:"value"`
	PriceAdder decimal.Decimal `json:"priceAdder"`
}

// Line is a single cart entry as seen by the calculator.
type Line struct {
	ProductRef  string
	CategoryRef string
	Quantity    int
	Variant     *Variant
	UnitPrice   decimal.Decimal
}

// EffectiveUnitPrice returns the unit price including the variant adder.
func (l Line) EffectiveUnitPrice() decimal.Decimal {
	if l.Variant == nil {
		return l.UnitPrice
	}
	return l.UnitPrice.Add(l.Variant.PriceAdder)
}

// Amount is the line total before tax and discount.
func (l Line) Amount() decimal.Decimal {
	return l.EffectiveUnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Config holds the store-wide pricing knobs.
type Config struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	ShippingFees          map[ShippingMethod]decimal.Decimal
}

// DefaultConfig mirrors the storefront defaults: 18% tax, free shipping from 2000.
func DefaultConfig() Config {
	return Config{
		TaxRate:               decimal.RequireFromString("0.18"),
		FreeShippingThreshold: decimal.NewFromInt(2000),
		ShippingFees: map[ShippingMethod]decimal.Decimal{
			ShippingStandard:  decimal.NewFromInt(100),
			ShippingExpress:   decimal.NewFromInt(250),
			ShippingOvernight: decimal.NewFromInt(500),
		},
	}
}

// Totals is the derived pricing record of a cart.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	TaxRate  decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	// PromotionApplied is false when no promotion was given or it fell outside its bounds.
	PromotionApplied bool
}

// Rounded returns the totals with every component at two decimal places.
// Total is already rounded by Compute and is left untouched.
func (t Totals) Rounded() Totals {
	t.Subtotal = t.Subtotal.Round(2)
	t.Tax = t.Tax.Round(2)
	t.Shipping = t.Shipping.Round(2)
	t.Discount = t.Discount.Round(2)
	return t
}

// Calculator derives cart totals. It is safe for concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator validates cfg and returns a calculator bound to it.
func NewCalculator(cfg Config) (*Calculator, error) {
	if cfg.TaxRate.IsNegative() {
		return nil, fmt.Errorf("%w: tax rate must not be negative", ErrInvalidConfig)
	}
	if cfg.FreeShippingThreshold.IsNegative() {
		return nil, fmt.Errorf("%w: free shipping threshold must not be negative", ErrInvalidConfig)
	}
	fees := make(map[ShippingMethod]decimal.Decimal, len(ShippingMethods))
	for _, m := range ShippingMethods {
		fee, ok := cfg.ShippingFees[m]
		if !ok {
			return nil, fmt.Errorf("%w: missing fee for %s", ErrInvalidConfig, m)
		}
		if fee.IsNegative() {
			return nil, fmt.Errorf("%w: negative fee for %s", ErrInvalidConfig, m)
		}
		fees[m] = fee
	}
	cfg.ShippingFees = fees
	return &Calculator{cfg: cfg}, nil
}

// MustCalculator is NewCalculator for static configuration.
func MustCalculator(cfg Config) *Calculator {
	c, err := NewCalculator(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Config returns a copy of the calculator configuration.
func (c *Calculator) Config() Config {
	cfg := c.cfg
	cfg.ShippingFees = make(map[ShippingMethod]decimal.Decimal, len(c.cfg.ShippingFees))
	for k, v := range c.cfg.ShippingFees {
		cfg.ShippingFees[k] = v
	}
	return cfg
}

// Compute derives totals for lines shipped with method, optionally discounted by promo.
// The grand total is rounded once at the end; intermediate values keep full precision.
func (c *Calculator) Compute(lines []Line, method ShippingMethod, promo *Promotion) (Totals, error) {
	totals := Totals{
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		TaxRate:  c.cfg.TaxRate,
		Shipping: decimal.Zero,
		Discount: decimal.Zero,
		Total:    decimal.Zero,
	}
	if promo != nil && !promo.Kind.Valid() {
		return totals, fmt.Errorf("%w: %q", ErrUnknownPromotionKind, promo.Kind)
	}
	fee, ok := c.cfg.ShippingFees[method]
	if !ok {
		return totals, fmt.Errorf("%w: %q", ErrUnknownShippingMethod, method)
	}
	if len(lines) == 0 {
		return totals, nil
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Amount())
	}
	totals.Subtotal = subtotal

	if subtotal.LessThan(c.cfg.FreeShippingThreshold) {
		totals.Shipping = fee
	}
	totals.Tax = subtotal.Mul(c.cfg.TaxRate)

	if promo != nil && promo.Eligible(subtotal) {
		totals.Discount = discountFor(*promo, lines, subtotal, totals.Shipping)
		totals.PromotionApplied = true
	}

	grand := subtotal.Add(totals.Tax).Add(totals.Shipping).Sub(totals.Discount).Round(2)
	if grand.IsNegative() {
		grand = decimal.Zero
	}
	totals.Total = grand
	return totals, nil
}

func discountFor(p Promotion, lines []Line, subtotal, shipping decimal.Decimal) decimal.Decimal {
	switch p.Kind {
	case KindPercentage:
		d := subtotal.Mul(p.Magnitude).Div(hundred)
		if p.Cap.Valid && d.GreaterThan(p.Cap.Decimal) {
			d = p.Cap.Decimal
		}
		return d
	case KindFixed:
		return decimal.Min(p.Magnitude, subtotal)
	case KindFreeShipping:
		return shipping
	case KindBuyXGetY:
		return buyXGetYDiscount(p, lines)
	default:
		return decimal.Zero
	}
}

func buyXGetYDiscount(p Promotion, lines []Line) decimal.Decimal {
	if p.BuyQty < 1 || p.GetQty < 1 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, l := range lines {
		if !p.covers(l) || l.Quantity < p.BuyQty {
			continue
		}
		units := int64(l.Quantity/p.BuyQty) * int64(p.GetQty)
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(units)).Mul(p.GetDiscountPercent).Div(hundred))
	}
	return total
}
