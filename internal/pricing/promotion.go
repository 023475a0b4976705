package pricing

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// PromotionKind is the closed set of discount strategies.
type PromotionKind string

const (
	KindPercentage   PromotionKind = "percentage"
	KindFixed        PromotionKind = "fixed"
	KindFreeShipping PromotionKind = "free_shipping"
	KindBuyXGetY     PromotionKind = "buy_x_get_y"
)

// Valid reports whether k is one of the supported kinds.
func (k PromotionKind) Valid() bool {
	switch k {
	case KindPercentage, KindFixed, KindFreeShipping, KindBuyXGetY:
		return true
	default:
		return false
	}
}

// ParsePromotionKind accepts both snake_case and hyphenated spellings.
func ParsePromotionKind(raw string) (PromotionKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	k := PromotionKind(normalized)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPromotionKind, raw)
	}
	return k, nil
}

var hundred = decimal.NewFromInt(100)

// Promotion is a single discount rule attached to a cart. Only one applies at a time.
type Promotion struct {
	Kind      PromotionKind   `json:"kind"`
	Magnitude decimal.Decimal `json:"magnitude"`
	// Cap bounds the computed discount of percentage promotions.
	Cap             decimal.NullDecimal `json:"cap"`
	MinimumSubtotal decimal.NullDecimal `json:"minimumSubtotal"`
	MaximumSubtotal decimal.NullDecimal `json:"maximumSubtotal"`

	BuyQty             int             `json:"buyQty,omitempty"`
	GetQty             int             `json:"getQty,omitempty"`
	GetDiscountPercent decimal.Decimal `json:"getDiscountPercent"`
	// ProductRefs and CategoryRefs narrow buy-x-get-y to lines matching either list.
	// Both empty means every line.
	ProductRefs  []string `json:"productRefs,omitempty"`
	CategoryRefs []string `json:"categoryRefs,omitempty"`
}

// Validate rejects malformed promotions before they reach a cart.
func (p Promotion) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPromotionKind, p.Kind)
	}
	if p.Magnitude.IsNegative() {
		return fmt.Errorf("%w: magnitude must not be negative", ErrInvalidPromotion)
	}
	if p.Cap.Valid && p.Kind != KindPercentage {
		return fmt.Errorf("%w: cap only applies to percentage promotions", ErrInvalidPromotion)
	}
	if p.Cap.Valid && p.Cap.Decimal.IsNegative() {
		return fmt.Errorf("%w: cap must not be negative", ErrInvalidPromotion)
	}
	if p.MinimumSubtotal.Valid && p.MaximumSubtotal.Valid &&
		p.MinimumSubtotal.Decimal.GreaterThan(p.MaximumSubtotal.Decimal) {
		return fmt.Errorf("%w: minimum subtotal exceeds maximum", ErrInvalidPromotion)
	}
	switch p.Kind {
	case KindPercentage:
		if !p.Magnitude.IsPositive() || p.Magnitude.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be within (0, 100]", ErrInvalidPromotion)
		}
	case KindFixed:
		if !p.Magnitude.IsPositive() {
			return fmt.Errorf("%w: fixed amount must be positive", ErrInvalidPromotion)
		}
	case KindFreeShipping:
	case KindBuyXGetY:
		if p.BuyQty < 1 || p.GetQty < 1 {
			return fmt.Errorf("%w: buy and get quantities must be at least 1", ErrInvalidPromotion)
		}
		if !p.GetDiscountPercent.IsPositive() || p.GetDiscountPercent.GreaterThan(hundred) {
			return fmt.Errorf("%w: get discount percent must be within (0, 100]", ErrInvalidPromotion)
		}
	}
	return nil
}

// Eligible reports whether subtotal sits inside the promotion's optional bounds.
func (p Promotion) Eligible(subtotal decimal.Decimal) bool {
	if p.MinimumSubtotal.Valid && subtotal.LessThan(p.MinimumSubtotal.Decimal) {
		return false
	}
	if p.MaximumSubtotal.Valid && subtotal.GreaterThan(p.MaximumSubtotal.Decimal) {
		return false
	}
	return true
}

func (p Promotion) covers(l Line) bool {
	if len(p.ProductRefs) == 0 && len(p.CategoryRefs) == 0 {
		return true
	}
	if slices.Contains(p.ProductRefs, l.ProductRef) {
		return true
	}
	return l.CategoryRef != "" && slices.Contains(p.CategoryRefs, l.CategoryRef)
}
