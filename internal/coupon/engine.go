package coupon

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-5elm/internal/pricing"
)

var (
	// ErrNotFound is returned for unknown coupon codes and ids.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned for coupons switched off by an administrator.
	ErrInactive = errors.New("coupon inactive")
	// ErrNotStarted is returned before the coupon's start date.
	ErrNotStarted = errors.New("coupon not yet valid")
	// ErrExpired is returned after the coupon's end date.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimitReached indicates the coupon has exhausted its global quota.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrPerUserLimitReached indicates the caller has used the coupon as often as allowed.
	ErrPerUserLimitReached = errors.New("coupon per-user usage limit reached")
	// ErrMinimumNotMet indicates the cart subtotal is below the coupon minimum.
	ErrMinimumNotMet = errors.New("order value below coupon minimum")
	// ErrMaximumExceeded indicates the cart subtotal is above the coupon maximum.
	ErrMaximumExceeded = errors.New("order value above coupon maximum")
	// ErrUserNotAllowed is returned when the coupon is restricted to other users.
	ErrUserNotAllowed = errors.New("coupon not available for this user")
	// ErrNotApplicable is returned when no cart item is in the coupon's scope.
	ErrNotApplicable = errors.New("coupon does not apply to items in the cart")
	// ErrExcludedItem is returned when the cart holds an item the coupon excludes.
	ErrExcludedItem = errors.New("cart contains items excluded from this coupon")
	// ErrDuplicateCode is returned when creating a coupon whose code is taken.
	ErrDuplicateCode = errors.New("coupon code already exists")
	// ErrInvalidRule wraps definition errors found by CheckDefinition.
	ErrInvalidRule = errors.New("invalid coupon")
)

// Rule is a stored coupon definition.
type Rule struct {
	ID          uuid.UUID
	Code        string
	Description string

	Kind               pricing.PromotionKind
	Magnitude          decimal.Decimal
	MaxDiscount        decimal.NullDecimal
	MinOrderValue      decimal.NullDecimal
	MaxOrderValue      decimal.NullDecimal
	BuyQty             int
	GetQty             int
	GetDiscountPercent decimal.Decimal

	Active       bool
	StartsAt     *time.Time
	EndsAt       *time.Time
	UsageLimit   *int
	UsedCount    int
	PerUserLimit *int

	AllowedUsers       []uuid.UUID
	AllowedCategories  []uuid.UUID
	AllowedProducts    []uuid.UUID
	ExcludedCategories []uuid.UUID
	ExcludedProducts   []uuid.UUID

	CreatedAt time.Time
}

// Line is the view of a cart item used for scope checks.
type Line struct {
	ProductID  uuid.UUID
	CategoryID *uuid.UUID
}

// EligibilityContext carries everything Validate needs about the cart and caller.
type EligibilityContext struct {
	Now      time.Time
	UserID   *uuid.UUID
	Subtotal decimal.Decimal
	Lines    []Line
	// PerUserUsed is the number of prior redemptions by UserID.
	PerUserUsed int
	// PerUserLimit is the effective cap; zero disables the check.
	PerUserLimit int
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Promotion converts the rule into the calculator's promotion.
func (r Rule) Promotion() pricing.Promotion {
	p := pricing.Promotion{
		Kind:            r.Kind,
		Magnitude:       r.Magnitude,
		Cap:             r.MaxDiscount,
		MinimumSubtotal: r.MinOrderValue,
		MaximumSubtotal: r.MaxOrderValue,
	}
	if r.Kind == pricing.KindBuyXGetY {
		p.BuyQty = r.BuyQty
		p.GetQty = r.GetQty
		p.GetDiscountPercent = r.GetDiscountPercent
		for _, id := range r.AllowedProducts {
			p.ProductRefs = append(p.ProductRefs, id.String())
		}
		for _, id := range r.AllowedCategories {
			p.CategoryRefs = append(p.CategoryRefs, id.String())
		}
	}
	return p
}

// CheckDefinition validates a rule before it is stored.
func (r Rule) CheckDefinition() error {
	if r.Code == "" || strings.ContainsAny(r.Code, " \t\n") {
		return fmt.Errorf("%w: code must be a single non-empty token", ErrInvalidRule)
	}
	if err := r.Promotion().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if r.StartsAt != nil && r.EndsAt != nil && !r.StartsAt.Before(*r.EndsAt) {
		return fmt.Errorf("%w: start must be before end", ErrInvalidRule)
	}
	if r.UsageLimit != nil && *r.UsageLimit < 0 {
		return fmt.Errorf("%w: usage limit must not be negative", ErrInvalidRule)
	}
	if r.PerUserLimit != nil && *r.PerUserLimit < 0 {
		return fmt.Errorf("%w: per-user limit must not be negative", ErrInvalidRule)
	}
	return nil
}

// Validate applies every eligibility check in order and returns the first failure.
func (r Rule) Validate(ec EligibilityContext) error {
	if !r.Active {
		return ErrInactive
	}
	if r.StartsAt != nil && ec.Now.Before(*r.StartsAt) {
		return ErrNotStarted
	}
	if r.EndsAt != nil && ec.Now.After(*r.EndsAt) {
		return ErrExpired
	}
	if r.UsageLimit != nil && r.UsedCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	if ec.UserID != nil && ec.PerUserLimit > 0 && ec.PerUserUsed >= ec.PerUserLimit {
		return ErrPerUserLimitReached
	}
	if r.MinOrderValue.Valid && ec.Subtotal.LessThan(r.MinOrderValue.Decimal) {
		return ErrMinimumNotMet
	}
	if r.MaxOrderValue.Valid && ec.Subtotal.GreaterThan(r.MaxOrderValue.Decimal) {
		return ErrMaximumExceeded
	}
	if len(r.AllowedUsers) > 0 && (ec.UserID == nil || !slices.Contains(r.AllowedUsers, *ec.UserID)) {
		return ErrUserNotAllowed
	}
	return r.checkScope(ec.Lines)
}

func (r Rule) checkScope(lines []Line) error {
	scoped := len(r.AllowedProducts) > 0 || len(r.AllowedCategories) > 0
	matched := !scoped
	for _, l := range lines {
		if slices.Contains(r.ExcludedProducts, l.ProductID) ||
			(l.CategoryID != nil && slices.Contains(r.ExcludedCategories, *l.CategoryID)) {
			return ErrExcludedItem
		}
		if scoped && r.inScope(l) {
			matched = true
		}
	}
	if !matched {
		return ErrNotApplicable
	}
	return nil
}

func (r Rule) inScope(l Line) bool {
	if slices.Contains(r.AllowedProducts, l.ProductID) {
		return true
	}
	return l.CategoryID != nil && slices.Contains(r.AllowedCategories, *l.CategoryID)
}
