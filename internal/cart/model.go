package cart

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-5elm/internal/pricing"
)

// Status values of a cart.
const (
	StatusActive     = "active"
	StatusCheckedOut = "checked_out"
	StatusMerged     = "merged"
)

var (
	// ErrItemNotFound is returned for item ids that are not in the cart.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrNotActive is returned when mutating a cart that was checked out or merged.
	ErrNotActive = errors.New("cart is not active")
)

// Item is a single cart line. Price is the unit price captured when the line was last priced.
// CategoryRef is copied from the price book so scoped promotions can match by category.
type Item struct {
	ID          uuid.UUID        `json:"id"`
	ProductID   uuid.UUID        `json:"productId"`
	CategoryRef string           `json:"categoryRef,omitempty"`
	Quantity    int              `json:"quantity"`
	Variant     *pricing.Variant `json:"variant,omitempty"`
	Price       decimal.Decimal  `json:"price"`
	AddedAt     time.Time        `json:"addedAt"`
}

func (it Item) sameLine(productID uuid.UUID, v *pricing.Variant) bool {
	if it.ProductID != productID {
		return false
	}
	if it.Variant == nil || v == nil {
		return it.Variant == nil && v == nil
	}
	return it.Variant.Name == v.Name && it.Variant.Value == v.Value
}

func (it Item) line() pricing.Line {
	return pricing.Line{
		ProductRef:  it.ProductID.String(),
		CategoryRef: it.CategoryRef,
		Quantity:    it.Quantity,
		Variant:     it.Variant,
		UnitPrice:   it.Price,
	}
}

// AppliedCoupon is the coupon attached to a cart. Discount is the rule magnitude;
// Savings is what the last recalculation actually took off.
type AppliedCoupon struct {
	Code     string                `json:"code"`
	Type     pricing.PromotionKind `json:"type"`
	Discount decimal.Decimal       `json:"discount"`
	Savings  decimal.Decimal       `json:"savings"`
	Rule     pricing.Promotion     `json:"rule"`
}

// TotalsSnapshot is the persisted, display-rounded result of the last recalculation.
type TotalsSnapshot struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	TaxRate  decimal.Decimal `json:"taxRate"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Cart is the aggregate persisted per shopper.
type Cart struct {
	ID             uuid.UUID              `json:"id"`
	UserID         *uuid.UUID             `json:"userId,omitempty"`
	AnonID         string                 `json:"anonId,omitempty"`
	Status         string                 `json:"status"`
	ShippingMethod pricing.ShippingMethod `json:"shippingMethod"`
	Items          []Item                 `json:"items"`
	Coupon         *AppliedCoupon         `json:"coupon,omitempty"`
	Totals         TotalsSnapshot         `json:"totals"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	ExpiresAt      time.Time              `json:"expiresAt"`
}

// New returns an empty active cart.
func New(userID *uuid.UUID, anonID string, now time.Time, ttl time.Duration) *Cart {
	return &Cart{
		ID:             uuid.New(),
		UserID:         userID,
		AnonID:         anonID,
		Status:         StatusActive,
		ShippingMethod: pricing.ShippingStandard,
		Items:          []Item{},
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// Active reports whether the cart can still be mutated at now.
func (c *Cart) Active(now time.Time) bool {
	return c.Status == StatusActive && now.Before(c.ExpiresAt)
}

// AddItem appends a line or, if the same product and variant is already present,
// increments its quantity and refreshes its price. Insertion order is preserved.
func (c *Cart) AddItem(productID uuid.UUID, v *pricing.Variant, qty int, price decimal.Decimal, now time.Time) (Item, error) {
	if qty < 1 {
		return Item{}, ErrInvalidQuantity
	}
	for i := range c.Items {
		if c.Items[i].sameLine(productID, v) {
			c.Items[i].Quantity += qty
			c.Items[i].Price = price
			c.Items[i].Variant = v
			return c.Items[i], nil
		}
	}
	it := Item{ID: uuid.New(), ProductID: productID, Quantity: qty, Variant: v, Price: price, AddedAt: now}
	c.Items = append(c.Items, it)
	return it, nil
}

// UpdateQuantity sets the quantity of an existing line.
func (c *Cart) UpdateQuantity(itemID uuid.UUID, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	i := c.indexOf(itemID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.Items[i].Quantity = qty
	return nil
}

// RemoveItem deletes a line.
func (c *Cart) RemoveItem(itemID uuid.UUID) error {
	i := c.indexOf(itemID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return nil
}

// Clear empties the cart and detaches the coupon.
func (c *Cart) Clear() {
	c.Items = []Item{}
	c.Coupon = nil
}

// ApplyCoupon attaches a coupon, replacing any previous one.
func (c *Cart) ApplyCoupon(code string, rule pricing.Promotion) {
	c.Coupon = &AppliedCoupon{
		Code:     code,
		Type:     rule.Kind,
		Discount: rule.Magnitude,
		Savings:  decimal.Zero,
		Rule:     rule,
	}
}

// RemoveCoupon detaches the coupon.
func (c *Cart) RemoveCoupon() {
	c.Coupon = nil
}

// SetShippingMethod changes the shipping method.
func (c *Cart) SetShippingMethod(m pricing.ShippingMethod) error {
	if !m.Valid() {
		return pricing.ErrUnknownShippingMethod
	}
	c.ShippingMethod = m
	return nil
}

// Lines returns the calculator view of the items.
func (c *Cart) Lines() []pricing.Line {
	lines := make([]pricing.Line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, it.line())
	}
	return lines
}

// Recalculate recomputes the totals snapshot and coupon savings from scratch.
func (c *Cart) Recalculate(calc *pricing.Calculator) (pricing.Totals, error) {
	var promo *pricing.Promotion
	if c.Coupon != nil {
		rule := c.Coupon.Rule
		promo = &rule
	}
	totals, err := calc.Compute(c.Lines(), c.ShippingMethod, promo)
	if err != nil {
		return pricing.Totals{}, err
	}
	display := totals.Rounded()
	c.Totals = TotalsSnapshot{
		Subtotal: display.Subtotal,
		Tax:      display.Tax,
		TaxRate:  display.TaxRate,
		Shipping: display.Shipping,
		Discount: display.Discount,
		Total:    display.Total,
	}
	if c.Coupon != nil {
		c.Coupon.Savings = display.Discount
	}
	return totals, nil
}

func (c *Cart) indexOf(itemID uuid.UUID) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}
