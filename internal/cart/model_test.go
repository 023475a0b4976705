package cart

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-5elm/internal/pricing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAddItemMergesSameLine(t *testing.T) {
	now := time.Now()
	c := New(nil, "anon", now, time.Hour)
	p1, p2 := uuid.New(), uuid.New()
	red := &pricing.Variant{Name: "color", Value: "red", PriceAdder: dec("5")}

	first, err := c.AddItem(p1, nil, 1, dec("10"), now)
	require.NoError(t, err)
	_, err = c.AddItem(p2, nil, 1, dec("20"), now)
	require.NoError(t, err)
	_, err = c.AddItem(p1, red, 1, dec("10"), now)
	require.NoError(t, err)
	again, err := c.AddItem(p1, nil, 2, dec("11"), now)
	require.NoError(t, err)

	require.Len(t, c.Items, 3)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, 3, c.Items[0].Quantity)
	require.True(t, c.Items[0].Price.Equal(dec("11")))
	require.Equal(t, p2, c.Items[1].ProductID)
	require.Equal(t, "red", c.Items[2].Variant.Value)

	_, err = c.AddItem(p1, nil, 0, dec("10"), now)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestUpdateAndRemoveItem(t *testing.T) {
	now := time.Now()
	c := New(nil, "anon", now, time.Hour)
	it, err := c.AddItem(uuid.New(), nil, 1, dec("10"), now)
	require.NoError(t, err)

	require.NoError(t, c.UpdateQuantity(it.ID, 4))
	require.Equal(t, 4, c.Items[0].Quantity)
	require.ErrorIs(t, c.UpdateQuantity(it.ID, 0), ErrInvalidQuantity)
	require.ErrorIs(t, c.UpdateQuantity(uuid.New(), 1), ErrItemNotFound)

	require.NoError(t, c.RemoveItem(it.ID))
	require.Empty(t, c.Items)
	require.ErrorIs(t, c.RemoveItem(it.ID), ErrItemNotFound)
}

func TestRecalculateSnapshotsRoundedTotals(t *testing.T) {
	now := time.Now()
	c := New(nil, "anon", now, time.Hour)
	_, err := c.AddItem(uuid.New(), nil, 2, dec("299.99"), now)
	require.NoError(t, err)
	c.ApplyCoupon("TEN", pricing.Promotion{Kind: pricing.KindPercentage, Magnitude: dec("10")})

	totals, err := c.Recalculate(pricing.MustCalculator(pricing.DefaultConfig()))
	require.NoError(t, err)
	require.True(t, totals.PromotionApplied)
	require.Equal(t, "599.98", c.Totals.Subtotal.StringFixed(2))
	require.Equal(t, "108.00", c.Totals.Tax.StringFixed(2))
	require.Equal(t, "60.00", c.Totals.Discount.StringFixed(2))
	// 599.98 + 107.9964 + 100 - 59.998 = 747.9784
	require.Equal(t, "747.98", c.Totals.Total.StringFixed(2))
	require.Equal(t, "60.00", c.Coupon.Savings.StringFixed(2))
}

func TestApplyCouponReplaces(t *testing.T) {
	c := New(nil, "anon", time.Now(), time.Hour)
	c.ApplyCoupon("A", pricing.Promotion{Kind: pricing.KindFixed, Magnitude: dec("5")})
	c.ApplyCoupon("B", pricing.Promotion{Kind: pricing.KindFreeShipping})
	require.Equal(t, "B", c.Coupon.Code)
	require.Equal(t, pricing.KindFreeShipping, c.Coupon.Type)

	c.Clear()
	require.Nil(t, c.Coupon)
}

func TestEmptyCartTotalsAreZero(t *testing.T) {
	c := New(nil, "anon", time.Now(), time.Hour)
	require.NoError(t, c.SetShippingMethod(pricing.ShippingOvernight))
	_, err := c.Recalculate(pricing.MustCalculator(pricing.DefaultConfig()))
	require.NoError(t, err)
	require.True(t, c.Totals.Total.IsZero())
	require.True(t, c.Totals.Shipping.IsZero())
	require.ErrorIs(t, c.SetShippingMethod("drone"), pricing.ErrUnknownShippingMethod)
}
