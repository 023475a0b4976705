package coupon

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-5elm/internal/pricing"
)

func activeRule() Rule {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-24 * time.Hour)
	end := now.Add(24 * time.Hour)
	return Rule{
		ID:        uuid.New(),
		Code:      "SAVE10",
		Kind:      pricing.KindPercentage,
		Magnitude: decimal.NewFromInt(10),
		Active:    true,
		StartsAt:  &start,
		EndsAt:    &end,
	}
}

func baseContext() EligibilityContext {
	return EligibilityContext{
		Now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Subtotal: decimal.NewFromInt(500),
		Lines:    []Line{{ProductID: uuid.New()}},
	}
}

func intp(v int) *int { return &v }

func TestValidateReturnsSpecificSentinel(t *testing.T) {
	user := uuid.New()
	other := uuid.New()
	cat := uuid.New()
	prod := uuid.New()

	cases := []struct {
		name   string
		mutate func(r *Rule, ec *EligibilityContext)
		want   error
	}{
		{"eligible", func(*Rule, *EligibilityContext) {}, nil},
		{"inactive", func(r *Rule, _ *EligibilityContext) { r.Active = false }, ErrInactive},
		{"not started", func(r *Rule, ec *EligibilityContext) { ec.Now = r.StartsAt.Add(-time.Second) }, ErrNotStarted},
		{"expired", func(r *Rule, ec *EligibilityContext) { ec.Now = r.EndsAt.Add(time.Second) }, ErrExpired},
		{"start boundary inclusive", func(r *Rule, ec *EligibilityContext) { ec.Now = *r.StartsAt }, nil},
		{"end boundary inclusive", func(r *Rule, ec *EligibilityContext) { ec.Now = *r.EndsAt }, nil},
		{"usage cap", func(r *Rule, _ *EligibilityContext) { r.UsageLimit = intp(5); r.UsedCount = 5 }, ErrUsageLimitReached},
		{"per user cap", func(_ *Rule, ec *EligibilityContext) {
			ec.UserID = &user
			ec.PerUserLimit = 1
			ec.PerUserUsed = 1
		}, ErrPerUserLimitReached},
		{"per user cap ignored for guests", func(_ *Rule, ec *EligibilityContext) {
			ec.PerUserLimit = 1
			ec.PerUserUsed = 1
		}, nil},
		{"below minimum", func(r *Rule, _ *EligibilityContext) {
			r.MinOrderValue = decimal.NewNullDecimal(decimal.NewFromInt(1000))
		}, ErrMinimumNotMet},
		{"above maximum", func(r *Rule, _ *EligibilityContext) {
			r.MaxOrderValue = decimal.NewNullDecimal(decimal.NewFromInt(100))
		}, ErrMaximumExceeded},
		{"user not allowed", func(r *Rule, ec *EligibilityContext) {
			r.AllowedUsers = []uuid.UUID{other}
			ec.UserID = &user
		}, ErrUserNotAllowed},
		{"guest on user allow list", func(r *Rule, _ *EligibilityContext) { r.AllowedUsers = []uuid.UUID{other} }, ErrUserNotAllowed},
		{"no line in scope", func(r *Rule, _ *EligibilityContext) { r.AllowedProducts = []uuid.UUID{prod} }, ErrNotApplicable},
		{"category in scope", func(r *Rule, ec *EligibilityContext) {
			r.AllowedCategories = []uuid.UUID{cat}
			ec.Lines = append(ec.Lines, Line{ProductID: uuid.New(), CategoryID: &cat})
		}, nil},
		{"excluded product", func(r *Rule, ec *EligibilityContext) {
			r.ExcludedProducts = []uuid.UUID{prod}
			ec.Lines = append(ec.Lines, Line{ProductID: prod})
		}, ErrExcludedItem},
		{"excluded category", func(r *Rule, ec *EligibilityContext) {
			r.ExcludedCategories = []uuid.UUID{cat}
			ec.Lines = append(ec.Lines, Line{ProductID: uuid.New(), CategoryID: &cat})
		}, ErrExcludedItem},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := activeRule()
			ec := baseContext()
			tc.mutate(&rule, &ec)
			err := rule.Validate(ec)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateChecksInOrder(t *testing.T) {
	rule := activeRule()
	rule.Active = false
	rule.UsageLimit = intp(0)
	rule.MinOrderValue = decimal.NewNullDecimal(decimal.NewFromInt(10_000))
	err := rule.Validate(baseContext())
	if !errors.Is(err, ErrInactive) {
		t.Fatalf("expected inactive to win, got %v", err)
	}
}

func TestPromotionMapping(t *testing.T) {
	prod, cat := uuid.New(), uuid.New()
	rule := Rule{
		Code:               "B2G1",
		Kind:               pricing.KindBuyXGetY,
		BuyQty:             2,
		GetQty:             1,
		GetDiscountPercent: decimal.NewFromInt(100),
		MinOrderValue:      decimal.NewNullDecimal(decimal.NewFromInt(50)),
		AllowedProducts:    []uuid.UUID{prod},
		AllowedCategories:  []uuid.UUID{cat},
	}
	p := rule.Promotion()
	require.Equal(t, pricing.KindBuyXGetY, p.Kind)
	require.Equal(t, []string{prod.String()}, p.ProductRefs)
	require.Equal(t, []string{cat.String()}, p.CategoryRefs)
	require.True(t, p.MinimumSubtotal.Valid)
	require.NoError(t, rule.CheckDefinition())

	pct := activeRule().Promotion()
	require.Empty(t, pct.ProductRefs)
	require.Empty(t, pct.CategoryRefs)
	require.Zero(t, pct.BuyQty)
}

func TestCheckDefinition(t *testing.T) {
	rule := activeRule()
	require.NoError(t, rule.CheckDefinition())

	bad := rule
	bad.Code = "TWO WORDS"
	require.ErrorIs(t, bad.CheckDefinition(), ErrInvalidRule)

	bad = rule
	bad.Magnitude = decimal.NewFromInt(150)
	require.ErrorIs(t, bad.CheckDefinition(), ErrInvalidRule)

	bad = rule
	bad.StartsAt, bad.EndsAt = rule.EndsAt, rule.StartsAt
	require.ErrorIs(t, bad.CheckDefinition(), ErrInvalidRule)

	bad = rule
	bad.UsageLimit = intp(-1)
	require.ErrorIs(t, bad.CheckDefinition(), ErrInvalidRule)
}

func TestNormalizeCode(t *testing.T) {
	require.Equal(t, "SUMMER25", NormalizeCode("  summer25 "))
}
