package app

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/backend-5elm/internal/config"
	"github.com/noah-isme/backend-5elm/internal/pricing"
)

func testDeps(t *testing.T) *Dependencies {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	def := pricing.DefaultConfig()
	return &Dependencies{
		Config: &config.Config{
			Pricing: config.PricingConfig{
				TaxRate:               def.TaxRate,
				FreeShippingThreshold: def.FreeShippingThreshold,
				ShippingFees:          def.ShippingFees,
				Currency:              "INR",
			},
			Cart:    config.CartConfig{TTL: time.Hour, LockTTL: time.Second},
			Coupon:  config.CouponConfig{DefaultPerUserLimit: 1},
			Catalog: config.CatalogConfig{CacheTTL: time.Minute, BreakerMinRequests: 5, BreakerFailureRatio: 0.5, BreakerOpenFor: time.Second},
		},
		Logger: zerolog.Nop(),
		Redis:  client,
	}
}

func TestServicesWiresDomain(t *testing.T) {
	svcs, err := testDeps(t).Services()
	require.NoError(t, err)
	require.NotNil(t, svcs.Catalog)
	require.NotNil(t, svcs.Carts)
	require.Equal(t, 1, svcs.Coupons.DefaultPerUserLimit)
	require.True(t, svcs.Calculator.Config().TaxRate.Equal(pricing.DefaultConfig().TaxRate))
}

func TestServicesRejectsBadPricing(t *testing.T) {
	deps := testDeps(t)
	delete(deps.Config.Pricing.ShippingFees, pricing.ShippingOvernight)
	_, err := deps.Services()
	require.ErrorIs(t, err, pricing.ErrInvalidConfig)
}

func TestLimiterStoreCounts(t *testing.T) {
	deps := testDeps(t)
	store, err := NewLimiterStore(deps.Redis, "ratelimit:test")
	require.NoError(t, err)

	lim := limiter.New(store, limiter.Rate{Period: time.Minute, Limit: 2})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := lim.Get(ctx, "203.0.113.9")
		require.NoError(t, err)
		require.False(t, res.Reached)
	}
	res, err := lim.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.True(t, res.Reached)

	_, err = NewLimiterStore(nil, "x")
	require.Error(t, err)
}
