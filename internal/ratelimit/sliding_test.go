package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

func TestSlidingWindowAllow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Unix(1_700_000_000, 0)
	limiter := SlidingWindow{Client: client, Prefix: "test:", Now: func() time.Time { return now }}

	ctx := context.Background()
	window := 2 * time.Second
	max := 2

	for i := 0; i < max; i++ {
		d, err := limiter.Allow(ctx, "key", window, max)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
		if d.Remaining != max-(i+1) {
			t.Fatalf("unexpected remaining: %d", d.Remaining)
		}
	}

	d, err := limiter.Allow(ctx, "key", window, max)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected third request to be rejected")
	}
	if d.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", d.Remaining)
	}

	now = now.Add(window + time.Millisecond)
	d, err = limiter.Allow(ctx, "key", window, max)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected request after window to be allowed")
	}
}

func TestSlidingWindowRejectedAttemptsDoNotCount(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Unix(1_700_000_000, 0)
	limiter := SlidingWindow{Client: client, Now: func() time.Time { return now }}
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "coupon", time.Minute, 1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(ctx, "coupon", time.Minute, 1)
		require.NoError(t, err)
		require.False(t, d.Allowed)
	}
	members, err := client.ZCard(ctx, "coupon").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, members)
}

func TestFixedWindowAllow(t *testing.T) {
	limiter := Fixed{Store: memory.NewStore(), Prefix: "api:"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "1.2.3.4", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 3, d.Limit)
	}
	d, err := limiter.Allow(ctx, "1.2.3.4", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)

	other, err := limiter.Allow(ctx, "5.6.7.8", time.Minute, 3)
	require.NoError(t, err)
	require.True(t, other.Allowed)
}
