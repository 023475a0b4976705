package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-5elm/internal/resilience"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBreakerTransitions(t *testing.T) {
	clk := &clock{now: time.Unix(0, 0)}
	breaker := resilience.NewBreaker(resilience.Options{MinRequests: 2, FailureRatio: 0.5, OpenFor: 50 * time.Millisecond, Now: clk.Now})

	require.True(t, breaker.Allow())
	breaker.Report(false)
	require.True(t, breaker.Allow())
	breaker.Report(false)

	require.False(t, breaker.Allow(), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())

	clk.Advance(60 * time.Millisecond)
	require.True(t, breaker.Allow(), "breaker should admit a probe after cool off")
	require.False(t, breaker.Allow(), "only one probe at a time")
	breaker.Report(true)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clk := &clock{now: time.Unix(0, 0)}
	breaker := resilience.NewBreaker(resilience.Options{MinRequests: 1, OpenFor: time.Second, Now: clk.Now})

	require.True(t, breaker.Allow())
	breaker.Report(false)
	clk.Advance(time.Second)
	require.True(t, breaker.Allow())
	breaker.Report(false)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow())
}

func TestBreakerExecute(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.Options{MinRequests: 1, OpenFor: time.Hour})
	boom := errors.New("boom")

	err := breaker.Execute(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	called := false
	err = breaker.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.False(t, called)
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.Options{MinRequests: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := breaker.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestBreakerPublishesState(t *testing.T) {
	reg := prometheus.NewRegistry()
	gauge := resilience.NewStateGauge("fiveelm", reg)
	clk := &clock{now: time.Unix(0, 0)}
	breaker := resilience.NewBreaker(resilience.Options{Name: "search", MinRequests: 1, OpenFor: time.Second, State: gauge, Now: clk.Now})

	require.Equal(t, 0.0, testutil.ToFloat64(gauge.WithLabelValues("search")))
	require.True(t, breaker.Allow())
	breaker.Report(false)
	require.Equal(t, 1.0, testutil.ToFloat64(gauge.WithLabelValues("search")))
	clk.Advance(time.Second)
	require.True(t, breaker.Allow())
	require.Equal(t, 2.0, testutil.ToFloat64(gauge.WithLabelValues("search")))
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-base*2/5)
	require.LessOrEqual(t, d, base*2+base*2/5)
}
