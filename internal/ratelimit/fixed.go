package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
)

// Fixed is a fixed-window limiter on top of a ulule/limiter store.
type Fixed struct {
	Store  limiter.Store
	Prefix string
}

// Allow implements Limiter.
func (f Fixed) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	if f.Store == nil || max <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: max, Remaining: max, ResetAt: time.Now().Add(window)}, nil
	}
	lim := limiter.New(f.Store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := lim.Get(ctx, f.Prefix+key)
	if err != nil {
		return Decision{Limit: max}, fmt.Errorf("fixed window %s: %w", key, err)
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		ResetAt:   time.Unix(res.Reset, 0),
	}, nil
}
