package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Trim expired members, then admit the event only while under the limit.
// Rejected attempts are not recorded so a client cannot extend its own lockout.
var slidingScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local n = redis.call('ZCARD', KEYS[1])
if n < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  return {1, n + 1}
end
return {0, n}
`)

// SlidingWindow is a Redis sorted-set limiter with an exact rolling window.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

func (s SlidingWindow) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Allow implements Limiter.
func (s SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	now := s.now()
	if s.Client == nil || max <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: max, Remaining: max, ResetAt: now.Add(window)}, nil
	}
	cutoff := now.Add(-window).UnixMilli()
	res, err := slidingScript.Run(ctx, s.Client, []string{s.Prefix + key},
		strconv.FormatInt(cutoff, 10),
		strconv.FormatInt(now.UnixMilli(), 10),
		max,
		uuid.NewString(),
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{Limit: max, ResetAt: now.Add(window)}, fmt.Errorf("sliding window %s: %w", key, err)
	}
	count := int(res[1])
	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   res[0] == 1,
		Limit:     max,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}, nil
}
