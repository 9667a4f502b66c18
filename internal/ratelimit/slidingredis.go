package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, admits the event only while under max and
// reports the oldest surviving score so callers know when a slot frees up.
// Scores are unix milliseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[4])
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[3])
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
  redis.call('ZADD', key, ARGV[1], ARGV[5])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, ARGV[2])
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = tonumber(ARGV[1])
if oldest[2] then first = tonumber(oldest[2]) end
return {allowed, count, first}
`)

// Limiter is a sliding-window limiter over Redis sorted sets. Rejected calls
// are not recorded, so a client hammering the endpoint does not push its own
// reset further out.
type Limiter struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow records an event for key when fewer than max happened within window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}

	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	nowMs := now.UnixMilli()
	args := []any{
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(windowMs, 10),
		strconv.FormatInt(nowMs-windowMs, 10),
		max,
		key + ":" + uuid.NewString(),
	}
	res, err := slidingWindow.Run(ctx, l.Client, []string{l.Prefix + key}, args...).Int64Slice()
	if err != nil {
		return false, 0, now.Add(window), fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(res) != 3 {
		return false, 0, now.Add(window), fmt.Errorf("sliding window %s: unexpected reply of %d values", key, len(res))
	}

	count := int(res[1])
	remaining = max - count
	if remaining < 0 {
		remaining = 0
	}
	reset = time.UnixMilli(res[2]).Add(window)
	return res[0] == 1, remaining, reset, nil
}
