// Package ratelimit implements per-model request-rate limiting using a Redis
// sliding window maintained by an atomic Lua script.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript maintains a sorted set of request timestamps and
// reports whether one more request fits the window.
// KEYS[1] = window key
// ARGV[1] = current unix timestamp (nanoseconds)
// ARGV[2] = window size in nanoseconds
// ARGV[3] = max requests per window
// Returns 1 when allowed, 0 when limited.
var slidingWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])

		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		if count >= limit then
			return 0
		end

		local member = tostring(now) .. tostring(math.random(1, 1000000))
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000000))
		return 1
`)

// Limiter enforces a requests-per-minute ceiling per model name.
type Limiter struct {
	rdb *redis.Client
	rpm int
}

// New creates a Limiter. rpm must be > 0; values ≤ 0 block every request.
func New(rdb *redis.Client, rpm int) *Limiter {
	return &Limiter{rdb: rdb, rpm: rpm}
}

// Allow reports whether one more request for model fits the current window.
// When Redis is unreachable the request is allowed — losing rate limiting is
// preferable to refusing all traffic.
func (l *Limiter) Allow(ctx context.Context, model string) (bool, error) {
	now := time.Now().UnixNano()
	window := time.Minute.Nanoseconds()

	result, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{"ratelimit:rpm:" + model},
		now, window, l.rpm,
	).Int()
	if err != nil {
		return true, nil
	}

	return result == 1, nil
}
