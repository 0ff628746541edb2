// Package metricstore persists per-backend latency samples in a time-series
// store. The production implementation targets RedisTimeSeries.
//
// Writes are fire-and-forget telemetry: callers log failures and move on, so
// every method degrades without side effects on the request path.
package metricstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Retention is how long samples are kept, in milliseconds (1 hour).
const Retention = 3_600_000

// Store is a minimal append-only time-series sink.
type Store interface {
	// CreateSeries creates a series with the given retention. Creating a
	// series that already exists is not an error.
	CreateSeries(ctx context.Context, key string, retentionMs int64) error

	// Append writes one sample at the given timestamp.
	Append(ctx context.Context, key string, value float64, ts time.Time) error
}

// LatencyKey and FirstTokenKey build the series keys for one (model, url)
// backend pairing. Latency samples are milliseconds; first-token samples are
// microseconds.
func LatencyKey(model, apiURL string) string {
	return fmt.Sprintf("metrics_ts:latency:%s:%s", model, apiURL)
}

func FirstTokenKey(model, apiURL string) string {
	return fmt.Sprintf("metrics_ts:time_to_first_token:%s:%s", model, apiURL)
}

// RedisTS is a RedisTimeSeries-backed Store.
type RedisTS struct {
	client *redis.Client
}

// NewRedisTS wraps an existing Redis client. The caller owns the client
// lifecycle.
func NewRedisTS(client *redis.Client) *RedisTS {
	return &RedisTS{client: client}
}

// CreateSeries issues TS.CREATE, treating "key already exists" as success.
func (s *RedisTS) CreateSeries(ctx context.Context, key string, retentionMs int64) error {
	err := s.client.TSCreateWithArgs(ctx, key, &redis.TSOptions{Retention: int(retentionMs)}).Err()
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("metricstore: create %s: %w", key, err)
	}
	return nil
}

// Append issues TS.ADD with an explicit millisecond timestamp.
func (s *RedisTS) Append(ctx context.Context, key string, value float64, ts time.Time) error {
	if err := s.client.TSAdd(ctx, key, ts.UnixMilli(), value).Err(); err != nil {
		return fmt.Errorf("metricstore: append %s: %w", key, err)
	}
	return nil
}

// IsAlreadyExists reports whether err is RedisTimeSeries' duplicate-key
// response to TS.CREATE.
func IsAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key already exists")
}
