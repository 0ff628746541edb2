// Package cache provides exact-match caching of unary responses.
//
// Two backends are available: a Redis-backed cache for shared deployments
// and an in-process TTL cache for single-instance setups. Both degrade
// gracefully — a broken cache never fails a request, it only stops saving
// upstream calls. Streaming responses are never cached.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
)

// Cache is the exact-match response cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key builds a deterministic cache key for one request. The model name is
// part of the key so two models sharing a request body never collide; the
// endpoint is included because the same body means different things on
// different routes.
func Key(ep endpoint.Endpoint, model string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(ep))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write(body)
	return "cache:" + hex.EncodeToString(h.Sum(nil))
}
