package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
)

func newRedisTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client), mr
}

func TestKeyDeterministic(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	a := Key(endpoint.ChatCompletions, "llama-3.1-8b", body)
	b := Key(endpoint.ChatCompletions, "llama-3.1-8b", body)
	if a != b {
		t.Fatalf("same inputs produced different keys: %s vs %s", a, b)
	}
}

func TestKeyDistinguishesInputs(t *testing.T) {
	body := []byte(`{"input":"hello"}`)

	base := Key(endpoint.Embeddings, "bge-m3", body)
	cases := map[string]string{
		"different model":    Key(endpoint.Embeddings, "other-model", body),
		"different endpoint": Key(endpoint.Rerank, "bge-m3", body),
		"different body":     Key(endpoint.Embeddings, "bge-m3", []byte(`{"input":"world"}`)),
	}
	for name, k := range cases {
		if k == base {
			t.Errorf("%s collided with base key", name)
		}
	}
}

func TestRedisGetMiss(t *testing.T) {
	c, _ := newRedisTestCache(t)

	if _, ok := c.Get(context.Background(), "cache:absent"); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestRedisSetAndGetHit(t *testing.T) {
	c, _ := newRedisTestCache(t)
	ctx := context.Background()

	key := Key(endpoint.ChatCompletions, "llama-3.1-8b", []byte(`{"x":1}`))
	if err := c.Set(ctx, key, []byte(`{"cached":true}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if string(val) != `{"cached":true}` {
		t.Fatalf("unexpected value: %s", val)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	c, mr := newRedisTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "cache:ttl", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL("cache:ttl"); ttl != time.Minute {
		t.Fatalf("TTL = %v, want 1m", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, "cache:ttl"); ok {
		t.Fatal("expected miss after TTL elapsed")
	}
}

func TestRedisDelete(t *testing.T) {
	c, _ := newRedisTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "cache:del", []byte("v"), time.Hour)
	if err := c.Delete(ctx, "cache:del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.Get(ctx, "cache:del"); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestRedisDegradesOnFailure(t *testing.T) {
	c, mr := newRedisTestCache(t)
	ctx := context.Background()
	mr.Close()

	if err := c.Set(ctx, "cache:k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set should swallow backend errors, got %v", err)
	}
	if _, ok := c.Get(ctx, "cache:k"); ok {
		t.Fatal("Get against a dead backend should miss")
	}
}

func TestMemorySetAndGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(ctx)
	defer c.Close()

	c.Set(ctx, "k", []byte("v"), time.Hour)
	val, ok := c.Get(ctx, "k")
	if !ok || string(val) != "v" {
		t.Fatalf("Get = %q, %v; want v, true", val, ok)
	}
}

func TestMemoryLazyExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(ctx)
	defer c.Close()

	c.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d after lazy expiry, want 0", c.Len())
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(ctx)
	defer c.Close()

	c.Set(ctx, "k", []byte("v"), time.Hour)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestMemoryCloseIdempotent(t *testing.T) {
	c := NewMemoryCache(context.Background())
	c.Close()
	c.Close()
}
