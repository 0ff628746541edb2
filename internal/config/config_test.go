package config

import (
	"strings"
	"testing"
	"time"
)

// validConfig returns a minimal configuration that passes validation. Tests
// mutate it to exercise individual constraints.
func validConfig() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",
		Cache:    CacheConfig{Mode: "memory", TTL: time.Hour},
		Models: []ModelConfig{
			{
				Name:    "llama-3.1-8b",
				Aliases: []string{"llama"},
				Clients: []ClientConfig{
					{Model: "backend/llama", Kind: "openai", URL: "http://localhost:8000/v1/"},
				},
			},
		},
	}
}

func TestValidConfigPasses(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad cache mode",
			mutate:  func(c *Config) { c.Cache.Mode = "disk" },
			wantSub: "CACHE_MODE",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantSub: "LOG_LEVEL",
		},
		{
			name: "redis cache without url",
			mutate: func(c *Config) {
				c.Cache.Mode = "redis"
				c.Redis.URL = ""
			},
			wantSub: "REDIS_URL",
		},
		{
			name: "rate limit without url",
			mutate: func(c *Config) {
				c.RateLimit.RPMLimit = 100
				c.Redis.URL = ""
			},
			wantSub: "REDIS_URL",
		},
		{
			name:    "no models",
			mutate:  func(c *Config) { c.Models = nil },
			wantSub: "at least one model",
		},
		{
			name:    "model without name",
			mutate:  func(c *Config) { c.Models[0].Name = "" },
			wantSub: "name is required",
		},
		{
			name: "duplicate model name",
			mutate: func(c *Config) {
				c.Models = append(c.Models, c.Models[0])
				c.Models[1].Aliases = nil
			},
			wantSub: "declared twice",
		},
		{
			name: "alias collides with name",
			mutate: func(c *Config) {
				second := c.Models[0]
				second.Name = "other"
				second.Aliases = []string{"llama-3.1-8b"}
				c.Models = append(c.Models, second)
			},
			wantSub: "already taken",
		},
		{
			name:    "model without clients",
			mutate:  func(c *Config) { c.Models[0].Clients = nil },
			wantSub: "no clients",
		},
		{
			name:    "client without backend model",
			mutate:  func(c *Config) { c.Models[0].Clients[0].Model = "" },
			wantSub: "model is required",
		},
		{
			name:    "client without url",
			mutate:  func(c *Config) { c.Models[0].Clients[0].URL = "" },
			wantSub: "url is required",
		},
		{
			name:    "unknown backend kind",
			mutate:  func(c *Config) { c.Models[0].Clients[0].Kind = "triton" },
			wantSub: "invalid kind",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Models[0].Clients[0].Timeout = -time.Second },
			wantSub: "timeout",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := validConfig()
	cfg.Models[0].Clients[0].Kind = "VLLM"
	cfg.Models[0].OwnedBy = ""

	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := cfg.Models[0].Clients[0].Kind; got != "vllm" {
		t.Errorf("kind = %q, want lowercased vllm", got)
	}
	if got := cfg.Models[0].OwnedBy; got != "nulpoint" {
		t.Errorf("owned_by = %q, want default nulpoint", got)
	}
}

func TestDefaultKindIsOpenAI(t *testing.T) {
	cfg := validConfig()
	cfg.Models[0].Clients[0].Kind = ""

	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := cfg.Models[0].Clients[0].Kind; got != "openai" {
		t.Errorf("kind = %q, want openai", got)
	}
}

func TestNeedsRedis(t *testing.T) {
	cfg := validConfig()
	if cfg.NeedsRedis() {
		t.Error("memory cache with no rate limit should not need Redis")
	}

	cfg.Cache.Mode = "redis"
	if !cfg.NeedsRedis() {
		t.Error("redis cache mode needs Redis")
	}

	cfg.Cache.Mode = "none"
	cfg.RateLimit.RPMLimit = 60
	if !cfg.NeedsRedis() {
		t.Error("rate limiting needs Redis")
	}
}
