// Package config loads and validates all runtime configuration for the gateway.
//
// Scalar settings are read from environment variables (preferred for
// containers) with a config.yaml fallback; env vars take precedence. The
// model catalogue — names, aliases, backend clients, prices — is structured
// and comes from the "models" section of config.yaml only.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// Redis holds the connection URL for the Redis-backed cache, rate limiter
	// and time-series metric store. Required unless CacheMode is "memory" or
	// "none" and rate limiting is disabled.
	Redis RedisConfig

	// Cache controls response caching behaviour.
	Cache CacheConfig

	// RateLimit controls per-model request-rate limiting.
	RateLimit RateLimitConfig

	// ClickHouse configures the usage accounting sink. Leave Addr empty to
	// log usage records nowhere (Prometheus counters still apply).
	ClickHouse ClickHouseConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default).
	CORSOrigins []string

	// Models is the served model catalogue. At least one entry is required.
	Models []ModelConfig
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  — Redis-backed cache (requires REDIS_URL).
	//   "memory" — In-process TTL cache. Not shared across replicas.
	//   "none"   — Cache disabled entirely.
	// Default: "memory".
	Mode string

	// TTL is the default time-to-live for cached responses. Default: 1h.
	TTL time.Duration
}

// RateLimitConfig controls request-rate limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute allowed per model.
	// 0 disables rate limiting. Default: 0.
	RPMLimit int
}

// ClickHouseConfig holds the usage log sink configuration.
type ClickHouseConfig struct {
	// Addr is "host:port" of the ClickHouse native interface.
	// Empty disables usage logging.
	Addr     string
	Database string
	Username string
	Password string
}

// ModelConfig declares one caller-visible model and its backend clients.
type ModelConfig struct {
	// Name is the caller-facing model name.
	Name string `mapstructure:"name"`

	// Aliases are alternative names resolving to this model.
	Aliases []string `mapstructure:"aliases"`

	// OwnedBy is reported in the /v1/models listing. Default: "nulpoint".
	OwnedBy string `mapstructure:"owned_by"`

	// Clients are the upstream backends serving this model. Requests
	// round-robin across healthy clients.
	Clients []ClientConfig `mapstructure:"clients"`
}

// ClientConfig declares one upstream backend.
type ClientConfig struct {
	// Model is the backend-internal model name sent upstream.
	Model string `mapstructure:"model"`

	// Kind selects the backend API flavour: openai, vllm, or tei.
	Kind string `mapstructure:"kind"`

	// URL is the backend base URL, e.g. "https://api.example.com/v1/".
	URL string `mapstructure:"url"`

	// Key is the bearer token sent to the backend. Optional.
	Key string `mapstructure:"key"`

	// Timeout is the per-request HTTP timeout. Default: 120s.
	Timeout time.Duration `mapstructure:"timeout"`

	// Costs is the price schedule per million tokens.
	Costs CostsConfig `mapstructure:"costs"`

	// Carbon configures the environmental impact estimate. Optional.
	Carbon CarbonConfig `mapstructure:"carbon"`
}

// CostsConfig is the per-million-token price schedule.
type CostsConfig struct {
	PromptTokens     float64 `mapstructure:"prompt_tokens"`
	CompletionTokens float64 `mapstructure:"completion_tokens"`
}

// CarbonConfig holds the model-size parameters driving the carbon estimate.
// Nil pointers mean unknown; the estimate degrades gracefully.
type CarbonConfig struct {
	// ActiveParams is the active parameter count in billions.
	ActiveParams *float64 `mapstructure:"active_params"`
	// TotalParams is the total parameter count in billions.
	TotalParams *float64 `mapstructure:"total_params"`
	// Zone is the ISO 3166-1 alpha-3 electricity zone, e.g. "FRA".
	Zone string `mapstructure:"zone"`
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("CORS_ORIGINS", []string{"*"})
	v.SetDefault("RPM_LIMIT", 0)
	v.SetDefault("CLICKHOUSE_DATABASE", "default")
	v.SetDefault("CLICKHOUSE_USERNAME", "default")

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode: strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:  v.GetDuration("CACHE_TTL"),
		},

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		ClickHouse: ClickHouseConfig{
			Addr:     v.GetString("CLICKHOUSE_ADDR"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
			Username: v.GetString("CLICKHOUSE_USERNAME"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
		},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := v.UnmarshalKey("models", &cfg.Models); err != nil {
		return nil, fmt.Errorf("config: invalid models section: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.NeedsRedis() && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis or RPM_LIMIT > 0",
		)
	}

	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model must be declared in config.yaml")
	}

	seen := make(map[string]string, len(c.Models))
	for i := range c.Models {
		m := &c.Models[i]
		if m.Name == "" {
			return fmt.Errorf("config: models[%d]: name is required", i)
		}
		if m.OwnedBy == "" {
			m.OwnedBy = "nulpoint"
		}
		if prev, dup := seen[m.Name]; dup {
			return fmt.Errorf("config: model name %q declared twice (also as %s)", m.Name, prev)
		}
		seen[m.Name] = "name"
		for _, a := range m.Aliases {
			if prev, dup := seen[a]; dup {
				return fmt.Errorf("config: alias %q of model %q already taken as %s", a, m.Name, prev)
			}
			seen[a] = "alias of " + m.Name
		}
		if len(m.Clients) == 0 {
			return fmt.Errorf("config: model %q has no clients", m.Name)
		}
		for j := range m.Clients {
			cl := &m.Clients[j]
			if cl.Model == "" {
				return fmt.Errorf("config: model %q client %d: model is required", m.Name, j)
			}
			if cl.URL == "" {
				return fmt.Errorf("config: model %q client %d: url is required", m.Name, j)
			}
			switch strings.ToLower(cl.Kind) {
			case "openai", "vllm", "tei":
				cl.Kind = strings.ToLower(cl.Kind)
			case "":
				cl.Kind = "openai"
			default:
				return fmt.Errorf(
					"config: model %q client %d: invalid kind %q; must be openai, vllm, or tei",
					m.Name, j, cl.Kind,
				)
			}
			if cl.Timeout < 0 {
				return fmt.Errorf("config: model %q client %d: timeout must not be negative", m.Name, j)
			}
		}
	}

	return nil
}

// NeedsRedis reports whether the configuration requires a Redis connection.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Mode == "redis" || c.RateLimit.RPMLimit > 0
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
