package app

import (
	"context"
	"fmt"
	"log/slog"

	npCache "github.com/nulpointcorp/inference-gateway/internal/cache"
	"github.com/nulpointcorp/inference-gateway/internal/carbon"
	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
	"github.com/nulpointcorp/inference-gateway/internal/forward"
	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/internal/metricstore"
	"github.com/nulpointcorp/inference-gateway/internal/proxy"
	"github.com/nulpointcorp/inference-gateway/internal/ratelimit"
	"github.com/nulpointcorp/inference-gateway/internal/recorder"
	"github.com/nulpointcorp/inference-gateway/internal/registry"
	"github.com/nulpointcorp/inference-gateway/internal/tokenizer"
	"github.com/nulpointcorp/inference-gateway/internal/usagelog"
)

// initInfra establishes optional external connections.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.NeedsRedis() || a.cfg.Redis.URL != "" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	if a.cfg.ClickHouse.Addr != "" {
		w, err := usagelog.Open(ctx,
			a.cfg.ClickHouse.Addr,
			a.cfg.ClickHouse.Database,
			a.cfg.ClickHouse.Username,
			a.cfg.ClickHouse.Password,
			a.log,
		)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.usageLog = w
		a.log.Info("usage log enabled", slog.String("addr", a.cfg.ClickHouse.Addr))
	}

	return nil
}

// initModels builds the forwarding clients, latency recorder, and the model
// registry with its health prober.
func (a *App) initModels(ctx context.Context) error {
	// Latency / TTFT time series need Redis; degrade to no recording without it.
	if a.rdb != nil {
		rec, err := recorder.New(a.baseCtx, metricstore.NewRedisTS(a.rdb), a.log)
		if err != nil {
			return fmt.Errorf("recorder: %w", err)
		}
		a.rec = rec
	}

	tok := tokenizer.NewApprox()
	est := carbon.New()

	routers := make([]*registry.Router, 0, len(a.cfg.Models))
	for _, m := range a.cfg.Models {
		clients := make([]*forward.Client, 0, len(m.Clients))
		for _, cc := range m.Clients {
			kind, err := endpoint.ParseKind(cc.Kind)
			if err != nil {
				return fmt.Errorf("model %q: %w", m.Name, err)
			}

			client, err := forward.New(forward.Config{
				Model:   cc.Model,
				Kind:    kind,
				APIURL:  cc.URL,
				APIKey:  cc.Key,
				Timeout: cc.Timeout,
				Costs: forward.Costs{
					PromptTokens:     cc.Costs.PromptTokens,
					CompletionTokens: cc.Costs.CompletionTokens,
				},
				Carbon: forward.CarbonProfile{
					ActiveParams: cc.Carbon.ActiveParams,
					TotalParams:  cc.Carbon.TotalParams,
					Zone:         cc.Carbon.Zone,
				},
			}, tok, est, a.rec, a.log)
			if err != nil {
				return fmt.Errorf("model %q client %q: %w", m.Name, cc.Model, err)
			}

			if a.rec != nil {
				a.rec.Setup(ctx, client.Model(), client.APIURL())
			}
			clients = append(clients, client)
		}

		router, err := registry.NewRouter(m.Name, m.Aliases, m.OwnedBy, clients)
		if err != nil {
			return fmt.Errorf("model %q: %w", m.Name, err)
		}
		routers = append(routers, router)
	}

	reg, err := registry.New(routers)
	if err != nil {
		return err
	}
	a.reg = reg
	a.prober = registry.NewProber(a.baseCtx, reg, a.log)

	a.log.Info("models loaded", slog.Int("count", len(routers)))
	return nil
}

// initServices creates the cache backend and the Prometheus registry.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		a.log.Info("cache backend: redis")
	case "memory":
		a.memCache = npCache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")
	case "none":
		a.log.Info("cache backend: disabled")
	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	dropped := func() int64 { return 0 }
	if a.rec != nil {
		dropped = a.rec.Dropped
	}
	a.prom = metrics.New(dropped)

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	var cacheImpl npCache.Cache
	switch a.cfg.Cache.Mode {
	case "redis":
		cacheImpl = npCache.NewRedisCache(a.rdb)
	case "memory":
		cacheImpl = a.memCache
	case "none":
		// nil cache — gateway handles nil gracefully (no caching)
	}

	var limiter *ratelimit.Limiter
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		limiter = ratelimit.New(a.rdb, a.cfg.RateLimit.RPMLimit)
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	a.gw = proxy.NewGateway(a.reg, proxy.GatewayOptions{
		Logger:      a.log,
		Cache:       cacheImpl,
		CacheTTL:    a.cfg.Cache.TTL,
		Limiter:     limiter,
		Metrics:     a.prom,
		UsageLog:    a.usageLog,
		Ready:       a.prober.Healthy,
		CORSOrigins: a.cfg.CORSOrigins,
	})

	return nil
}
