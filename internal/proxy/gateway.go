// Package proxy is the HTTP surface of the gateway.
//
// The Gateway receives an incoming OpenAI-compatible request, resolves the
// target model router, checks the cache and the per-model rate limit, and
// delegates to a forwarding client — relaying unary responses and SSE streams
// back to the caller.
//
// Key design constraints:
//   - No blocking I/O on the hot path: accounting and time-series metric
//     writes are queued, never awaited.
//   - Cache, rate limiter, metrics and usage log are optional and nil-safe.
//   - Streaming responses are pass-through; they are never cached.
package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/inference-gateway/internal/cache"
	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
	"github.com/nulpointcorp/inference-gateway/internal/forward"
	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/internal/ratelimit"
	"github.com/nulpointcorp/inference-gateway/internal/registry"
	"github.com/nulpointcorp/inference-gateway/internal/usagelog"
	"github.com/nulpointcorp/inference-gateway/pkg/apierr"
)

const (
	xCacheHIT  = "HIT"
	xCacheMISS = "MISS"
)

// GatewayOptions holds optional dependencies for a Gateway. All fields are
// nil-safe and can be omitted.
type GatewayOptions struct {
	// Logger is the structured logger used for request events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger

	// Cache stores unary JSON responses. Streaming and multipart requests
	// always bypass it.
	Cache cache.Cache

	// CacheTTL controls the TTL for cached responses. Default: 1h.
	CacheTTL time.Duration

	// Limiter enforces the per-model requests-per-minute limit.
	Limiter *ratelimit.Limiter

	// Metrics enables Prometheus metrics collection.
	Metrics *metrics.Registry

	// UsageLog receives one accounting record per completed request.
	UsageLog *usagelog.Writer

	// Ready reports backend readiness for GET /readiness (typically the
	// registry prober's Healthy method).
	Ready func() bool

	// CORSOrigins is the allowed CORS origin list. Empty means allow all.
	CORSOrigins []string
}

// Gateway is the request dispatcher. All dependencies are injected via the
// constructor so they can be replaced with doubles in unit tests.
type Gateway struct {
	registry *registry.Registry
	cache    cache.Cache
	limiter  *ratelimit.Limiter
	metrics  *metrics.Registry
	usageLog *usagelog.Writer
	ready    func() bool
	log      *slog.Logger

	cacheTTL    time.Duration
	corsOrigins []string
}

// NewGateway creates a Gateway over the given model registry.
func NewGateway(reg *registry.Registry, opts GatewayOptions) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Gateway{
		registry:    reg,
		cache:       opts.Cache,
		limiter:     opts.Limiter,
		metrics:     opts.Metrics,
		usageLog:    opts.UsageLog,
		ready:       opts.Ready,
		log:         log,
		cacheTTL:    cacheTTL,
		corsOrigins: opts.CORSOrigins,
	}
}

// resolve parses the model name out of the request body and looks up its
// router. Errors are written to ctx; the caller returns on nil.
func (g *Gateway) resolve(ctx *fasthttp.RequestCtx, model string) *registry.Router {
	if model == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"field 'model' is required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return nil
	}
	router, ok := g.registry.Resolve(model)
	if !ok {
		apierr.Write(ctx, fasthttp.StatusNotFound,
			fmt.Sprintf("model %q not found", model),
			apierr.TypeInvalidRequest, apierr.CodeModelNotFound)
		return nil
	}
	return router
}

// allow applies the per-model rate limit. Returns false after writing the 429.
func (g *Gateway) allow(ctx *fasthttp.RequestCtx, model string) bool {
	if g.limiter == nil {
		return true
	}
	ok, err := g.limiter.Allow(ctx, model)
	if err != nil || ok {
		return true
	}
	reqID, _ := ctx.UserValue("request_id").(string)
	g.log.Warn("rate_limit_exceeded",
		slog.String("request_id", reqID),
		slog.String("model", model),
	)
	apierr.WriteRateLimit(ctx)
	return false
}

// dispatchUnary handles every JSON-body POST endpoint that returns a single
// response: completions, embeddings, rerank, OCR, and non-streaming chat.
func (g *Gateway) dispatchUnary(ctx *fasthttp.RequestCtx, ep endpoint.Endpoint) {
	start := time.Now()
	route := string(ep)
	servedModel := "unknown"
	streaming := false

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil {
			return
		}
		g.metrics.DecInFlight()
		if streaming {
			return // finalised by the stream writer
		}
		g.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var body map[string]any
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	model, _ := body["model"].(string)
	router := g.resolve(ctx, model)
	if router == nil {
		return
	}
	servedModel = router.Name()

	if stream, _ := body["stream"].(bool); stream {
		streaming = true
		g.dispatchStream(ctx, ep, router, body, start)
		return
	}

	g.log.Info("request",
		slog.String("request_id", reqID),
		slog.String("endpoint", route),
		slog.String("model", servedModel),
	)

	if !g.allow(ctx, servedModel) {
		return
	}

	// Cache lookup. The key covers the verbatim body, so two logically equal
	// requests with different field order miss — acceptable for a hot-path
	// cache.
	cacheKey := ""
	if g.cache != nil {
		cacheKey = cache.Key(ep, servedModel, ctx.PostBody())
		if cached, ok := g.cache.Get(ctx, cacheKey); ok {
			if g.metrics != nil {
				g.metrics.CacheGet("hit")
			}
			g.log.Debug("cache_hit",
				slog.String("request_id", reqID),
				slog.String("model", servedModel),
			)
			ctx.Response.Header.Set("X-Cache", xCacheHIT)
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetContentType("application/json")
			ctx.SetBody(cached)
			return
		}
		if g.metrics != nil {
			g.metrics.CacheGet("miss")
		}
	}

	client := router.Pick()
	call := forward.NewCallContext()
	extra := map[string]any{"model": servedModel}

	resp, err := client.ForwardRequest(ctx, call, fasthttp.MethodPost, ep, body, nil, nil, extra)
	if err != nil {
		g.log.Error("forward_error",
			slog.String("request_id", reqID),
			slog.String("model", servedModel),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		apierr.WriteForwardError(ctx, err)
		g.logUsage(call, servedModel, ep, ctx.Response.StatusCode(), false, time.Since(start))
		return
	}

	if g.cache != nil && resp.StatusCode == fasthttp.StatusOK {
		if err := g.cache.Set(ctx, cacheKey, resp.Body, g.cacheTTL); err != nil {
			if g.metrics != nil {
				g.metrics.CacheSet("error")
			}
		} else if g.metrics != nil {
			g.metrics.CacheSet("ok")
		}
	}

	g.observeUsage(call, servedModel, time.Since(start))
	g.logUsage(call, servedModel, ep, resp.StatusCode, false, time.Since(start))

	g.log.Debug("response_ok",
		slog.String("request_id", reqID),
		slog.String("model", servedModel),
		slog.Int("prompt_tokens", call.Usage.PromptTokens),
		slog.Int("completion_tokens", call.Usage.CompletionTokens),
		slog.Duration("elapsed", time.Since(start)),
	)

	ctx.Response.Header.Set("X-Cache", xCacheMISS)
	ctx.SetStatusCode(resp.StatusCode)
	ctx.SetContentType(resp.ContentType)
	ctx.SetBody(resp.Body)
}

// dispatchAudio handles POST /v1/audio/transcriptions (multipart form).
func (g *Gateway) dispatchAudio(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	ep := endpoint.AudioTranscriptions
	route := string(ep)

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil {
			return
		}
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	mf, err := ctx.MultipartForm()
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid multipart form: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	form := make(map[string]string, len(mf.Value))
	for k, vs := range mf.Value {
		if len(vs) > 0 {
			form[k] = vs[0]
		}
	}

	router := g.resolve(ctx, form["model"])
	if router == nil {
		return
	}
	servedModel := router.Name()

	if !g.allow(ctx, servedModel) {
		return
	}

	var files []forward.File
	for field, headers := range mf.File {
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				apierr.Write(ctx, fasthttp.StatusBadRequest,
					fmt.Sprintf("unreadable upload %q", h.Filename),
					apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
				return
			}
			content := make([]byte, h.Size)
			if _, err := f.Read(content); err != nil && h.Size > 0 {
				f.Close()
				apierr.Write(ctx, fasthttp.StatusBadRequest,
					fmt.Sprintf("unreadable upload %q", h.Filename),
					apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
				return
			}
			f.Close()
			files = append(files, forward.File{Field: field, Name: h.Filename, Content: content})
		}
	}

	g.log.Info("request",
		slog.String("request_id", reqID),
		slog.String("endpoint", route),
		slog.String("model", servedModel),
		slog.Int("files", len(files)),
	)

	client := router.Pick()
	call := forward.NewCallContext()
	// The upstream expects its internal model name in the form data.
	form["model"] = client.Model()
	extra := map[string]any{"model": servedModel}

	resp, err := client.ForwardRequest(ctx, call, fasthttp.MethodPost, ep, nil, files, form, extra)
	if err != nil {
		g.log.Error("forward_error",
			slog.String("request_id", reqID),
			slog.String("model", servedModel),
			slog.String("error", err.Error()),
		)
		apierr.WriteForwardError(ctx, err)
		return
	}

	g.observeUsage(call, servedModel, time.Since(start))
	g.logUsage(call, servedModel, ep, resp.StatusCode, false, time.Since(start))

	ctx.SetStatusCode(resp.StatusCode)
	ctx.SetContentType(resp.ContentType)
	ctx.SetBody(resp.Body)
}

// observeUsage pushes the accumulated token and cost figures to Prometheus.
func (g *Gateway) observeUsage(call *forward.CallContext, model string, dur time.Duration) {
	if g.metrics == nil || call.Usage == nil {
		return
	}
	u := call.Usage
	g.metrics.ObserveUpstreamLatency(model, dur)
	g.metrics.AddUsage(model, u.PromptTokens, u.CompletionTokens, u.Cost)
	g.metrics.AddEnergy(model, u.Carbon.KWh.Min, u.Carbon.KWh.Max)
}

// logUsage enqueues one accounting record. Never blocks.
func (g *Gateway) logUsage(
	call *forward.CallContext,
	model string,
	ep endpoint.Endpoint,
	status int,
	stream bool,
	latency time.Duration,
) {
	if g.usageLog == nil || call.Usage == nil {
		return
	}
	u := call.Usage
	g.usageLog.Log(usagelog.Record{
		ID:               call.ID,
		Model:            model,
		Endpoint:         string(ep),
		PromptTokens:     uint32(u.PromptTokens),
		CompletionTokens: uint32(u.CompletionTokens),
		TotalTokens:      uint32(u.TotalTokens),
		Cost:             u.Cost,
		KgCO2eqMin:       u.Carbon.KgCO2eq.Min,
		KgCO2eqMax:       u.Carbon.KgCO2eq.Max,
		KWhMin:           u.Carbon.KWh.Min,
		KWhMax:           u.Carbon.KWh.Max,
		LatencyMs:        uint32(latency.Milliseconds()),
		Status:           uint16(status),
		Stream:           stream,
		CreatedAt:        time.Now().UTC(),
	})
}
