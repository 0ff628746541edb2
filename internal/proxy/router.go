package proxy

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
)

// Handler builds the full fasthttp handler with all routes and middleware
// applied. Exposed separately from Start for in-memory tests.
func (g *Gateway) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.POST("/v1/chat/completions", func(ctx *fasthttp.RequestCtx) {
		g.dispatchUnary(ctx, endpoint.ChatCompletions)
	})
	r.POST("/v1/completions", func(ctx *fasthttp.RequestCtx) {
		g.dispatchUnary(ctx, endpoint.Completions)
	})
	r.POST("/v1/embeddings", func(ctx *fasthttp.RequestCtx) {
		g.dispatchUnary(ctx, endpoint.Embeddings)
	})
	r.POST("/v1/rerank", func(ctx *fasthttp.RequestCtx) {
		g.dispatchUnary(ctx, endpoint.Rerank)
	})
	r.POST("/v1/ocr", func(ctx *fasthttp.RequestCtx) {
		g.dispatchUnary(ctx, endpoint.OCR)
	})
	r.POST("/v1/audio/transcriptions", g.dispatchAudio)

	r.GET("/v1/models", g.handleModels)
	r.GET("/v1/models/{model}", g.handleModel)
	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)

	if g.metrics != nil {
		r.GET("/metrics", g.metrics.Handler())
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

// Start starts the HTTP server on addr (e.g. ":8080") and blocks.
func (g *Gateway) Start(addr string) error {
	srv := &fasthttp.Server{
		Handler:            g.Handler(),
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Minute, // streams can run long
		MaxRequestBodySize: 64 << 20,
	}
	return srv.ListenAndServe(addr)
}

func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{
		"object": "list",
		"data":   g.registry.List(),
	})
}

func (g *Gateway) handleModel(ctx *fasthttp.RequestCtx) {
	name, _ := ctx.UserValue("model").(string)
	router, ok := g.registry.Resolve(name)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		writeJSON(ctx, map[string]string{"detail": "model not found"})
		return
	}
	writeJSON(ctx, router.Card())
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{
		"status": "ok",
		"models": len(g.registry.Routers()),
	})
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.ready == nil || g.ready() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
