package proxy

import (
	"bufio"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
	"github.com/nulpointcorp/inference-gateway/internal/forward"
	"github.com/nulpointcorp/inference-gateway/internal/registry"
	"github.com/nulpointcorp/inference-gateway/pkg/apierr"
)

// dispatchStream relays an SSE stream from the upstream to the caller.
//
// The first part is awaited before committing the response: its status code
// decides between a 200 event stream and an error passthrough, since fasthttp
// headers cannot change once the body writer starts.
func (g *Gateway) dispatchStream(
	ctx *fasthttp.RequestCtx,
	ep endpoint.Endpoint,
	router *registry.Router,
	body map[string]any,
	start time.Time,
) {
	reqID, _ := ctx.UserValue("request_id").(string)
	servedModel := router.Name()

	g.log.Info("request",
		slog.String("request_id", reqID),
		slog.String("endpoint", string(ep)),
		slog.String("model", servedModel),
		slog.Bool("stream", true),
	)

	if !g.allow(ctx, servedModel) {
		return
	}

	client := router.Pick()
	call := forward.NewCallContext()
	extra := map[string]any{"model": servedModel}

	parts, err := client.ForwardStream(ctx, call, fasthttp.MethodPost, ep, body, nil, nil, extra)
	if err != nil {
		apierr.WriteForwardError(ctx, err)
		return
	}

	first, ok := <-parts
	if !ok {
		// Caller went away before the upstream produced anything.
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}

	if first.Status/100 != 2 {
		// Upstream error or transport failure: relay as a plain JSON body
		// with the upstream's status.
		ctx.SetStatusCode(first.Status)
		ctx.SetContentType("application/json")
		ctx.Write(first.Data) //nolint:errcheck
		for part := range parts {
			ctx.Write(part.Data) //nolint:errcheck
		}
		g.logUsage(call, servedModel, ep, first.Status, true, time.Since(start))
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // client disconnects surface as write panics

		w.Write(first.Data) //nolint:errcheck
		w.Flush()           //nolint:errcheck

		for part := range parts {
			w.Write(part.Data) //nolint:errcheck
			w.Flush()          //nolint:errcheck
		}

		dur := time.Since(start)
		g.observeUsage(call, servedModel, dur)
		g.logUsage(call, servedModel, ep, fasthttp.StatusOK, true, dur)
		if g.metrics != nil {
			g.metrics.ObserveHTTP(string(ep)+"_stream", fasthttp.StatusOK, dur)
			if call.FirstTokenDelay > 0 {
				g.metrics.ObserveTimeToFirstToken(servedModel, call.FirstTokenDelay)
			}
		}

		g.log.Debug("stream_done",
			slog.String("request_id", reqID),
			slog.String("model", servedModel),
			slog.Int("completion_tokens", call.Usage.CompletionTokens),
			slog.Duration("elapsed", dur),
		)
	})
}
