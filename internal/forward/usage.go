package forward

import (
	"log/slog"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
	"github.com/nulpointcorp/inference-gateway/internal/usage"
)

// computeUsage folds the current exchange into the call's usage accumulator
// and returns it, or nil when the endpoint is not usage-bearing.
//
// data is the decoded response: map[string]any for unary calls, the
// reconstructed []map[string]any event sequence for streams. latency is in
// seconds.
//
// Usage computation must never abort the response path: any panic here is
// recovered, logged, and treated as "no usage computed".
func (c *Client) computeUsage(call *CallContext, ep endpoint.Endpoint, body map[string]any, data any, stream bool, latency float64) (u *usage.Usage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("failed to compute usage values",
				slog.String("endpoint", string(ep)),
				slog.Any("panic", r),
			)
			u = nil
		}
	}()

	withCompletion, bearing := c.tok.UsageEndpoints()[ep]
	if !bearing {
		return nil
	}

	acc := call.accumulator()

	detail := &usage.Detail{
		ID:    responseID(data, stream),
		Model: c.model,
		Usage: usage.New(),
	}

	detail.Usage.PromptTokens = c.tok.PromptTokens(ep, body)
	if withCompletion {
		detail.Usage.CompletionTokens = c.tok.CompletionTokens(ep, data, stream)
	}
	detail.Usage.TotalTokens = detail.Usage.PromptTokens + detail.Usage.CompletionTokens

	detail.Usage.Carbon = c.est.Estimate(
		c.carbon.ActiveParams,
		c.carbon.TotalParams,
		c.carbon.Zone,
		detail.Usage.TotalTokens,
		latency,
	)
	detail.Usage.Cost = usage.CostFor(
		detail.Usage.PromptTokens,
		detail.Usage.CompletionTokens,
		c.costs.PromptTokens,
		c.costs.CompletionTokens,
	)

	acc.Add(detail)
	return acc
}

// responseID picks the response's own id when it has one, otherwise
// synthesizes a fresh one.
func responseID(data any, stream bool) string {
	if stream {
		chunks, _ := data.([]map[string]any)
		if len(chunks) > 0 {
			if id, ok := chunks[0]["id"].(string); ok && id != "" {
				return id
			}
		}
		return NewRequestID()
	}

	body, _ := data.(map[string]any)
	if body != nil {
		if id, ok := body["id"].(string); ok && id != "" {
			return id
		}
	}
	return NewRequestID()
}

// additionalData builds the fields the engine injects into every formatted
// response: the model name, a response id, and — for usage-bearing
// endpoints — the accumulated usage.
func (c *Client) additionalData(call *CallContext, ep endpoint.Endpoint, body map[string]any, data any, stream bool, latency float64) map[string]any {
	u := c.computeUsage(call, ep, body, data, stream, latency)

	requestID := NewRequestID()
	if u != nil && len(u.Details) > 0 {
		requestID = u.Details[len(u.Details)-1].ID
	}

	out := map[string]any{
		"model": c.model,
		"id":    requestID,
	}
	if u != nil {
		out["usage"] = u
	}
	return out
}
