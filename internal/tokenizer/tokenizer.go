// Package tokenizer counts prompt and completion tokens for usage accounting.
//
// The default implementation is an approximation (~4 characters per token).
// Exact backend tokenizers are out of reach from the gateway — backends run
// heterogeneous vocabularies — and usage accounting only needs stable,
// comparable numbers, not reproductions of each backend's count.
package tokenizer

import "github.com/nulpointcorp/inference-gateway/internal/endpoint"

// Tokenizer computes token counts for a request/response pair.
type Tokenizer interface {
	// PromptTokens counts the tokens of the outbound request body for the
	// given endpoint.
	PromptTokens(ep endpoint.Endpoint, body map[string]any) int

	// CompletionTokens counts the generated tokens of a decoded response.
	// For streams, response is the full reconstructed event sequence
	// ([]map[string]any); otherwise it is the decoded body (map[string]any).
	CompletionTokens(ep endpoint.Endpoint, response any, stream bool) int

	// UsageEndpoints maps each usage-bearing endpoint to whether it also
	// carries completion tokens. Endpoints absent from the map produce no
	// usage at all.
	UsageEndpoints() map[endpoint.Endpoint]bool
}

// usageEndpoints is the static usage table for the default tokenizer:
// presence = the endpoint is usage-bearing, value = completion tokens count.
var usageEndpoints = map[endpoint.Endpoint]bool{
	endpoint.ChatCompletions:     true,
	endpoint.Completions:         true,
	endpoint.AudioTranscriptions: true,
	endpoint.Embeddings:          false,
	endpoint.Rerank:              false,
}

// charsPerToken is the GPT-style length heuristic.
const charsPerToken = 4

// Approx is the default approximate tokenizer.
type Approx struct{}

// NewApprox returns the length-heuristic tokenizer.
func NewApprox() *Approx { return &Approx{} }

func (a *Approx) UsageEndpoints() map[endpoint.Endpoint]bool { return usageEndpoints }

func (a *Approx) PromptTokens(ep endpoint.Endpoint, body map[string]any) int {
	if body == nil {
		return 0
	}

	var chars int
	switch ep {
	case endpoint.ChatCompletions:
		msgs, _ := body["messages"].([]any)
		for _, m := range msgs {
			msg, _ := m.(map[string]any)
			chars += contentLength(msg["content"])
		}
	case endpoint.Completions:
		chars = contentLength(body["prompt"])
	case endpoint.Embeddings:
		chars = contentLength(body["input"])
	case endpoint.Rerank:
		chars = contentLength(body["query"])
		docs, _ := body["documents"].([]any)
		for _, d := range docs {
			chars += contentLength(d)
		}
	default:
		return 0
	}

	return countTokens(chars)
}

func (a *Approx) CompletionTokens(ep endpoint.Endpoint, response any, stream bool) int {
	if stream {
		chunks, _ := response.([]map[string]any)
		var chars int
		for _, c := range chunks {
			chars += deltaContentLength(c)
		}
		return countTokens(chars)
	}

	body, _ := response.(map[string]any)
	if body == nil {
		return 0
	}

	var chars int
	switch ep {
	case endpoint.ChatCompletions:
		for _, c := range choices(body) {
			msg, _ := c["message"].(map[string]any)
			if msg != nil {
				chars += contentLength(msg["content"])
			}
		}
	case endpoint.Completions:
		for _, c := range choices(body) {
			chars += contentLength(c["text"])
		}
	case endpoint.AudioTranscriptions:
		chars = contentLength(body["text"])
	default:
		return 0
	}

	return countTokens(chars)
}

func countTokens(chars int) int {
	if chars == 0 {
		return 0
	}
	n := chars / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// contentLength measures a JSON value that may be a string, a list of strings
// (batched embedding input), or a multimodal content list with text parts.
func contentLength(v any) int {
	switch c := v.(type) {
	case string:
		return len(c)
	case []any:
		var n int
		for _, item := range c {
			switch part := item.(type) {
			case string:
				n += len(part)
			case map[string]any:
				if text, ok := part["text"].(string); ok {
					n += len(text)
				}
			}
		}
		return n
	}
	return 0
}

func choices(body map[string]any) []map[string]any {
	raw, _ := body["choices"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, c := range raw {
		if m, ok := c.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// deltaContentLength extracts the delta content length from one stream chunk.
func deltaContentLength(chunk map[string]any) int {
	raw, _ := chunk["choices"].([]any)
	var n int
	for _, c := range raw {
		m, _ := c.(map[string]any)
		if m == nil {
			continue
		}
		delta, _ := m["delta"].(map[string]any)
		if delta == nil {
			continue
		}
		n += contentLength(delta["content"])
	}
	return n
}
