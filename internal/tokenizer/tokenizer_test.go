package tokenizer

import (
	"testing"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
)

// TestPromptTokensChat verifies the chars/4 heuristic over chat messages,
// including multimodal text parts.
func TestPromptTokensChat(t *testing.T) {
	tok := NewApprox()

	body := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "12345678"}, // 8 chars
			map[string]any{"role": "user", "content": []any{
				map[string]any{"type": "text", "text": "abcd"},                  // 4 chars
				map[string]any{"type": "image_url", "image_url": "data:..."},    // ignored
			}},
		},
	}

	if got := tok.PromptTokens(endpoint.ChatCompletions, body); got != 3 {
		t.Errorf("PromptTokens = %d, want 3 (12 chars / 4)", got)
	}
}

// TestPromptTokensShortContent verifies that any non-empty content counts as
// at least one token.
func TestPromptTokensShortContent(t *testing.T) {
	tok := NewApprox()

	body := map[string]any{"prompt": "ab"}
	if got := tok.PromptTokens(endpoint.Completions, body); got != 1 {
		t.Errorf("PromptTokens = %d, want 1", got)
	}

	if got := tok.PromptTokens(endpoint.Completions, map[string]any{"prompt": ""}); got != 0 {
		t.Errorf("PromptTokens on empty prompt = %d, want 0", got)
	}
}

// TestPromptTokensEmbeddingsBatch verifies batched embedding input counting.
func TestPromptTokensEmbeddingsBatch(t *testing.T) {
	tok := NewApprox()

	body := map[string]any{"input": []any{"12345678", "1234"}}
	if got := tok.PromptTokens(endpoint.Embeddings, body); got != 3 {
		t.Errorf("PromptTokens = %d, want 3", got)
	}
}

// TestCompletionTokensUnary verifies counting over unary response choices.
func TestCompletionTokensUnary(t *testing.T) {
	tok := NewApprox()

	resp := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": "12345678"}},
			map[string]any{"message": map[string]any{"content": "1234"}},
		},
	}
	if got := tok.CompletionTokens(endpoint.ChatCompletions, resp, false); got != 3 {
		t.Errorf("CompletionTokens = %d, want 3", got)
	}
}

// TestCompletionTokensStream verifies counting over a reconstructed stream
// event sequence; chunks without deltas contribute nothing.
func TestCompletionTokensStream(t *testing.T) {
	tok := NewApprox()

	chunks := []map[string]any{
		{"choices": []any{map[string]any{"delta": map[string]any{"content": "1234"}}}},
		{"choices": []any{map[string]any{"delta": map[string]any{"content": "5678"}}}},
		{"choices": []any{map[string]any{"delta": map[string]any{}, "finish_reason": "stop"}}},
	}
	if got := tok.CompletionTokens(endpoint.ChatCompletions, chunks, true); got != 2 {
		t.Errorf("CompletionTokens = %d, want 2", got)
	}
}

// TestUsageEndpointsTable verifies which endpoints bear usage and whether
// completion tokens apply.
func TestUsageEndpointsTable(t *testing.T) {
	table := NewApprox().UsageEndpoints()

	withCompletion, bearing := table[endpoint.ChatCompletions]
	if !bearing || !withCompletion {
		t.Error("chat completions should bear usage with completion tokens")
	}

	withCompletion, bearing = table[endpoint.Embeddings]
	if !bearing || withCompletion {
		t.Error("embeddings should bear usage without completion tokens")
	}

	if _, bearing := table[endpoint.Models]; bearing {
		t.Error("models listing must not bear usage")
	}
	if _, bearing := table[endpoint.OCR]; bearing {
		t.Error("ocr must not bear usage")
	}
}
