package registry

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/carbon"
	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
	"github.com/nulpointcorp/inference-gateway/internal/forward"
	"github.com/nulpointcorp/inference-gateway/internal/tokenizer"
)

func newClient(t *testing.T, model, url string, kind endpoint.BackendKind) *forward.Client {
	t.Helper()
	c, err := forward.New(forward.Config{
		Model:   model,
		Kind:    kind,
		APIURL:  url,
		Timeout: time.Second,
		Costs:   forward.Costs{PromptTokens: 0.5, CompletionTokens: 1.5},
	}, tokenizer.NewApprox(), carbon.New(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("forward.New: %v", err)
	}
	return c
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	chat, err := NewRouter("llama-3.1-8b", []string{"llama3", "llama"}, "nulpoint", []*forward.Client{
		newClient(t, "meta-llama/Llama-3.1-8B", "http://vllm-0:8000", endpoint.KindVLLM),
		newClient(t, "meta-llama/Llama-3.1-8B", "http://vllm-1:8000", endpoint.KindVLLM),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	embed, err := NewRouter("bge-m3", nil, "nulpoint", []*forward.Client{
		newClient(t, "BAAI/bge-m3", "http://tei-0:8080", endpoint.KindTEI),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	reg, err := New([]*Router{chat, embed})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg
}

// TestResolveNameAndAliases verifies that canonical names and every alias
// resolve to the same router.
func TestResolveNameAndAliases(t *testing.T) {
	reg := newTestRegistry(t)

	byName, ok := reg.Resolve("llama-3.1-8b")
	if !ok {
		t.Fatal("canonical name did not resolve")
	}
	byAlias, ok := reg.Resolve("llama3")
	if !ok || byAlias != byName {
		t.Error("alias did not resolve to the same router")
	}
	if _, ok := reg.Resolve("gpt-oss"); ok {
		t.Error("unknown model resolved")
	}
}

// TestPickRoundRobin verifies that successive picks rotate across clients.
func TestPickRoundRobin(t *testing.T) {
	reg := newTestRegistry(t)
	r, _ := reg.Resolve("llama-3.1-8b")

	first := r.Pick()
	second := r.Pick()
	third := r.Pick()

	if first == second {
		t.Error("consecutive picks returned the same client")
	}
	if first != third {
		t.Error("rotation did not wrap around")
	}
}

// TestPickSkipsUnhealthy verifies that a failed probe removes a client from
// rotation, and that an all-unhealthy router still serves.
func TestPickSkipsUnhealthy(t *testing.T) {
	reg := newTestRegistry(t)
	r, _ := reg.Resolve("llama-3.1-8b")

	r.clients[0].healthy.Store(false)
	for i := 0; i < 4; i++ {
		if r.Pick() == r.clients[0].client {
			t.Fatal("picked an unhealthy client while a healthy one exists")
		}
	}

	r.clients[1].healthy.Store(false)
	if r.Pick() == nil {
		t.Fatal("all-unhealthy router refused to serve")
	}
}

// TestSupports verifies endpoint support is the union over clients.
func TestSupports(t *testing.T) {
	reg := newTestRegistry(t)

	chat, _ := reg.Resolve("llama-3.1-8b")
	if !chat.Supports(endpoint.ChatCompletions) {
		t.Error("vllm router should support chat completions")
	}

	embed, _ := reg.Resolve("bge-m3")
	if embed.Supports(endpoint.ChatCompletions) {
		t.Error("tei router should not support chat completions")
	}
	if !embed.Supports(endpoint.Rerank) {
		t.Error("tei router should support rerank")
	}
}

// TestListCards verifies the /v1/models listing content and order.
func TestListCards(t *testing.T) {
	reg := newTestRegistry(t)

	cards := reg.List()
	if len(cards) != 2 {
		t.Fatalf("List returned %d cards, want 2", len(cards))
	}
	if cards[0].ID != "llama-3.1-8b" || cards[1].ID != "bge-m3" {
		t.Errorf("card order = [%s, %s], want registration order", cards[0].ID, cards[1].ID)
	}
	if cards[0].Object != "model" {
		t.Errorf("Object = %q, want model", cards[0].Object)
	}
	if cards[0].Costs.PromptTokens != 0.5 || cards[0].Costs.CompletionTokens != 1.5 {
		t.Errorf("Costs = %+v, want the client schedule", cards[0].Costs)
	}
	if len(cards[0].Aliases) != 2 {
		t.Errorf("Aliases = %v, want both aliases advertised", cards[0].Aliases)
	}
}

// TestDuplicateDetection verifies that duplicate names and aliases are
// rejected at construction.
func TestDuplicateDetection(t *testing.T) {
	a, _ := NewRouter("m", nil, "", []*forward.Client{
		newClient(t, "x", "http://a:1", endpoint.KindOpenAI),
	})
	b, _ := NewRouter("m", nil, "", []*forward.Client{
		newClient(t, "y", "http://b:1", endpoint.KindOpenAI),
	})
	if _, err := New([]*Router{a, b}); err == nil {
		t.Error("duplicate model name accepted")
	}

	c, _ := NewRouter("n", []string{"shared"}, "", []*forward.Client{
		newClient(t, "x", "http://a:1", endpoint.KindOpenAI),
	})
	d, _ := NewRouter("o", []string{"shared"}, "", []*forward.Client{
		newClient(t, "y", "http://b:1", endpoint.KindOpenAI),
	})
	if _, err := New([]*Router{c, d}); err == nil {
		t.Error("duplicate alias accepted")
	}
}

// TestNewRouterValidation verifies constructor guards.
func TestNewRouterValidation(t *testing.T) {
	if _, err := NewRouter("", nil, "", []*forward.Client{
		newClient(t, "x", "http://a:1", endpoint.KindOpenAI),
	}); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := NewRouter("m", nil, "", nil); err == nil {
		t.Error("router with no clients accepted")
	}
}
