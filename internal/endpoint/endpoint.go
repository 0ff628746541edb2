// Package endpoint defines the logical API endpoints the gateway exposes and
// the closed set of backend kinds it can forward them to.
//
// Each backend kind carries a fixed endpoint-to-path table resolved at
// configuration-load time. A missing entry means the backend does not serve
// that endpoint; requests to it must fail before any network I/O.
package endpoint

import "fmt"

// Endpoint is a logical operation kind, independent of any backend's URL layout.
type Endpoint string

const (
	ChatCompletions     Endpoint = "chat_completions"
	Completions         Endpoint = "completions"
	Embeddings          Endpoint = "embeddings"
	Models              Endpoint = "models"
	AudioTranscriptions Endpoint = "audio_transcriptions"
	OCR                 Endpoint = "ocr"
	Rerank              Endpoint = "rerank"
)

// All lists every logical endpoint, in route-registration order.
var All = []Endpoint{
	ChatCompletions,
	Completions,
	Embeddings,
	Models,
	AudioTranscriptions,
	OCR,
	Rerank,
}

// BackendKind identifies one of the supported backend API families.
// The set is closed: dispatch is a static table lookup, never reflection.
type BackendKind string

const (
	// KindOpenAI is any OpenAI-compatible serving API (OpenAI itself, most
	// commercial gateways, llama.cpp server, etc.).
	KindOpenAI BackendKind = "openai"

	// KindVLLM is a vLLM server. Same wire format as OpenAI for text
	// endpoints plus vLLM's own extensions.
	KindVLLM BackendKind = "vllm"

	// KindTEI is HuggingFace text-embeddings-inference. Serves embeddings
	// and rerank only.
	KindTEI BackendKind = "tei"
)

// ParseKind validates a configuration string against the closed kind set.
func ParseKind(s string) (BackendKind, error) {
	switch BackendKind(s) {
	case KindOpenAI, KindVLLM, KindTEI:
		return BackendKind(s), nil
	}
	return "", fmt.Errorf("endpoint: unknown backend kind %q (must be one of: openai, vllm, tei)", s)
}

// pathTables maps each backend kind to its endpoint paths. Entries absent
// from a kind's table are unsupported by that kind.
var pathTables = map[BackendKind]map[Endpoint]string{
	KindOpenAI: {
		ChatCompletions:     "/v1/chat/completions",
		Completions:         "/v1/completions",
		Embeddings:          "/v1/embeddings",
		Models:              "/v1/models",
		AudioTranscriptions: "/v1/audio/transcriptions",
	},
	KindVLLM: {
		ChatCompletions: "/v1/chat/completions",
		Completions:     "/v1/completions",
		Embeddings:      "/v1/embeddings",
		Models:          "/v1/models",
		OCR:             "/v1/ocr",
		Rerank:          "/v1/rerank",
	},
	KindTEI: {
		Embeddings: "/v1/embeddings",
		Models:     "/info",
		Rerank:     "/rerank",
	},
}

// PathFor returns the backend-specific path for ep on the given kind.
// ok is false when the kind does not serve the endpoint.
func PathFor(kind BackendKind, ep Endpoint) (path string, ok bool) {
	table, ok := pathTables[kind]
	if !ok {
		return "", false
	}
	path, ok = table[ep]
	return path, ok
}

// Paths returns a copy of the kind's full endpoint table. The copy keeps the
// table immutable after construction; clients hold their own snapshot.
func Paths(kind BackendKind) map[Endpoint]string {
	out := make(map[Endpoint]string, len(pathTables[kind]))
	for ep, p := range pathTables[kind] {
		out[ep] = p
	}
	return out
}
