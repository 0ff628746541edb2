package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
	"github.com/nulpointcorp/inference-gateway/internal/forward"
)

// healthyUpstream answers the models-listing probe with 200.
func healthyUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProberRegistry(t *testing.T, urls ...string) *Registry {
	t.Helper()
	clients := make([]*forward.Client, 0, len(urls))
	for _, u := range urls {
		clients = append(clients, newClient(t, "meta-llama/Llama-3.1-8B", u, endpoint.KindVLLM))
	}
	router, err := NewRouter("llama-3.1-8b", nil, "nulpoint", clients)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	reg, err := New([]*Router{router})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg
}

func TestProberHealthyBackend(t *testing.T) {
	up := healthyUpstream(t)
	reg := newProberRegistry(t, up.URL)

	p := NewProber(context.Background(), reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer p.Close()

	// The first probe runs synchronously in NewProber.
	if !p.Healthy() {
		t.Fatal("expected Healthy after probing a live backend")
	}
}

func TestProberMarksDeadBackend(t *testing.T) {
	up := healthyUpstream(t)
	// Port 1 refuses connections immediately.
	reg := newProberRegistry(t, up.URL, "http://127.0.0.1:1")

	p := NewProber(context.Background(), reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer p.Close()

	if p.Healthy() {
		t.Fatal("expected not Healthy with one dead backend")
	}

	// Selection still avoids the dead client.
	router, _ := reg.Resolve("llama-3.1-8b")
	for i := 0; i < 4; i++ {
		if got := router.Pick().APIURL(); got != up.URL {
			t.Fatalf("Pick returned dead backend %s", got)
		}
	}
}
