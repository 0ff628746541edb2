// Package registry resolves caller-facing model names to backend clients.
//
// A Router owns every client serving one logical model (several replicas or
// deployments may serve the same name) and picks one per request with a
// health-aware round robin. The Registry maps names and aliases to Routers
// and backs the /v1/models listing.
package registry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/endpoint"
	"github.com/nulpointcorp/inference-gateway/internal/forward"
)

// routedClient pairs a client with its last probed health state.
type routedClient struct {
	client  *forward.Client
	healthy atomic.Bool
}

// Router selects among the clients serving one logical model.
type Router struct {
	name    string
	aliases []string
	created int64
	ownedBy string
	clients []*routedClient
	next    atomic.Uint32
}

// NewRouter builds a Router. All clients start healthy until a probe says
// otherwise.
func NewRouter(name string, aliases []string, ownedBy string, clients []*forward.Client) (*Router, error) {
	if name == "" {
		return nil, fmt.Errorf("registry: model name must not be empty")
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("registry: model %s has no clients", name)
	}

	r := &Router{
		name:    name,
		aliases: aliases,
		created: time.Now().Unix(),
		ownedBy: ownedBy,
	}
	for _, c := range clients {
		rc := &routedClient{client: c}
		rc.healthy.Store(true)
		r.clients = append(r.clients, rc)
	}
	return r, nil
}

// Name returns the caller-facing model name.
func (r *Router) Name() string { return r.name }

// Aliases returns the alternative names resolving to this model.
func (r *Router) Aliases() []string { return r.aliases }

// Clients returns every backend client serving this model.
func (r *Router) Clients() []*forward.Client {
	out := make([]*forward.Client, len(r.clients))
	for i, rc := range r.clients {
		out[i] = rc.client
	}
	return out
}

// Pick returns the next client in round-robin order, skipping clients whose
// last health probe failed. When every client is unhealthy the rotation
// proceeds anyway — a degraded backend beats refusing outright.
func (r *Router) Pick() *forward.Client {
	n := len(r.clients)
	start := int(r.next.Add(1)-1) % n

	for i := 0; i < n; i++ {
		rc := r.clients[(start+i)%n]
		if rc.healthy.Load() {
			return rc.client
		}
	}
	return r.clients[start].client
}

// Supports reports whether at least one client serves the endpoint.
func (r *Router) Supports(ep endpoint.Endpoint) bool {
	for _, rc := range r.clients {
		if rc.client.Supports(ep) {
			return true
		}
	}
	return false
}

// ModelCard is one entry of the /v1/models listing.
type ModelCard struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Created int64     `json:"created"`
	OwnedBy string    `json:"owned_by"`
	Aliases []string  `json:"aliases,omitempty"`
	Costs   CardCosts `json:"costs"`
}

// CardCosts is the advertised price schedule, per million tokens.
type CardCosts struct {
	PromptTokens     float64 `json:"prompt_tokens"`
	CompletionTokens float64 `json:"completion_tokens"`
}

// Card builds the listing entry from the first client's schedule (all clients
// of one model are expected to share pricing).
func (r *Router) Card() ModelCard {
	costs := r.clients[0].client.Costs()
	return ModelCard{
		ID:      r.name,
		Object:  "model",
		Created: r.created,
		OwnedBy: r.ownedBy,
		Aliases: r.aliases,
		Costs: CardCosts{
			PromptTokens:     costs.PromptTokens,
			CompletionTokens: costs.CompletionTokens,
		},
	}
}

// Registry maps model names and aliases to Routers.
type Registry struct {
	routers map[string]*Router
	aliases map[string]string
	order   []string
}

// New indexes the routers. Duplicate names or aliases are configuration
// errors.
func New(routers []*Router) (*Registry, error) {
	reg := &Registry{
		routers: make(map[string]*Router, len(routers)),
		aliases: make(map[string]string),
	}

	for _, r := range routers {
		if _, dup := reg.routers[r.name]; dup {
			return nil, fmt.Errorf("registry: duplicate model %s", r.name)
		}
		reg.routers[r.name] = r
		reg.order = append(reg.order, r.name)

		for _, alias := range r.aliases {
			if _, dup := reg.aliases[alias]; dup {
				return nil, fmt.Errorf("registry: duplicate alias %s", alias)
			}
			reg.aliases[alias] = r.name
		}
	}

	return reg, nil
}

// Resolve returns the Router for a model name or alias.
func (reg *Registry) Resolve(model string) (*Router, bool) {
	if canonical, ok := reg.aliases[model]; ok {
		model = canonical
	}
	r, ok := reg.routers[model]
	return r, ok
}

// List returns the model cards in registration order.
func (reg *Registry) List() []ModelCard {
	out := make([]ModelCard, 0, len(reg.order))
	for _, name := range reg.order {
		out = append(out, reg.routers[name].Card())
	}
	return out
}

// Routers returns every registered router, in registration order.
func (reg *Registry) Routers() []*Router {
	out := make([]*Router, 0, len(reg.order))
	for _, name := range reg.order {
		out = append(out, reg.routers[name])
	}
	return out
}
