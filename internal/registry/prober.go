package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	probeInterval = 30 * time.Second
	probeTimeout  = 5 * time.Second
)

// Prober runs background health probes against every registered client and
// feeds the result back into the routers' round-robin selection.
type Prober struct {
	reg     *Registry
	baseCtx context.Context
	log     *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewProber starts the probe loop. The first probe runs synchronously so
// selection never begins from stale defaults.
func NewProber(ctx context.Context, reg *Registry, log *slog.Logger) *Prober {
	if log == nil {
		log = slog.Default()
	}

	p := &Prober{
		reg:     reg,
		baseCtx: ctx,
		log:     log,
		done:    make(chan struct{}),
	}

	p.probe()

	p.wg.Add(1)
	go p.run()

	return p
}

// Close stops the probe loop.
func (p *Prober) Close() {
	close(p.done)
	p.wg.Wait()
}

func (p *Prober) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probe()
		case <-p.done:
			return
		}
	}
}

func (p *Prober) probe() {
	ctx, cancel := context.WithTimeout(p.baseCtx, probeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range p.reg.Routers() {
		for _, rc := range r.clients {
			wg.Add(1)
			go func(model string, rc *routedClient) {
				defer wg.Done()

				err := rc.client.HealthCheck(ctx)
				wasHealthy := rc.healthy.Swap(err == nil)
				if err != nil && wasHealthy {
					p.log.Warn("backend became unhealthy",
						slog.String("model", model),
						slog.String("url", rc.client.APIURL()),
						slog.String("error", err.Error()),
					)
				} else if err == nil && !wasHealthy {
					p.log.Info("backend recovered",
						slog.String("model", model),
						slog.String("url", rc.client.APIURL()),
					)
				}
			}(r.name, rc)
		}
	}
	wg.Wait()
}

// Healthy reports whether every client of every model passed its last probe.
// Used by the readiness route.
func (p *Prober) Healthy() bool {
	for _, r := range p.reg.Routers() {
		for _, rc := range r.clients {
			if !rc.healthy.Load() {
				return false
			}
		}
	}
	return true
}
