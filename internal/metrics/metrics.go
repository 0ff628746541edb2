// Package metrics exposes the gateway's Prometheus registry.
//
// Metrics live in a private registry (not the global default) so the gateway
// can be embedded without clashing with host-level collectors. The /metrics
// handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	inFlight prometheus.Gauge

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_upstream_latency_seconds{model}
	upstreamLatency *prometheus.HistogramVec

	// gateway_time_to_first_token_seconds{model}
	timeToFirstToken *prometheus.HistogramVec

	// gateway_tokens_total{model,direction}
	tokensTotal *prometheus.CounterVec

	// gateway_cost_total{model}
	costTotal *prometheus.CounterVec

	// gateway_energy_kwh_total{model,bound}
	energyTotal *prometheus.CounterVec

	// gateway_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// gateway_metric_samples_dropped_total
	samplesDropped prometheus.CounterFunc

	handler fasthttp.RequestHandler
}

// New builds the registry. droppedSamples reports the recorder's running drop
// count; pass nil when no recorder is configured.
func New(droppedSamples func() int64) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight requests",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "End-to-end HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"route"},
		),

		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_latency_seconds",
				Help:    "Upstream request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),

		timeToFirstToken: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_time_to_first_token_seconds",
				Help:    "Delay until the first generated content fragment of a stream",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"model"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Tokens processed, by model and direction (prompt|completion)",
			},
			[]string{"model", "direction"},
		),

		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cost_total",
				Help: "Accumulated request cost, by model",
			},
			[]string{"model"},
		),

		energyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_energy_kwh_total",
				Help: "Estimated energy consumption in kWh, by model and bound (min|max)",
			},
			[]string{"model", "bound"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_operations_total",
				Help: "Cache operations by op (get|set) and result (hit|miss|ok|error|bypass)",
			},
			[]string{"op", "result"},
		),
	}

	if droppedSamples != nil {
		r.samplesDropped = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "gateway_metric_samples_dropped_total",
			Help: "Timing samples discarded because the recorder queue was full",
		}, func() float64 { return float64(droppedSamples()) })
		reg.MustRegister(r.samplesDropped)
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.upstreamLatency,
		r.timeToFirstToken,
		r.tokensTotal,
		r.costTotal,
		r.energyTotal,
		r.cacheOps,
	)

	r.handler = fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)

	return r
}

// Handler serves the /metrics route.
func (r *Registry) Handler() fasthttp.RequestHandler { return r.handler }

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

func (r *Registry) ObserveHTTP(route string, status int, dur time.Duration) {
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

func (r *Registry) ObserveUpstreamLatency(model string, dur time.Duration) {
	r.upstreamLatency.WithLabelValues(model).Observe(dur.Seconds())
}

func (r *Registry) ObserveTimeToFirstToken(model string, dur time.Duration) {
	r.timeToFirstToken.WithLabelValues(model).Observe(dur.Seconds())
}

func (r *Registry) AddUsage(model string, promptTokens, completionTokens int, cost float64) {
	r.tokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	r.tokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	r.costTotal.WithLabelValues(model).Add(cost)
}

// AddEnergy accumulates the kWh estimate bounds. Nil bounds are skipped.
func (r *Registry) AddEnergy(model string, kwhMin, kwhMax *float64) {
	if kwhMin != nil {
		r.energyTotal.WithLabelValues(model, "min").Add(*kwhMin)
	}
	if kwhMax != nil {
		r.energyTotal.WithLabelValues(model, "max").Add(*kwhMax)
	}
}

func (r *Registry) CacheGet(result string) { r.cacheOps.WithLabelValues("get", result).Inc() }
func (r *Registry) CacheSet(result string) { r.cacheOps.WithLabelValues("set", result).Inc() }
