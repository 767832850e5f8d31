package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records ingestion pipeline and read path activity.
type Metrics interface {
	ObserveUpload(outcome string, durationSeconds float64)
	IncDelete(outcome string)
	IncResolve(outcome string)
	IncMirrorFailure(op string)
	AddPruned(n int)
	AddRecovered(kind string, n int)
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveUpload(string, float64)                   {}
func (Noop) IncDelete(string)                                {}
func (Noop) IncResolve(string)                               {}
func (Noop) IncMirrorFailure(string)                         {}
func (Noop) AddPruned(int)                                   {}
func (Noop) AddRecovered(string, int)                        {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics backed by a private Prometheus registry.
type Prom struct {
	registry *prometheus.Registry

	uploads        *prometheus.CounterVec
	uploadLatency  *prometheus.HistogramVec
	deletes        *prometheus.CounterVec
	resolves       *prometheus.CounterVec
	mirrorFailures *prometheus.CounterVec
	pruned         prometheus.Counter
	recovered      *prometheus.CounterVec
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// NewProm registers every collector under namespace on a fresh registry,
// together with the Go runtime and process collectors.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by outcome",
		}, []string{"outcome"}),
		uploadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Upload duration by outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Project deletions by outcome",
		}, []string{"outcome"}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Slug resolutions by outcome",
		}, []string{"outcome"}),
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_failures_total",
			Help:      "Archive mirror failures by operation",
		}, []string{"op"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_pruned_total",
			Help:      "Retained versions removed by pruning",
		}),
		recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_total",
			Help:      "Items repaired by recovery, by kind",
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	p.registry.MustRegister(
		p.uploads, p.uploadLatency, p.deletes, p.resolves, p.mirrorFailures,
		p.pruned, p.recovered, p.requests, p.requestLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prom) ObserveUpload(outcome string, durationSeconds float64) {
	p.uploads.WithLabelValues(outcome).Inc()
	p.uploadLatency.WithLabelValues(outcome).Observe(durationSeconds)
}

func (p *Prom) IncDelete(outcome string) {
	p.deletes.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncResolve(outcome string) {
	p.resolves.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncMirrorFailure(op string) {
	p.mirrorFailures.WithLabelValues(op).Inc()
}

func (p *Prom) AddPruned(n int) {
	if n > 0 {
		p.pruned.Add(float64(n))
	}
}

func (p *Prom) AddRecovered(kind string, n int) {
	if n > 0 {
		p.recovered.WithLabelValues(kind).Add(float64(n))
	}
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.requestLatency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Registry exposes the underlying registry.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
