package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors shared by the SDK and the
// platform emulator. Each instance carries its own registry so tests
// and embedded actors never fight over global registration.
type Metrics struct {
	registry *prometheus.Registry

	APIRequests        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	EventsEmitted      *prometheus.CounterVec
	RunsFinished       *prometheus.CounterVec
	RecordsWritten     prometheus.Counter
	ItemsPushed        prometheus.Counter
}

// New creates a metrics set registered on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actorkit_api_requests_total",
			Help: "Platform API requests by method, endpoint and status code",
		}, []string{"method", "endpoint", "status"}),
		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "actorkit_api_request_duration_seconds",
			Help:    "Platform API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actorkit_events_emitted_total",
			Help: "Actor events emitted by type",
		}, []string{"type"}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actorkit_runs_finished_total",
			Help: "Actor runs finished by terminal status",
		}, []string{"status"}),
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actorkit_kv_records_written_total",
			Help: "Key-value records written",
		}),
		ItemsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actorkit_dataset_items_pushed_total",
			Help: "Dataset items pushed",
		}),
	}

	registry.MustRegister(
		m.APIRequests,
		m.APIRequestDuration,
		m.EventsEmitted,
		m.RunsFinished,
		m.RecordsWritten,
		m.ItemsPushed,
	)
	return m
}

// Handler returns an HTTP handler exposing the registry in Prometheus format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
