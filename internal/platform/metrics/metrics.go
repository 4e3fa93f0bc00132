// Package metrics owns the Prometheus registry of the server. A nil
// *Registry is valid and records nothing, which keeps metrics optional for
// tests and for deployments with METRICS_ENABLED=false.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	scoreComputed   *prometheus.CounterVec
	recordsSaved    *prometheus.CounterVec
	autosaveFlushes *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	archivedDocs    prometheus.Counter
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status"},
		),
		scoreComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preop_score_computations_total",
				Help: "Score computations requested through the API",
			},
			[]string{"calculator"},
		),
		recordsSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preop_records_saved_total",
				Help: "Records written to the database",
			},
			[]string{"kind", "operation"},
		),
		autosaveFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preop_autosave_flushes_total",
				Help: "Debounced autosave flushes",
			},
			[]string{"result"}, // "success", "failure"
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preop_events_published_total",
				Help: "Domain events handed to the message broker",
			},
			[]string{"type", "result"},
		),
		archivedDocs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "preop_archived_documents_total",
				Help: "Printed documents stored in the archive",
			},
		),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequests,
		r.httpDuration,
		r.scoreComputed,
		r.recordsSaved,
		r.autosaveFlushes,
		r.eventsPublished,
		r.archivedDocs,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) ObserveHTTP(method, endpoint string, status int, d time.Duration) {
	if r == nil {
		return
	}
	s := strconv.Itoa(status)
	r.httpRequests.WithLabelValues(method, endpoint, s).Inc()
	r.httpDuration.WithLabelValues(method, endpoint, s).Observe(d.Seconds())
}

func (r *Registry) ScoreComputed(calculator string) {
	if r == nil {
		return
	}
	r.scoreComputed.WithLabelValues(calculator).Inc()
}

func (r *Registry) RecordSaved(kind, operation string) {
	if r == nil {
		return
	}
	r.recordsSaved.WithLabelValues(kind, operation).Inc()
}

func (r *Registry) AutosaveFlushed(ok bool) {
	if r == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	r.autosaveFlushes.WithLabelValues(result).Inc()
}

func (r *Registry) EventPublished(eventType string, ok bool) {
	if r == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	r.eventsPublished.WithLabelValues(eventType, result).Inc()
}

func (r *Registry) DocumentArchived() {
	if r == nil {
		return
	}
	r.archivedDocs.Inc()
}
