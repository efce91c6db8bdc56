// Package metrics exposes Prometheus collectors for document loads.
//
// A nil *Metrics is valid and records nothing, so callers do not need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docmapper"

// Load outcomes used as the "status" label.
const (
	StatusClean    = "clean"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
	StatusRejected = "rejected"
)

// Metrics holds the load collectors and the registry they are registered
// with.
type Metrics struct {
	registry *prometheus.Registry

	loadsTotal     *prometheus.CounterVec   // By mapping and status
	nodesRead      *prometheus.CounterVec   // By mapping
	entitiesLoaded *prometheus.CounterVec   // By mapping
	nodeErrors     *prometheus.CounterVec   // By mapping
	loadDuration   *prometheus.HistogramVec // By mapping
	activeLoads    prometheus.Gauge
	mappings       prometheus.Gauge
	reloads        *prometheus.CounterVec // By result
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "total",
			Help:      "Total number of loads by outcome",
		}, []string{"mapping", "status"}),

		nodesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "nodes_read_total",
			Help:      "Total number of source nodes visited",
		}, []string{"mapping"}),

		entitiesLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "entities_loaded_total",
			Help:      "Total number of entities created",
		}, []string{"mapping"}),

		nodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "node_errors_total",
			Help:      "Total number of source nodes skipped because of errors",
		}, []string{"mapping"}),

		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "duration_seconds",
			Help:      "Load duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"mapping"}),

		activeLoads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "active",
			Help:      "Number of loads currently running",
		}),

		mappings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mappings",
			Help:      "Number of registered mapping definitions",
		}),

		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_reloads_total",
			Help:      "Total number of mapping directory reloads by result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.loadsTotal,
		m.nodesRead,
		m.entitiesLoaded,
		m.nodeErrors,
		m.loadDuration,
		m.activeLoads,
		m.mappings,
		m.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// LoadStarted marks a load as running.
func (m *Metrics) LoadStarted() {
	if m == nil {
		return
	}
	m.activeLoads.Inc()
}

// LoadFinished records the outcome of a load started with LoadStarted.
func (m *Metrics) LoadFinished(mapping, status string, read, loaded, errors int, seconds float64) {
	if m == nil {
		return
	}
	m.activeLoads.Dec()
	m.loadsTotal.WithLabelValues(mapping, status).Inc()
	m.nodesRead.WithLabelValues(mapping).Add(float64(read))
	m.entitiesLoaded.WithLabelValues(mapping).Add(float64(loaded))
	m.nodeErrors.WithLabelValues(mapping).Add(float64(errors))
	m.loadDuration.WithLabelValues(mapping).Observe(seconds)
}

// LoadRejected records a load turned away by the limiter.
func (m *Metrics) LoadRejected(mapping string) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(mapping, StatusRejected).Inc()
}

// SetMappings records the number of registered mappings.
func (m *Metrics) SetMappings(n int) {
	if m == nil {
		return
	}
	m.mappings.Set(float64(n))
}

// MappingsReloaded records a reload attempt of the mapping directory.
func (m *Metrics) MappingsReloaded(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}
