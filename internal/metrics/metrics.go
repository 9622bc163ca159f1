// Package metrics exposes Prometheus collectors for deployments and the
// webhook HTTP surface.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redeploy"

var histogramBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	deployments        *prometheus.CounterVec
	deploymentDuration *prometheus.HistogramVec
	inProgress         prometheus.Gauge
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Deployments by terminal state and error kind",
		}, []string{"state", "kind"}),
		deploymentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deployment_duration_seconds",
			Help:      "Time from notification to terminal state",
			Buckets:   histogramBuckets,
		}, []string{"state"}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployments_in_progress",
			Help:      "Deployments currently holding the deployment lock",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.register(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deployments,
		m.deploymentDuration,
		m.inProgress,
		m.requestTotal,
		m.requestDuration,
	)

	return m
}

func (m *Metrics) register(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			panic(err)
		}
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// DeploymentStarted marks a deployment as holding the lock
func (m *Metrics) DeploymentStarted() {
	if m == nil {
		return
	}
	m.inProgress.Inc()
}

// DeploymentFinished records a terminal state. kind is empty on success.
func (m *Metrics) DeploymentFinished(state, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inProgress.Dec()
	m.deployments.With(prometheus.Labels{"state": state, "kind": kind}).Inc()
	m.deploymentDuration.With(prometheus.Labels{"state": state}).Observe(duration.Seconds())
}

// DeploymentRejected records a deployment that ended before taking the lock
func (m *Metrics) DeploymentRejected(state, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deployments.With(prometheus.Labels{"state": state, "kind": kind}).Inc()
	m.deploymentDuration.With(prometheus.Labels{"state": state}).Observe(duration.Seconds())
}

// ObserveRequest records one handled HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestDuration.With(labels).Observe(duration.Seconds())
}
