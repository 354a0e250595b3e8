// Package metrics exposes Prometheus metrics for the template service
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for ultrazend
type Metrics struct {
	// Template catalogue
	TemplatesTotal           prometheus.Gauge
	TemplateOperationsTotal  *prometheus.CounterVec
	PreviewsTotal            *prometheus.CounterVec
	UnresolvedVariablesTotal prometheus.Counter

	// Delivery
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
	counters map[string]*prometheus.CounterVec // persisted by the Collector
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TemplatesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ultrazend_templates_total",
				Help: "Number of templates in the catalogue",
			},
		),
		TemplateOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ultrazend_template_operations_total",
				Help: "Total number of template create, update and delete operations",
			},
			[]string{"operation"},
		),
		PreviewsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ultrazend_previews_total",
				Help: "Total number of rendered previews",
			},
			[]string{"style"},
		),
		UnresolvedVariablesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ultrazend_unresolved_variables_total",
				Help: "Total number of tokens left unresolved by previews and renders",
			},
		),

		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ultrazend_messages_sent_total",
				Help: "Total number of template messages accepted by the relay",
			},
			[]string{"domain"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ultrazend_messages_failed_total",
				Help: "Total number of template messages the relay did not accept",
			},
			[]string{"domain", "error_type"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ultrazend_api_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ultrazend_api_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ultrazend_api_errors_total",
				Help: "Total number of HTTP API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ultrazend_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ultrazend_goroutines",
				Help: "Number of running goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ultrazend_storage_used_bytes",
				Help: "Size of the template database file in bytes",
			},
		),

		registry: reg,
	}

	m.counters = map[string]*prometheus.CounterVec{
		"ultrazend_template_operations_total": m.TemplateOperationsTotal,
		"ultrazend_previews_total":            m.PreviewsTotal,
		"ultrazend_messages_sent_total":       m.MessagesSentTotal,
		"ultrazend_messages_failed_total":     m.MessagesFailedTotal,
		"ultrazend_api_requests_total":        m.APIRequestsTotal,
		"ultrazend_api_errors_total":          m.APIErrorsTotal,
	}

	reg.MustRegister(
		m.TemplatesTotal,
		m.TemplateOperationsTotal,
		m.PreviewsTotal,
		m.UnresolvedVariablesTotal,
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncTemplateOperation increments the template operation counter
func IncTemplateOperation(op string) {
	if m := Global(); m != nil {
		m.TemplateOperationsTotal.WithLabelValues(op).Inc()
	}
}

// SetTemplatesTotal sets the template count gauge
func SetTemplatesTotal(n int64) {
	if m := Global(); m != nil {
		m.TemplatesTotal.Set(float64(n))
	}
}

// ObservePreview records a preview and the tokens it left unresolved
func ObservePreview(style string, unresolved int) {
	if m := Global(); m != nil {
		m.PreviewsTotal.WithLabelValues(style).Inc()
		m.UnresolvedVariablesTotal.Add(float64(unresolved))
	}
}

// IncMessagesSent increments the sent messages counter
func IncMessagesSent(domain string) {
	if m := Global(); m != nil {
		m.MessagesSentTotal.WithLabelValues(domain).Inc()
	}
}

// IncMessagesFailed increments the failed messages counter
func IncMessagesFailed(domain, errorType string) {
	if m := Global(); m != nil {
		m.MessagesFailedTotal.WithLabelValues(domain, errorType).Inc()
	}
}

// IncAPIErrors increments the API errors counter
func IncAPIErrors(errorType string) {
	if m := Global(); m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
