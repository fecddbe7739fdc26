package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	reportdMetricsOnce sync.Once
	reportdRegistry    *ReportdMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendpool",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// ReportdMetrics wraps collectors tracking the reporting daemon's polling and
// export loops.
type ReportdMetrics struct {
	pollLatency *prometheus.HistogramVec
	pollErrors  *prometheus.CounterVec
	rowsStored  *prometheus.CounterVec
	exportRuns  *prometheus.CounterVec
	lastExport  prometheus.Gauge
}

// Reportd exposes the metrics registry for reportd.
func Reportd() *ReportdMetrics {
	reportdMetricsOnce.Do(func() {
		reportdRegistry = &ReportdMetrics{
			pollLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendpool",
				Subsystem: "reportd",
				Name:      "poll_duration_seconds",
				Help:      "Latency distribution for node polling rounds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"source"}),
			pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "reportd",
				Name:      "poll_errors_total",
				Help:      "Count of failed polling rounds segmented by source and reason.",
			}, []string{"source", "reason"}),
			rowsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "reportd",
				Name:      "rows_stored_total",
				Help:      "Count of rows persisted into reporting tables.",
			}, []string{"table"}),
			exportRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "reportd",
				Name:      "export_runs_total",
				Help:      "Count of report export runs segmented by outcome.",
			}, []string{"outcome"}),
			lastExport: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "reportd",
				Name:      "last_export_timestamp_seconds",
				Help:      "Unix timestamp of the most recent successful export.",
			}),
		}
		prometheus.MustRegister(
			reportdRegistry.pollLatency,
			reportdRegistry.pollErrors,
			reportdRegistry.rowsStored,
			reportdRegistry.exportRuns,
			reportdRegistry.lastExport,
		)
	})
	return reportdRegistry
}

// ObservePoll records one polling round against the node RPC.
func (m *ReportdMetrics) ObservePoll(source string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	src := strings.TrimSpace(source)
	if src == "" {
		src = "unknown"
	}
	m.pollLatency.WithLabelValues(src).Observe(duration.Seconds())
	if err != nil {
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.pollErrors.WithLabelValues(src, reason).Inc()
	}
}

// AddRows counts rows persisted into a reporting table.
func (m *ReportdMetrics) AddRows(table string, count int) {
	if m == nil || count <= 0 {
		return
	}
	name := strings.TrimSpace(table)
	if name == "" {
		name = "unknown"
	}
	m.rowsStored.WithLabelValues(name).Add(float64(count))
}

// RecordExport tracks an export run and, on success, the completion time.
func (m *ReportdMetrics) RecordExport(err error, completedAt time.Time) {
	if m == nil {
		return
	}
	if err != nil {
		m.exportRuns.WithLabelValues("error").Inc()
		return
	}
	m.exportRuns.WithLabelValues("success").Inc()
	if !completedAt.IsZero() {
		m.lastExport.Set(float64(completedAt.Unix()))
	}
}
