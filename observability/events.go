package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	updates *prometheus.CounterVec
	dropped prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured protocol events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "events",
				Name:      "updates_total",
				Help:      "Count of hub updates segmented by event type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of updates lost because a subscriber channel was full.",
			}),
		}
		prometheus.MustRegister(eventRegistry.updates, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordUpdate increments the update counter for the supplied event type.
func (m *eventMetrics) RecordUpdate(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.updates.WithLabelValues(normalized).Inc()
}

// RecordDropped counts an update discarded on a saturated subscriber.
func (m *eventMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
