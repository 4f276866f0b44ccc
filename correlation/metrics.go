package correlation

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/polestream/metric"
)

type writerMetrics struct {
	telemetry     prometheus.Counter
	decay         prometheus.Counter
	ignored       *prometheus.CounterVec
	joins         prometheus.Counter
	evictions     *prometheus.CounterVec
	writeFailures prometheus.Counter
	pending       *prometheus.GaugeVec
}

func newWriterMetrics(registry *metric.MetricsRegistry) (*writerMetrics, error) {
	m := &writerMetrics{
		telemetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "writer",
			Name: "telemetry_received_total",
			Help: "Telemetry readings taken off the central bus",
		}),
		decay: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "writer",
			Name: "decay_received_total",
			Help: "Decay values submitted",
		}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "writer",
			Name: "messages_ignored_total",
			Help: "Bus messages not used for joins, by reason",
		}, []string{"reason"}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "writer",
			Name: "joins_total",
			Help: "Keys joined and handed to the sink",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "writer",
			Name: "evictions_total",
			Help: "Entries dropped by the TTL sweep, by cache",
		}, []string{"cache"}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "writer",
			Name: "write_failures_total",
			Help: "Joined points lost to sink errors",
		}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "polestream", Subsystem: "writer",
			Name: "pending_entries",
			Help: "Entries waiting for their other side, by cache",
		}, []string{"cache"}),
	}
	if registry == nil {
		return m, nil
	}

	for name, c := range map[string]prometheus.Counter{
		"telemetry_received_total": m.telemetry,
		"decay_received_total":     m.decay,
		"joins_total":              m.joins,
		"write_failures_total":     m.writeFailures,
	} {
		if err := registry.RegisterCounter("writer", name, c); err != nil {
			return nil, err
		}
	}
	for name, c := range map[string]*prometheus.CounterVec{
		"messages_ignored_total": m.ignored,
		"evictions_total":        m.evictions,
	} {
		if err := registry.RegisterCounterVec("writer", name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGaugeVec("writer", "pending_entries", m.pending); err != nil {
		return nil, err
	}
	return m, nil
}
