package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/polestream/metric"
)

// Drop reasons recorded on the dropped counter
const (
	dropMalformed   = "malformed"
	dropUnknownPole = "unknown_pole"
	dropInactive    = "inactive"
	dropCentralDown = "central_unavailable"
	dropQueueFull   = "queue_full"
)

type bridgeMetrics struct {
	received      *prometheus.CounterVec
	relayed       prometheus.Counter
	dropped       *prometheus.CounterVec
	deactivations prometheus.Counter
	failOpen      prometheus.Counter
	registrations *prometheus.CounterVec
	knownPoles    prometheus.Gauge
}

func newBridgeMetrics(registry *metric.MetricsRegistry) (*bridgeMetrics, error) {
	m := &bridgeMetrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "bridge",
			Name: "messages_received_total",
			Help: "Local bus messages received by classified kind",
		}, []string{"kind"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "bridge",
			Name: "messages_relayed_total",
			Help: "Data messages relayed to the central bus",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "bridge",
			Name: "messages_dropped_total",
			Help: "Messages not relayed, by reason",
		}, []string{"reason"}),
		deactivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "bridge",
			Name: "deactivations_sent_total",
			Help: "Deactivate commands published to poles",
		}),
		failOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "bridge",
			Name: "status_fail_open_total",
			Help: "Relays made without a catalog answer on pole status",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polestream", Subsystem: "bridge",
			Name: "catalog_tasks_total",
			Help: "Asynchronous catalog tasks by operation and outcome",
		}, []string{"operation", "outcome"}),
		knownPoles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "polestream", Subsystem: "bridge",
			Name: "known_poles",
			Help: "Poles whose data is currently relayed",
		}),
	}
	if registry == nil {
		return m, nil
	}

	for name, c := range map[string]*prometheus.CounterVec{
		"messages_received_total": m.received,
		"messages_dropped_total":  m.dropped,
		"catalog_tasks_total":     m.registrations,
	} {
		if err := registry.RegisterCounterVec("bridge", name, c); err != nil {
			return nil, err
		}
	}
	for name, c := range map[string]prometheus.Counter{
		"messages_relayed_total":   m.relayed,
		"deactivations_sent_total": m.deactivations,
		"status_fail_open_total":   m.failOpen,
	} {
		if err := registry.RegisterCounter("bridge", name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge("bridge", "known_poles", m.knownPoles); err != nil {
		return nil, err
	}
	return m, nil
}
