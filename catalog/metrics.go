package catalog

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/polestream/metric"
)

type registryMetrics struct {
	mutations *prometheus.CounterVec
	gateways  prometheus.Gauge
	poles     prometheus.Gauge
}

func newRegistryMetrics(registry *metric.MetricsRegistry) (*registryMetrics, error) {
	m := &registryMetrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polestream",
			Subsystem: "catalog",
			Name:      "mutations_total",
			Help:      "Catalog mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
		gateways: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "polestream",
			Subsystem: "catalog",
			Name:      "gateways",
			Help:      "Registered gateways",
		}),
		poles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "polestream",
			Subsystem: "catalog",
			Name:      "poles",
			Help:      "Registered smart poles across all gateways",
		}),
	}
	if registry == nil {
		return m, nil
	}
	if err := registry.RegisterCounterVec("catalog", "mutations_total", m.mutations); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("catalog", "gateways", m.gateways); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("catalog", "poles", m.poles); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *registryMetrics) observe(s *Snapshot) {
	poles := 0
	for _, g := range s.Gateways {
		poles += len(g.SmartPoles)
	}
	m.gateways.Set(float64(len(s.Gateways)))
	m.poles.Set(float64(poles))
}
