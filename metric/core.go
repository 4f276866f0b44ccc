package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the metrics every polestream process exposes
type Metrics struct {
	// Bus session metrics, labelled by session name ("local", "central")
	BusConnected  *prometheus.GaugeVec
	BusReconnects *prometheus.CounterVec
	BusPublished  *prometheus.CounterVec
	BusReceived   *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		BusConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "polestream",
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Bus session connection state (1=connected)",
			},
			[]string{"session"},
		),
		BusReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "polestream",
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Total number of bus reconnections",
			},
			[]string{"session"},
		),
		BusPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "polestream",
				Subsystem: "bus",
				Name:      "published_total",
				Help:      "Messages published by outcome",
			},
			[]string{"session", "status"},
		),
		BusReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "polestream",
				Subsystem: "bus",
				Name:      "received_total",
				Help:      "Messages received",
			},
			[]string{"session"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "polestream",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"server", "route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "polestream",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"server", "route"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BusConnected,
		m.BusReconnects,
		m.BusPublished,
		m.BusReceived,
		m.HTTPRequests,
		m.HTTPDuration,
	}
}
