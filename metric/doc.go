// Package metric wraps a Prometheus registry for polestream services.
//
// Each service registers its own collectors under a service name through
// MetricsRegistry; duplicate registrations are reported as invalid errors
// rather than panics. Core collectors shared by every process (bus session
// state, HTTP request counts) live in Metrics and are registered once by
// NewMetricsRegistry. Server exposes the registry at /metrics.
package metric
