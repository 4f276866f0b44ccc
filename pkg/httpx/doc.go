// Package httpx holds the HTTP plumbing shared by the catalog and writer APIs:
// a chi router with request ids, access logging and Prometheus
// instrumentation, JSON helpers that map domain errors onto status codes, and
// a small server wrapper with graceful shutdown.
package httpx
