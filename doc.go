// Package polestream moves smart-pole telemetry from the edge to the cloud.
//
// Poles publish readings on the NATS broker of their zone. A gateway bridge
// per zone registers the poles it hears about in the catalog and relays their
// data to a central broker. Backend workers on the central bus compute
// derived values, and the correlation writer joins each reading with its
// decay value before persisting a single point.
//
// # Architecture
//
//	┌──────────┐  config/data   ┌──────────┐   relay    ┌──────────────┐
//	│  Poles   ├───────────────→│  Bridge  ├───────────→│ Central bus  │
//	│ (zone X) │←───────────────┤ (zone X) │            └──────┬───────┘
//	└──────────┘   deactivate   └────┬─────┘                   │
//	                                 │ register / status       │
//	                                 ↓                         ↓
//	                          ┌─────────────┐     ┌────────────┬────────────┐
//	                          │   Catalog   │←────┤   Decay    │ Threshold  │
//	                          │  (HTTP API) │     │   worker   │   worker   │
//	                          └─────────────┘     └─────┬──────┴─────┬──────┘
//	                                                    │ POST       │ alerts
//	                                                    ↓ /decay     ↓
//	                                              ┌──────────┐   Central bus
//	                                              │  Writer  ├──→ point sink
//	                                              └──────────┘
//
// The catalog is the single source of truth for zones, gateways, poles,
// topics, broker addresses and service bindings. Every other process asks it
// for its configuration on start and refuses to run when it cannot.
//
// # Packages
//
// Pipeline:
//   - catalog: registry, persistence, HTTP API and client
//   - bridge: the per-zone gateway bridge and its pole lifecycle tracking
//   - correlation: the writer's join buffer, bus handler and decay API
//   - pointstore: sinks for joined points (Redis streams, JetStream, log)
//   - processor/base: catalog bootstrap shared by backend workers
//   - processor/decay: decay computation
//   - processor/threshold: tilt alerting
//
// Infrastructure:
//   - natsclient: bus sessions with reconnect, JetStream and KV helpers
//   - config: layered JSON/YAML configuration with POLESTREAM_* overrides
//   - errors: classified errors (transient, fatal, invalid) and kinds
//   - health: health checks and their HTTP handler
//   - metric: Prometheus registry and exporter
//   - pkg/httpx: chi routers, JSON responses and the HTTP client
//   - pkg/retry: retry policies for startup calls
//   - pkg/worker: bounded worker pools
//
// # Binary
//
//	polestream catalog   --config polestream.yaml
//	polestream bridge    --config polestream.yaml --config zone-piemonte.yaml
//	polestream writer    --config polestream.yaml
//	polestream decay     --config polestream.yaml
//	polestream threshold --config polestream.yaml
package polestream
