// Package health reports liveness of the long-running polestream services.
//
// Each service registers named checks on a Monitor (bus sessions, catalog
// reachability, the point sink). The monitor evaluates them on demand and
// aggregates the results: any unhealthy check makes the process unhealthy,
// otherwise any degraded check makes it degraded.
//
// Monitor.Handler serves the aggregate as JSON, with 503 for unhealthy.
// Error text placed into a Status goes through FromError, which strips URLs,
// addresses and credentials before they reach the response body.
package health
