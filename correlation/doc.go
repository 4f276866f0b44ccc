// Package correlation joins pole telemetry with the decay values computed for
// it and persists one record per (pole id, second).
//
// Telemetry arrives on the central bus; decay values arrive later, and from a
// different process, through POST /decay. Whichever side arrives second
// completes the join: both cache entries are removed under one lock and the
// combined point is handed to a pointstore.Sink. A key whose other side never
// arrives is evicted by a periodic sweep once it is older than the TTL.
//
// Writes are attempted once. A sink error is logged and the point is lost.
package correlation
