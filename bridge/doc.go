// Package bridge relays a zone's pole traffic from its local bus to the
// central bus.
//
// At startup a Bridge resolves its zone from its coordinates, claims it in
// the catalog and opens two sessions: a subscriber on the local broker and a
// publish-only session on the central broker. Losing the zone claim is fatal.
//
// Each local message is classified:
//   - config: the pole is registered with the catalog on a worker pool, so the
//     delivery goroutine never waits on it
//   - unregister or offline: the pole leaves the known set and is deleted
//   - anything else is data, relayed only for known poles
//
// Registrations and deletions of one pole run in the order they were
// received. Data messages go to a separate relay pool, where the status
// check happens.
//
// Data is relayed to its original topic with the gateway id appended as the
// last segment, which is how receivers recover the gateway. Poles the catalog
// reports inactive get a deactivate command instead. When the catalog cannot
// answer the status check the message is relayed anyway.
package bridge
