// Package catalog is the system's registry of gateways, smart poles, regions,
// bus brokers, topic names and backend service bindings.
//
// A Registry owns the state. Mutations are serialized behind one lock and
// written through to a Store before they become visible, so a failed save
// never exposes a half-applied change. Three stores are available: a JSON
// file replaced atomically (FileStore), a JetStream KV bucket (KVStore) and
// an in-memory store for tests (MemoryStore).
//
// Invariants enforced by the Registry:
//   - at most one gateway owns a zone; a claim by a different id is a Conflict
//   - pole ids are unique within their gateway (AlreadyExists)
//   - every accepted mutation moves the affected gateway's last_update forward
//
// API serves the Registry over HTTP and Client is its remote counterpart,
// used by bridges and backend workers.
package catalog
