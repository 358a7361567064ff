// Package store provides storage backends for worker oplogs and external
// payloads.
//
// Store is the SQLite backend. Each worker has one row in workers and its
// entries in oplog_entries keyed by (worker_id, idx). Entries are stored as
// the CBOR bytes produced by the oplog codec and are never rewritten; the
// kind column only serves inspection queries.
//
// Memory implements the same contracts in process and is what most tests
// use. RedisBlobStore keeps external payloads in Redis for deployments that
// share blobs between nodes.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
