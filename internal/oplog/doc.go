// Package oplog defines a worker's operation log: the entry model, payloads,
// the binary codec, deleted regions, and the replay cursor.
//
// An oplog is append-only and 1-based. Index 1 always holds the worker's
// create entry; None (0) means "nothing appended yet". Entries are immutable
// once appended. Replay walks the log in index order, skipping hint entries
// and every index covered by a deleted region.
//
// Entry kinds are declared once, in the kinds table in kind.go. The codec,
// the hint classification and the public projection are all driven from that
// table.
package oplog
