package oplog

import "context"

// Record is an encoded entry as held by storage.
type Record struct {
	Index Index
	Kind  Kind
	Data  []byte
}

// Storage is the contract an oplog backend must satisfy. A worker is the
// single writer of its own oplog; once Append returns, the record must be
// visible to that writer's subsequent reads.
type Storage interface {
	// Append stores rec at the next index and returns that index. rec.Index
	// is ignored.
	Append(ctx context.Context, worker WorkerID, rec Record) (Index, error)
	// ReadRange returns the records in [from, to], in index order.
	ReadRange(ctx context.Context, worker WorkerID, from, to Index) ([]Record, error)
	// Length returns the index of the last record, or None.
	Length(ctx context.Context, worker WorkerID) (Index, error)
}

// Copier is implemented by storage that can copy a prefix of one oplog into
// a new one atomically.
type Copier interface {
	CopyPrefix(ctx context.Context, from, to WorkerID, upTo Index) error
}

// BlobStorage holds payloads too large to keep inline.
type BlobStorage interface {
	BlobReader
	// Put stores data under a fresh id and returns where it went.
	Put(ctx context.Context, data []byte) (ExternalRef, error)
}
