package oplog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/durable/internal/ir"
)

// DefaultMaxInlinePayload is the largest encoded payload kept inside an
// entry. Larger payloads go to blob storage.
const DefaultMaxInlinePayload = 1024

// IndexedEntry pairs a decoded entry with its position.
type IndexedEntry struct {
	Index Index
	Entry Entry
}

// Oplog is one worker's log. Writes must come from a single goroutine (the
// worker's loop); Length may be read from anywhere.
type Oplog struct {
	worker    WorkerID
	storage   Storage
	blobs     BlobStorage
	maxInline int
	logger    *slog.Logger
	length    atomic.Uint64

	// callSite is the index of the latest entry replay acts on: not a hint,
	// not a jump, not deleted. Owned by the writer.
	callSite Index
}

// Option configures an Oplog.
type Option func(*Oplog)

// WithMaxInlinePayload sets the inline payload threshold in bytes.
func WithMaxInlinePayload(n int) Option {
	return func(o *Oplog) {
		o.maxInline = n
	}
}

// WithLogger sets the logger used for append tracing.
func WithLogger(l *slog.Logger) Option {
	return func(o *Oplog) {
		o.logger = l
	}
}

// Open attaches to a worker's oplog. The worker does not need to exist yet;
// an empty oplog has length None.
func Open(ctx context.Context, storage Storage, blobs BlobStorage, worker WorkerID, opts ...Option) (*Oplog, error) {
	if err := worker.Validate(); err != nil {
		return nil, err
	}
	o := &Oplog{
		worker:    worker,
		storage:   storage,
		blobs:     blobs,
		maxInline: DefaultMaxInlinePayload,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	n, err := storage.Length(ctx, worker)
	if err != nil {
		return nil, fmt.Errorf("open oplog %s: %w", worker, err)
	}
	o.length.Store(uint64(n))
	return o, nil
}

func (o *Oplog) WorkerID() WorkerID {
	return o.worker
}

// Length returns the index of the last appended entry.
func (o *Oplog) Length() Index {
	return Index(o.length.Load())
}

// CallSite returns the index of the latest entry that replay acts on. Hints
// written after it, such as an interrupt, leave it unchanged, so it names the
// position of the worker's next call the same way before and after a
// restart. It is known once a ReplayState has loaded the log.
func (o *Oplog) CallSite() Index {
	return o.callSite
}

// Blobs returns the blob storage used for external payloads.
func (o *Oplog) Blobs() BlobStorage {
	return o.blobs
}

// Add appends an entry and returns its index.
func (o *Oplog) Add(ctx context.Context, e Entry) (Index, error) {
	data, err := Encode(e, EncodeFull)
	if err != nil {
		return None, err
	}
	idx, err := o.storage.Append(ctx, o.worker, Record{Kind: e.Kind(), Data: data})
	if err != nil {
		return None, fmt.Errorf("append %s to %s: %w", e.Kind(), o.worker, err)
	}
	if want := o.Length().Next(); idx != want {
		return None, fmt.Errorf("append %s to %s: got index %d, expected %d (concurrent writer?)", e.Kind(), o.worker, idx, want)
	}
	o.length.Store(uint64(idx))
	if !e.IsHint() && e.Kind() != KindJump {
		o.callSite = idx
	}
	o.logger.Debug("oplog append", "worker", o.worker, "index", idx, "kind", e.Kind())
	return idx, nil
}

// Read returns the entry at idx.
func (o *Oplog) Read(ctx context.Context, idx Index) (Entry, error) {
	entries, err := o.ReadRange(ctx, idx, idx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("read %s[%d]: no such entry", o.worker, idx)
	}
	return entries[0].Entry, nil
}

// ReadRange decodes the entries in [from, to].
func (o *Oplog) ReadRange(ctx context.Context, from, to Index) ([]IndexedEntry, error) {
	records, err := o.storage.ReadRange(ctx, o.worker, from, to)
	if err != nil {
		return nil, fmt.Errorf("read %s[%d..%d]: %w", o.worker, from, to, err)
	}
	out := make([]IndexedEntry, 0, len(records))
	for _, rec := range records {
		e, err := Decode(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("read %s[%d]: %w", o.worker, rec.Index, err)
		}
		out = append(out, IndexedEntry{Index: rec.Index, Entry: e})
	}
	return out, nil
}

// NewPayload encodes v and stores it inline or in blob storage depending on
// its size.
func (o *Oplog) NewPayload(ctx context.Context, v any) (Payload, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("encode payload: %w", err)
	}
	if len(data) <= o.maxInline || o.blobs == nil {
		return SerializedPayload(data), nil
	}
	ref, err := o.blobs.Put(ctx, data)
	if err != nil {
		return Payload{}, fmt.Errorf("upload payload: %w", err)
	}
	if ref.Hash != ir.ContentHash(data) {
		return Payload{}, fmt.Errorf("upload payload %s: blob storage returned hash %s", ref.ID, ref.Hash)
	}
	return ExternalPayload(ref), nil
}

// Download decodes a payload of this oplog into a T.
func Download[T any](ctx context.Context, o *Oplog, p Payload) (T, error) {
	return DecodePayload[T](ctx, p, o.blobs)
}
