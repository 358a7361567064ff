package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/oplog"
)

// Memory keeps workers, oplogs and blobs in process. Records are copied on
// the way in and out so callers cannot alias stored bytes.
type Memory struct {
	mu      sync.RWMutex
	workers map[oplog.WorkerID]Worker
	logs    map[oplog.WorkerID][]oplog.Record
	blobs   map[oplog.PayloadID][]byte
}

func NewMemory() *Memory {
	return &Memory{
		workers: make(map[oplog.WorkerID]Worker),
		logs:    make(map[oplog.WorkerID][]oplog.Record),
		blobs:   make(map[oplog.PayloadID][]byte),
	}
}

func (m *Memory) CreateWorker(_ context.Context, w Worker) error {
	if err := w.ID.Validate(); err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workers[w.ID]; exists {
		return fmt.Errorf("create worker %s: %w", w.ID, ErrWorkerExists)
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	m.workers[w.ID] = w
	return nil
}

func (m *Memory) GetWorker(_ context.Context, id oplog.WorkerID) (Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[id]
	if !ok {
		return Worker{}, fmt.Errorf("get worker %s: %w", id, oplog.ErrWorkerNotFound)
	}
	return w, nil
}

func (m *Memory) ListWorkers(_ context.Context) ([]Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b Worker) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out, nil
}

func (m *Memory) DeleteWorker(_ context.Context, id oplog.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[id]; !ok {
		return fmt.Errorf("delete worker %s: %w", id, oplog.ErrWorkerNotFound)
	}
	delete(m.workers, id)
	delete(m.logs, id)
	return nil
}

func (m *Memory) Append(_ context.Context, worker oplog.WorkerID, rec oplog.Record) (oplog.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[worker]; !ok {
		return oplog.None, fmt.Errorf("append: worker %s: %w", worker, oplog.ErrWorkerNotFound)
	}
	idx := oplog.IndexFromUint64(uint64(len(m.logs[worker]))).Next()
	m.logs[worker] = append(m.logs[worker], oplog.Record{
		Index: idx,
		Kind:  rec.Kind,
		Data:  slices.Clone(rec.Data),
	})
	return idx, nil
}

func (m *Memory) ReadRange(_ context.Context, worker oplog.WorkerID, from, to oplog.Index) ([]oplog.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.logs[worker]
	out := []oplog.Record{}
	if from < oplog.Initial {
		from = oplog.Initial
	}
	for idx := from; idx <= to && int(idx) <= len(log); idx++ {
		rec := log[idx-1]
		rec.Data = slices.Clone(rec.Data)
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) Length(_ context.Context, worker oplog.WorkerID) (oplog.Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return oplog.IndexFromUint64(uint64(len(m.logs[worker]))), nil
}

func (m *Memory) CopyPrefix(_ context.Context, from, to oplog.WorkerID, upTo oplog.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range []oplog.WorkerID{from, to} {
		if _, ok := m.workers[w]; !ok {
			return fmt.Errorf("copy oplog: worker %s: %w", w, oplog.ErrWorkerNotFound)
		}
	}
	if n := len(m.logs[to]); n != 0 {
		return fmt.Errorf("copy oplog: target %s already has %d entries", to, n)
	}
	src := m.logs[from]
	if int(upTo) > len(src) {
		return fmt.Errorf("copy oplog: copied %d entries from %s, expected %d", len(src), from, upTo)
	}
	dst := make([]oplog.Record, upTo)
	for i, rec := range src[:upTo] {
		rec.Data = slices.Clone(rec.Data)
		dst[i] = rec
	}
	m.logs[to] = dst
	return nil
}

func (m *Memory) Put(_ context.Context, data []byte) (oplog.ExternalRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := oplog.ExternalRef{ID: oplog.NewPayloadID(), Hash: ir.ContentHash(data)}
	m.blobs[ref.ID] = slices.Clone(data)
	return ref, nil
}

func (m *Memory) Get(_ context.Context, id oplog.PayloadID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("get blob %s: %w", id, oplog.ErrPayloadNotFound)
	}
	return slices.Clone(data), nil
}

// BlobCount returns the number of stored blobs.
func (m *Memory) BlobCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.blobs)
}
