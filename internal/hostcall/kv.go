package hostcall

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/oplog"
)

// ErrNoKV is returned by the kv host functions when the host has no store.
var ErrNoKV = errors.New("no kv store configured")

// MemoryKV is an in-process KV. Writes counts every Put that reached it.
type MemoryKV struct {
	mu     sync.Mutex
	data   map[string]string
	writes int
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.writes++
	return nil
}

func (m *MemoryKV) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// KVPair is one key and value written by Put.
type KVPair struct {
	Key   string `cbor:"key"`
	Value string `cbor:"value"`
}

type kvLookup struct {
	Value string `cbor:"value"`
	Found bool   `cbor:"found"`
}

// Get reads key from the KV store.
func (h *Host) Get(ctx context.Context, key string) (string, bool, error) {
	call := durability.Call[string, kvLookup]{Interface: "kv", Function: "get", Type: oplog.ReadRemote}
	got, err := durability.Wrap(ctx, h.State, call, key, func(ctx context.Context, key string) (kvLookup, error) {
		if h.KV == nil {
			return kvLookup{}, ErrNoKV
		}
		v, ok, err := h.KV.Get(ctx, key)
		return kvLookup{Value: v, Found: ok}, err
	})
	return got.Value, got.Found, err
}

// Put writes one key.
func (h *Host) Put(ctx context.Context, key, value string) error {
	call := durability.Call[KVPair, struct{}]{Interface: "kv", Function: "put", Type: oplog.WriteRemote}
	_, err := durability.Wrap(ctx, h.State, call, KVPair{Key: key, Value: value}, h.put)
	return err
}

// PutAll writes pairs as one batched remote write: all puts share a single
// remote-write bracket.
func (h *Host) PutAll(ctx context.Context, pairs []KVPair) error {
	batch := oplog.None
	for _, p := range pairs {
		call := durability.Call[KVPair, struct{}]{
			Interface: "kv",
			Function:  "put",
			Type:      oplog.WriteRemoteBatched,
			Batch:     batch,
		}
		d, err := durability.New(ctx, h.State, call)
		if err != nil {
			return err
		}
		if d.IsLive() {
			out, err := durability.Retry(ctx, h.State, call.Type, func(ctx context.Context) (struct{}, error) {
				return h.put(ctx, p)
			})
			_, err = d.Persist(ctx, p, out, err)
			if err != nil {
				return err
			}
		} else if _, err := d.Replay(ctx); err != nil {
			return err
		}
		batch = d.BeginIndex()
	}
	return durability.EndRemoteWrite(ctx, h.State, batch)
}

func (h *Host) put(ctx context.Context, p KVPair) (struct{}, error) {
	if h.KV == nil {
		return struct{}{}, ErrNoKV
	}
	return struct{}{}, h.KV.Put(ctx, p.Key, p.Value)
}
