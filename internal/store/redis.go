package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/oplog"
)

var _ oplog.BlobStorage = (*RedisBlobStore)(nil)

// RedisBlobStore keeps external payloads in Redis under
// "<prefix>:blob:<payload id>". Blobs never expire unless ttl is set.
type RedisBlobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBlobStore connects to addr. The connection is checked lazily on the
// first command; call Ping to fail fast.
func NewRedisBlobStore(addr, prefix string, ttl time.Duration) *RedisBlobStore {
	return &RedisBlobStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Ping checks that the server is reachable.
func (r *RedisBlobStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisBlobStore) Close() error {
	return r.client.Close()
}

func (r *RedisBlobStore) Put(ctx context.Context, data []byte) (oplog.ExternalRef, error) {
	ref := oplog.ExternalRef{ID: oplog.NewPayloadID(), Hash: ir.ContentHash(data)}
	if err := r.client.Set(ctx, r.key(ref.ID), data, r.ttl).Err(); err != nil {
		return oplog.ExternalRef{}, fmt.Errorf("put blob: %w", err)
	}
	return ref, nil
}

func (r *RedisBlobStore) Get(ctx context.Context, id oplog.PayloadID) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get blob %s: %w", id, oplog.ErrPayloadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", id, err)
	}
	return data, nil
}

func (r *RedisBlobStore) key(id oplog.PayloadID) string {
	return fmt.Sprintf("%s:blob:%s", r.prefix, id)
}

// SplitBackend serves oplogs and the registry from one backend and blobs
// from another, typically SQLite plus Redis.
type SplitBackend struct {
	Backend
	Blobs oplog.BlobStorage
}

func (s SplitBackend) Put(ctx context.Context, data []byte) (oplog.ExternalRef, error) {
	return s.Blobs.Put(ctx, data)
}

func (s SplitBackend) Get(ctx context.Context, id oplog.PayloadID) ([]byte, error) {
	return s.Blobs.Get(ctx, id)
}

// RedisKV is the key/value store workers reach through the kv host
// functions. Keys live under "<prefix>:kv:<key>".
type RedisKV struct {
	client *redis.Client
	prefix string
}

func NewRedisKV(addr, prefix string) *RedisKV {
	return &RedisKV{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisKV) Put(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) key(k string) string {
	return r.prefix + ":kv:" + k
}
