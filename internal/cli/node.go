package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/durable/internal/config"
	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/hostcall"
	"github.com/roach88/durable/internal/oplog"
	"github.com/roach88/durable/internal/store"
)

// node is the storage a command works against: SQLite for the registry and
// oplogs, and optionally Redis for blobs and the kv store.
type node struct {
	backend store.Backend
	kv      hostcall.KV
	closers []func() error
}

func openNode(ctx context.Context, cfg config.Config) (*node, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	n := &node{backend: st, kv: st.KV(), closers: []func() error{st.Close}}
	if cfg.RedisAddr == "" {
		return n, nil
	}

	blobs := store.NewRedisBlobStore(cfg.RedisAddr, cfg.RedisPrefix, 0)
	n.closers = append(n.closers, blobs.Close)
	if err := blobs.Ping(ctx); err != nil {
		_ = n.Close()
		return nil, WrapExitError(ExitCommandError, "failed to reach redis", err)
	}
	kv := store.NewRedisKV(cfg.RedisAddr, cfg.RedisPrefix)
	n.closers = append(n.closers, kv.Close)
	n.backend = store.SplitBackend{Backend: st, Blobs: blobs}
	n.kv = kv
	slog.Debug("redis attached", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
	return n, nil
}

func (n *node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i]())
	}
	return errors.Join(errs...)
}

// open returns the oplog of a registered worker.
func (n *node) open(ctx context.Context, id oplog.WorkerID, cfg config.Config) (*oplog.Oplog, error) {
	if _, err := n.backend.GetWorker(ctx, id); err != nil {
		if errors.Is(err, oplog.ErrWorkerNotFound) {
			return nil, WrapExitError(ExitCommandError, "unknown worker", err)
		}
		return nil, err
	}
	return oplog.Open(ctx, n.backend, n.backend, id, oplog.WithMaxInlinePayload(cfg.MaxInlinePayload))
}

// workerOptions maps configuration onto every worker a command starts.
func workerOptions(cfg config.Config, kv hostcall.KV) []engine.WorkerOption {
	return []engine.WorkerOption{
		engine.WithPersistenceLevel(cfg.PersistenceLevel),
		engine.WithAssumeIdempotence(cfg.AssumeIdempotence),
		engine.WithRetryPolicy(cfg.Retry),
		engine.WithMaxInlinePayload(cfg.MaxInlinePayload),
		engine.WithKV(kv),
		engine.WithLogger(slog.Default()),
	}
}
