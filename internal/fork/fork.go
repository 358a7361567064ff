package fork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/durable/internal/oplog"
	"github.com/roach88/durable/internal/store"
)

var (
	// ErrInvalidCut is returned when the cut is outside the source's oplog or
	// inside one of its deleted regions.
	ErrInvalidCut = errors.New("invalid cut")
	// ErrOpenRemoteWrite is returned when the cut falls between the begin and
	// end markers of a remote write.
	ErrOpenRemoteWrite = errors.New("cut inside an open remote write")
)

// Service forks and reverts workers in one storage backend. The workers it
// touches must not be running.
type Service struct {
	registry store.Registry
	storage  oplog.Storage
	blobs    oplog.BlobStorage
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a fork service. If storage also implements oplog.Copier the
// copy runs in one step; otherwise entries are read and appended one by one.
func New(registry store.Registry, storage oplog.Storage, blobs oplog.BlobStorage, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		storage:  storage,
		blobs:    blobs,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForkOption configures one Fork call.
type ForkOption func(*forkConfig)

type forkConfig struct {
	redirectTail bool
}

// WithRedirectedTail copies the source's whole oplog and appends a jump that
// deletes everything after the cut, so the tail stays visible for inspection
// but is never replayed.
func WithRedirectedTail() ForkOption {
	return func(c *forkConfig) { c.redirectTail = true }
}

// Result describes a completed fork.
type Result struct {
	Source     oplog.WorkerID `json:"source"`
	Target     oplog.WorkerID `json:"target"`
	Cut        oplog.Index    `json:"cut"`
	Length     oplog.Index    `json:"length"`
	Redirected bool           `json:"redirected,omitempty"`
}

// Fork creates target from the entries 1..cut of source. The cut must leave
// at least one entry after the create entry and must not split a remote
// write.
func (s *Service) Fork(ctx context.Context, source, target oplog.WorkerID, cut oplog.Index, opts ...ForkOption) (Result, error) {
	var cfg forkConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := target.Validate(); err != nil {
		return Result{}, fmt.Errorf("fork %s: %w", target, err)
	}

	src, err := s.registry.GetWorker(ctx, source)
	if err != nil {
		return Result{}, fmt.Errorf("fork %s: %w", source, err)
	}
	if _, err := s.registry.GetWorker(ctx, target); err == nil {
		return Result{}, fmt.Errorf("fork %s: %w", target, store.ErrWorkerExists)
	} else if !errors.Is(err, oplog.ErrWorkerNotFound) {
		return Result{}, fmt.Errorf("fork %s: %w", target, err)
	}

	log, err := oplog.Open(ctx, s.storage, s.blobs, source)
	if err != nil {
		return Result{}, fmt.Errorf("fork %s: %w", source, err)
	}
	length := log.Length()
	if cut < oplog.Initial.Next() || cut > length {
		return Result{}, fmt.Errorf("fork %s at %d (length %d): %w", source, cut, length, ErrInvalidCut)
	}
	if err := checkDeleted(ctx, log, cut); err != nil {
		return Result{}, fmt.Errorf("fork %s: %w", source, err)
	}
	if err := checkRemoteWrites(ctx, log, cut); err != nil {
		return Result{}, fmt.Errorf("fork %s: %w", source, err)
	}

	upTo := cut
	if cfg.redirectTail {
		upTo = length
	}

	if err := s.registry.CreateWorker(ctx, store.Worker{
		ID:        target,
		Component: src.Component,
		Parent:    source,
		ForkedAt:  cut,
	}); err != nil {
		return Result{}, fmt.Errorf("fork %s: %w", target, err)
	}

	res, err := s.populate(ctx, source, target, cut, upTo)
	if err != nil {
		if derr := s.registry.DeleteWorker(ctx, target); derr != nil {
			s.logger.Error("fork cleanup failed", "worker", target, "error", derr)
		}
		return Result{}, err
	}
	res.Redirected = cfg.redirectTail
	s.logger.Info("worker forked",
		"source", source,
		"target", target,
		"cut", cut,
		"length", res.Length,
	)
	return res, nil
}

func (s *Service) populate(ctx context.Context, source, target oplog.WorkerID, cut, upTo oplog.Index) (Result, error) {
	if err := s.copyPrefix(ctx, source, target, upTo); err != nil {
		return Result{}, fmt.Errorf("fork %s: %w", target, err)
	}
	length := upTo
	if upTo > cut {
		log, err := oplog.Open(ctx, s.storage, s.blobs, target)
		if err != nil {
			return Result{}, fmt.Errorf("fork %s: %w", target, err)
		}
		idx, err := log.Add(ctx, oplog.NewJump(oplog.Jump{Source: cut, Target: upTo.Next()}))
		if err != nil {
			return Result{}, fmt.Errorf("fork %s: redirect tail: %w", target, err)
		}
		length = idx
	}
	return Result{Source: source, Target: target, Cut: cut, Length: length}, nil
}

func (s *Service) copyPrefix(ctx context.Context, source, target oplog.WorkerID, upTo oplog.Index) error {
	if c, ok := s.storage.(oplog.Copier); ok {
		return c.CopyPrefix(ctx, source, target, upTo)
	}
	recs, err := s.storage.ReadRange(ctx, source, oplog.Initial, upTo)
	if err != nil {
		return fmt.Errorf("copy oplog: %w", err)
	}
	for _, rec := range recs {
		idx, err := s.storage.Append(ctx, target, rec)
		if err != nil {
			return fmt.Errorf("copy oplog: %w", err)
		}
		if idx != rec.Index {
			return fmt.Errorf("copy oplog: entry %d landed at %d", rec.Index, idx)
		}
	}
	return nil
}

// checkDeleted fails if idx was deleted by a jump or revert anywhere in the
// log. Cutting there would either replay deleted history or create a region
// that partially overlaps an existing one.
func checkDeleted(ctx context.Context, log *oplog.Oplog, idx oplog.Index) error {
	entries, err := log.ReadRange(ctx, oplog.Initial, log.Length())
	if err != nil {
		return err
	}
	regions := oplog.NewDeletedRegions()
	for _, ie := range entries {
		switch e := ie.Entry.(type) {
		case oplog.JumpEntry:
			regions.AddJump(e.Jump)
		case oplog.Revert:
			regions.AddJump(e.DroppedRegion)
		}
	}
	if regions.IsInDeletedRegion(idx) {
		return fmt.Errorf("index %d lies in a deleted region: %w", idx, ErrInvalidCut)
	}
	return nil
}

// checkRemoteWrites fails if a remote write begun at or before cut is still
// open at cut.
func checkRemoteWrites(ctx context.Context, log *oplog.Oplog, cut oplog.Index) error {
	entries, err := log.ReadRange(ctx, oplog.Initial, cut)
	if err != nil {
		return err
	}
	open := map[oplog.Index]bool{}
	for _, ie := range entries {
		switch e := ie.Entry.(type) {
		case oplog.BeginRemoteWrite:
			open[ie.Index] = true
		case oplog.EndRemoteWrite:
			delete(open, e.BeginIndex)
		}
	}
	if len(open) == 0 {
		return nil
	}
	begins := slices.Sorted(maps.Keys(open))
	return fmt.Errorf("write begun at %d: %w", begins[0], ErrOpenRemoteWrite)
}

// Revert appends a revert entry to worker's oplog that deletes everything
// after target, and returns the deleted range. The next incarnation of the
// worker replays entries 1..target and then continues live.
func (s *Service) Revert(ctx context.Context, worker oplog.WorkerID, target oplog.Index) (oplog.Jump, error) {
	if _, err := s.registry.GetWorker(ctx, worker); err != nil {
		return oplog.Jump{}, fmt.Errorf("revert %s: %w", worker, err)
	}
	log, err := oplog.Open(ctx, s.storage, s.blobs, worker)
	if err != nil {
		return oplog.Jump{}, fmt.Errorf("revert %s: %w", worker, err)
	}
	length := log.Length()
	if target < oplog.Initial || target >= length {
		return oplog.Jump{}, fmt.Errorf("revert %s to %d (length %d): %w", worker, target, length, ErrInvalidCut)
	}
	if err := checkDeleted(ctx, log, target); err != nil {
		return oplog.Jump{}, fmt.Errorf("revert %s: %w", worker, err)
	}
	dropped := oplog.Jump{Source: target, Target: length.Next()}
	if _, err := log.Add(ctx, oplog.NewRevert(dropped)); err != nil {
		return oplog.Jump{}, fmt.Errorf("revert %s: %w", worker, err)
	}
	s.logger.Info("worker reverted", "worker", worker, "target", target, "dropped", dropped)
	return dropped, nil
}
