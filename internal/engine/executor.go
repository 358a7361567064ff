package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/durable/internal/oplog"
	"github.com/roach88/durable/internal/store"
)

// Executor runs workers in parallel over one storage backend. Each worker
// gets its own goroutine. A worker that fails is left Interrupted(Fatal) for
// an operator; the others keep running.
//
// Thread-safety: all methods are safe for concurrent use. Start must be
// called before Spawn or Recover.
type Executor struct {
	backend    store.Backend
	components map[string]*Component
	opts       []WorkerOption
	logger     *slog.Logger

	mu       sync.Mutex
	group    *errgroup.Group
	ctx      context.Context
	workers  map[oplog.WorkerID]*Worker
	failures map[oplog.WorkerID]error
}

// NewExecutor creates an executor. opts apply to every worker it starts.
func NewExecutor(backend store.Backend, components []*Component, opts ...WorkerOption) *Executor {
	byName := make(map[string]*Component, len(components))
	for _, c := range components {
		byName[c.Name] = c
	}
	e := &Executor{
		backend:    backend,
		components: byName,
		opts:       opts,
		logger:     slog.Default(),
		workers:    make(map[oplog.WorkerID]*Worker),
		failures:   make(map[oplog.WorkerID]error),
	}
	defaults := &Worker{logger: e.logger}
	for _, opt := range opts {
		opt(defaults)
	}
	e.logger = defaults.logger
	return e
}

// Start binds the executor to ctx. Workers stop when ctx is cancelled.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.group, e.ctx = new(errgroup.Group), ctx
}

// Spawn registers a new worker and starts it.
func (e *Executor) Spawn(ctx context.Context, id oplog.WorkerID, component string, opts ...WorkerOption) (*Worker, error) {
	c, ok := e.components[component]
	if !ok {
		return nil, NewUnknownComponentError(id, component)
	}
	if err := e.backend.CreateWorker(ctx, store.Worker{ID: id, Component: component}); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}
	return e.start(id, c, opts)
}

// Attach starts a worker that is already registered, for example one that
// was just forked or that ran before a restart of the process.
func (e *Executor) Attach(ctx context.Context, id oplog.WorkerID) (*Worker, error) {
	if w, ok := e.Worker(id); ok {
		return w, nil
	}
	reg, err := e.backend.GetWorker(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", id, err)
	}
	c, ok := e.components[reg.Component]
	if !ok {
		return nil, NewUnknownComponentError(id, reg.Component)
	}
	return e.start(id, c, nil)
}

// Recover attaches every registered worker whose component is known.
func (e *Executor) Recover(ctx context.Context) ([]*Worker, error) {
	regs, err := e.backend.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	var started []*Worker
	for _, reg := range regs {
		if _, ok := e.components[reg.Component]; !ok {
			e.logger.Warn("worker skipped: unknown component", "worker", reg.ID, "component", reg.Component)
			continue
		}
		w, err := e.Attach(ctx, reg.ID)
		if err != nil {
			return started, err
		}
		started = append(started, w)
	}
	return started, nil
}

func (e *Executor) start(id oplog.WorkerID, c *Component, extra []WorkerOption) (*Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.group == nil {
		return nil, errors.New("executor not started")
	}
	if w, ok := e.workers[id]; ok {
		return w, nil
	}
	opts := append(append([]WorkerOption{}, e.opts...), extra...)
	w := NewWorker(id, c, e.backend, e.backend, opts...)
	e.workers[id] = w
	ctx := e.ctx
	e.group.Go(func() error {
		err := w.Run(ctx)
		if errStopped(err) {
			return nil
		}
		e.logger.Error("worker needs intervention", "worker", id, "status", w.Status().String(), "error", err)
		e.mu.Lock()
		e.failures[id] = fmt.Errorf("worker %s: %w", id, err)
		e.mu.Unlock()
		return nil
	})
	return w, nil
}

// Worker returns a running worker.
func (e *Executor) Worker(id oplog.WorkerID) (*Worker, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[id]
	return w, ok
}

// Workers returns the running workers ordered by id.
func (e *Executor) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Worker, 0, len(e.workers))
	for _, w := range e.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Invoke runs function on a worker started by this executor.
func (e *Executor) Invoke(ctx context.Context, id oplog.WorkerID, function string, args []byte, key string) ([]byte, error) {
	w, ok := e.Worker(id)
	if !ok {
		return nil, NewWorkerNotRunningError(id)
	}
	return w.Invoke(ctx, function, args, key)
}

// Shutdown stops every worker once its queue is drained and waits for them.
func (e *Executor) Shutdown() error {
	for _, w := range e.Workers() {
		w.Stop()
	}
	return e.Wait()
}

// Failure returns the error a worker stopped with, or nil if it has not
// failed.
func (e *Executor) Failure(id oplog.WorkerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures[id]
}

// Wait blocks until every worker has returned and reports the workers that
// failed, ordered by id.
func (e *Executor) Wait() error {
	e.mu.Lock()
	g := e.group
	e.mu.Unlock()
	if g == nil {
		return nil
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ids := slices.Sorted(maps.Keys(e.failures))
	errs := make([]error, len(ids))
	for i, id := range ids {
		errs[i] = e.failures[id]
	}
	return errors.Join(errs...)
}
