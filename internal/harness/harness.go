package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/durable/internal/demo"
	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/hostcall"
	"github.com/roach88/durable/internal/oplog"
	"github.com/roach88/durable/internal/store"
	"github.com/roach88/durable/internal/testutil"
)

// DefaultStepTimeout bounds how long a step may wait for the worker.
const DefaultStepTimeout = 5 * time.Second

// Result is the outcome of a scenario run.
type Result struct {
	Scenario string `json:"scenario"`
	Pass     bool   `json:"pass"`
	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
	// WorkerError is what the last worker loop returned, if it failed.
	WorkerError string                 `json:"worker_error,omitempty"`
	Trace       []TraceEntry           `json:"trace"`
	Status      engine.LastKnownStatus `json:"status"`
	Draws       uint64                 `json:"draws"`
	KVWrites    int                    `json:"kv_writes"`
}

// TraceEntry is the shape of one oplog entry. Name is the component of a
// create entry and the function of host calls and invocations.
type TraceEntry struct {
	Index   oplog.Index `json:"index"`
	Kind    oplog.Kind  `json:"kind"`
	Name    string      `json:"name,omitempty"`
	Deleted bool        `json:"deleted,omitempty"`
}

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger handed to the worker. Runs are silent by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		r.logger = l
	}
}

// WithStepTimeout overrides DefaultStepTimeout.
func WithStepTimeout(d time.Duration) Option {
	return func(r *runner) {
		r.timeout = d
	}
}

type pendingInvocation struct {
	function string
	args     []byte
	inv      *engine.Invocation
}

type runner struct {
	scenario *Scenario
	id       oplog.WorkerID
	logger   *slog.Logger
	timeout  time.Duration

	backend   *store.Memory
	clock     *testutil.FakeClock
	random    *testutil.SequenceRandom
	kv        *hostcall.MemoryKV
	component *engine.Component

	worker *engine.Worker
	cancel context.CancelFunc
	done   chan error
	runErr error

	invocations map[string]*pendingInvocation
	order       []string
	errors      []string
}

// Run executes s against a fresh in-memory worker of the demo component.
// The returned error reports a harness failure (a step timed out or the
// storage could not be read); failed expectations are in Result.Errors.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	r := &runner{
		scenario:    s,
		id:          oplog.WorkerID(s.Worker),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:     DefaultStepTimeout,
		backend:     store.NewMemory(),
		clock:       testutil.NewFakeClock(time.Time{}),
		random:      testutil.NewSequenceRandom(),
		kv:          hostcall.NewMemoryKV(),
		component:   demo.Component(),
		invocations: make(map[string]*pendingInvocation),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.id == "" {
		r.id = DefaultWorker
	}

	if err := r.backend.CreateWorker(ctx, store.Worker{ID: r.id, Component: r.component.Name}); err != nil {
		return nil, err
	}
	r.start(ctx)
	defer r.stop()
	if err := r.awaitStarted(ctx); err != nil {
		return nil, err
	}

	for i, step := range s.Steps {
		if err := r.step(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	r.stop()

	res, err := r.result(ctx)
	if err != nil {
		return nil, err
	}
	res.Errors = append(res.Errors, checkAssertions(s.Assertions, res)...)
	res.Pass = len(res.Errors) == 0
	return res, nil
}

func (r *runner) start(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	w := engine.NewWorker(r.id, r.component, r.backend, r.backend,
		engine.WithClock(r.clock),
		engine.WithRandom(r.random),
		engine.WithKV(r.kv),
		engine.WithLogger(r.logger),
	)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(wctx)
	}()
	r.worker, r.cancel, r.done = w, cancel, done

	// Invocations the previous worker never answered are submitted again
	// with the same key; replay finishes them or they run live.
	for _, key := range r.order {
		p := r.invocations[key]
		if finished(p.inv) {
			continue
		}
		inv, err := w.Enqueue(p.function, p.args, key)
		if err != nil {
			r.failf("resubmit %s: %v", key, err)
			continue
		}
		p.inv = inv
	}
}

// stop cancels the current worker and waits for its loop to return.
func (r *runner) stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	if err := <-r.done; err != nil && !errors.Is(err, context.Canceled) {
		r.runErr = err
	}
	r.cancel = nil
}

// restart replaces the worker, as if the process had crashed.
func (r *runner) restart(ctx context.Context) error {
	r.stop()
	r.runErr = nil
	r.start(ctx)
	return r.awaitStarted(ctx)
}

// awaitStarted waits for a new worker to finish its first replay.
func (r *runner) awaitStarted(ctx context.Context) error {
	return r.awaitNewIncarnation(ctx, 0)
}

func (r *runner) await(ctx context.Context, match func(engine.ExecutionStatus) bool) (engine.ExecutionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	s, err := r.worker.AwaitStatus(ctx, match)
	if err != nil {
		return s, fmt.Errorf("worker stuck in %s: %w", s, err)
	}
	return s, nil
}

// awaitNewIncarnation waits for the worker to replay again and settle.
func (r *runner) awaitNewIncarnation(ctx context.Context, after int64) error {
	_, err := r.await(ctx, func(s engine.ExecutionStatus) bool {
		return s.Incarnation > after && s.State != engine.Running
	})
	return err
}

func (r *runner) step(ctx context.Context, st Step) error {
	switch {
	case st.Invoke != "":
		return r.invoke(ctx, st)
	case st.Await != "":
		p, ok := r.invocations[st.Await]
		if !ok {
			return fmt.Errorf("await: no invocation with key %q", st.Await)
		}
		return r.settle(ctx, st.Await, p, st.Expect)

	case st.Advance != 0:
		r.clock.Advance(st.Advance)
		if s := r.worker.Status(); s.State == engine.Suspended {
			if err := r.worker.Resume(); err != nil {
				return err
			}
			if err := r.awaitNewIncarnation(ctx, s.Incarnation); err != nil {
				return err
			}
		}

	case st.Crash:
		if err := r.restart(ctx); err != nil {
			return err
		}

	case st.Interrupt != "":
		kind, err := durability.ParseInterruptKind(st.Interrupt)
		if err != nil {
			return err
		}
		inc := r.worker.Status().Incarnation
		r.worker.Interrupt(kind)
		if kind == durability.InterruptRestart {
			if err := r.awaitNewIncarnation(ctx, inc); err != nil {
				return err
			}
			break
		}
		if _, err := r.await(ctx, func(s engine.ExecutionStatus) bool {
			return s.State == engine.Interrupted
		}); err != nil {
			return err
		}

	case st.Resume:
		inc := r.worker.Status().Incarnation
		if err := r.worker.Resume(); err != nil {
			return err
		}
		if err := r.awaitNewIncarnation(ctx, inc); err != nil {
			return err
		}

	case st.Upgrade != nil:
		c, err := demo.Replace(r.component, st.Upgrade.Function, st.Upgrade.With)
		if err != nil {
			return err
		}
		r.component = c
		if err := r.restart(ctx); err != nil {
			return err
		}
	}

	if st.Expect != nil && st.Invoke == "" && st.Await == "" {
		r.checkWorker(st.Expect)
	}
	return nil
}

func (r *runner) invoke(ctx context.Context, st Step) error {
	key := st.Key
	if key == "" {
		key = fmt.Sprintf("%s-%d", st.Invoke, len(r.order)+1)
	}
	inv, err := r.worker.Enqueue(st.Invoke, []byte(st.Args), key)
	if err != nil {
		if st.Expect != nil && st.Expect.Error != "" && strings.Contains(err.Error(), st.Expect.Error) {
			return nil
		}
		return err
	}
	p, ok := r.invocations[key]
	if !ok {
		p = &pendingInvocation{function: st.Invoke, args: []byte(st.Args)}
		r.invocations[key] = p
		r.order = append(r.order, key)
	}
	p.inv = inv
	return r.settle(ctx, key, p, st.Expect)
}

// settle waits until the invocation is answered or the worker parks, then
// checks expect against it.
func (r *runner) settle(ctx context.Context, key string, p *pendingInvocation, expect *Expect) error {
	s, err := r.await(ctx, func(s engine.ExecutionStatus) bool {
		return finished(p.inv) || s.State == engine.Suspended || s.State == engine.Interrupted
	})
	if err != nil {
		return fmt.Errorf("invocation %s: %w", key, err)
	}
	if expect == nil {
		return nil
	}

	if expect.Suspended || expect.Fatal {
		r.checkWorker(expect)
		if expect.Suspended && finished(p.inv) {
			r.failf("invocation %s: finished, expected it to be suspended", key)
		}
		return nil
	}
	if !finished(p.inv) {
		r.failf("invocation %s: not finished, worker is %s", key, s)
		return nil
	}
	out, err := p.inv.Result()
	switch {
	case expect.Error != "":
		if err == nil || !strings.Contains(err.Error(), expect.Error) {
			r.failf("invocation %s: expected error containing %q, got %v", key, expect.Error, err)
		}
	case err != nil:
		r.failf("invocation %s: unexpected error: %v", key, err)
	case expect.Output != nil && string(out) != *expect.Output:
		r.failf("invocation %s: expected output %q, got %q", key, *expect.Output, out)
	}
	return nil
}

func (r *runner) checkWorker(expect *Expect) {
	s := r.worker.Status()
	if expect.Suspended && s.State != engine.Suspended {
		r.failf("expected worker to be suspended, it is %s", s)
	}
	if expect.Fatal && (s.State != engine.Interrupted || s.Interrupt != durability.InterruptFatal) {
		r.failf("expected worker to have failed, it is %s", s)
	}
}

func (r *runner) failf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *runner) result(ctx context.Context) (*Result, error) {
	o, err := oplog.Open(ctx, r.backend, r.backend, r.id)
	if err != nil {
		return nil, err
	}
	status, err := engine.FoldStatus(ctx, o)
	if err != nil {
		return nil, err
	}
	trace, err := buildTrace(ctx, o, status.Regions)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Scenario: r.scenario.Name,
		Errors:   r.errors,
		Trace:    trace,
		Status:   status,
		Draws:    r.random.Draws(),
		KVWrites: r.kv.Writes(),
	}
	if r.runErr != nil {
		res.WorkerError = r.runErr.Error()
	}
	return res, nil
}

func buildTrace(ctx context.Context, o *oplog.Oplog, jumps []oplog.Jump) ([]TraceEntry, error) {
	trace := []TraceEntry{}
	if o.Length() == oplog.None {
		return trace, nil
	}
	entries, err := o.ReadRange(ctx, oplog.Initial, o.Length())
	if err != nil {
		return nil, err
	}
	regions := oplog.DeletedRegionsFromJumps(jumps)
	for _, ie := range entries {
		te := TraceEntry{
			Index:   ie.Index,
			Kind:    ie.Entry.Kind(),
			Deleted: regions.IsInDeletedRegion(ie.Index),
		}
		switch e := ie.Entry.(type) {
		case oplog.Create:
			te.Name = e.Component
		case oplog.HostCall:
			te.Name = e.FunctionName
		case oplog.ExportedFunctionInvoked:
			te.Name = e.FunctionName
		}
		trace = append(trace, te)
	}
	return trace, nil
}

func finished(inv *engine.Invocation) bool {
	if inv == nil {
		return false
	}
	select {
	case <-inv.Done():
		return true
	default:
		return false
	}
}
