package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/hostcall"
	"github.com/roach88/durable/internal/oplog"
)

const tracerName = "github.com/roach88/durable/internal/engine"

// Function is one exported function of a component. It must reach the
// outside world only through h, so that replay can reproduce it.
type Function func(ctx context.Context, h *hostcall.Host, args []byte) ([]byte, error)

// Component is a worker program: a named set of exported functions.
type Component struct {
	Name      string
	Version   uint64
	Functions map[string]Function
}

// invocationResult is the response payload of exported_function_completed.
type invocationResult struct {
	Output []byte `cbor:"output"`
	Error  string `cbor:"error,omitempty"`
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

func WithPersistenceLevel(level durability.PersistenceLevel) WorkerOption {
	return func(w *Worker) {
		w.level = level
	}
}

func WithAssumeIdempotence(assume bool) WorkerOption {
	return func(w *Worker) {
		w.assumeIdempotence = assume
	}
}

func WithRetryPolicy(p oplog.RetryPolicy) WorkerOption {
	return func(w *Worker) {
		w.retryPolicy = p
	}
}

func WithMaxInlinePayload(n int) WorkerOption {
	return func(w *Worker) {
		w.oplogOpts = append(w.oplogOpts, oplog.WithMaxInlinePayload(n))
	}
}

func WithClock(c hostcall.Clock) WorkerOption {
	return func(w *Worker) {
		w.clock = c
	}
}

func WithRandom(r hostcall.RandomSource) WorkerOption {
	return func(w *Worker) {
		w.random = r
	}
}

func WithKV(kv hostcall.KV) WorkerOption {
	return func(w *Worker) {
		w.kv = kv
	}
}

func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithCreateArgs sets the args and env recorded in the create entry of a
// worker that has no oplog yet.
func WithCreateArgs(args []string, env map[string]string) WorkerOption {
	return func(w *Worker) {
		w.args = args
		w.env = env
	}
}

// Worker runs one oplog.
//
// Thread-safety model:
//   - Enqueue, Invoke, Interrupt, Resume, Stop, Status: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Worker struct {
	id        oplog.WorkerID
	component *Component
	storage   oplog.Storage
	blobs     oplog.BlobStorage
	oplogOpts []oplog.Option

	level             durability.PersistenceLevel
	assumeIdempotence bool
	retryPolicy       oplog.RetryPolicy
	clock             hostcall.Clock
	random            hostcall.RandomSource
	kv                hostcall.KV
	logger            *slog.Logger
	args              []string
	env               map[string]string

	queue       *invocationQueue
	wakeups     *hostcall.Wakeups
	incarnation *Sequence

	// log is the oplog handle of the current incarnation. Owned by Run.
	log *oplog.Oplog

	pending atomic.Uint32 // durability.InterruptKind, 0 when none
	wake    chan struct{}
	resume  chan struct{}

	status   atomic.Pointer[ExecutionStatus]
	notifyMu sync.Mutex
	changed  chan struct{}

	mu        sync.Mutex
	inFlight  map[string]*Invocation
	completed map[string]invocationResult
}

// NewWorker creates a worker over storage. Nothing is read or written until
// Run is called.
func NewWorker(id oplog.WorkerID, component *Component, storage oplog.Storage, blobs oplog.BlobStorage, opts ...WorkerOption) *Worker {
	w := &Worker{
		id:          id,
		component:   component,
		storage:     storage,
		blobs:       blobs,
		retryPolicy: oplog.DefaultRetryPolicy(),
		clock:       hostcall.SystemClock{},
		random:      hostcall.SystemRandom{},
		logger:      slog.Default(),
		queue:       newInvocationQueue(),
		wakeups:     hostcall.NewWakeups(),
		incarnation: NewSequence(),
		wake:        make(chan struct{}, 1),
		resume:      make(chan struct{}, 1),
		changed:     make(chan struct{}),
		inFlight:    make(map[string]*Invocation),
		completed:   make(map[string]invocationResult),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.oplogOpts = append(w.oplogOpts, oplog.WithLogger(w.logger))
	w.status.Store(&ExecutionStatus{State: Idle, Since: w.clock.Now()})
	return w
}

func (w *Worker) ID() oplog.WorkerID {
	return w.id
}

// Incarnations returns how many times the worker has started replaying its
// oplog.
func (w *Worker) Incarnations() int64 {
	return w.incarnation.Current()
}

// Status returns the current execution status.
func (w *Worker) Status() ExecutionStatus {
	return *w.status.Load()
}

// AwaitStatus blocks until match accepts the worker's status.
func (w *Worker) AwaitStatus(ctx context.Context, match func(ExecutionStatus) bool) (ExecutionStatus, error) {
	for {
		w.notifyMu.Lock()
		changed := w.changed
		w.notifyMu.Unlock()

		s := w.Status()
		if match(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-changed:
		}
	}
}

func (w *Worker) setStatus(s ExecutionStatus) {
	s.Incarnation = w.incarnation.Current()
	cur := w.Status()
	if cur.State == s.State && cur.ResumeAt.Equal(s.ResumeAt) && cur.Interrupt == s.Interrupt && cur.Incarnation == s.Incarnation {
		return
	}
	s.Since = w.clock.Now()
	w.status.Store(&s)

	w.notifyMu.Lock()
	close(w.changed)
	w.changed = make(chan struct{})
	w.notifyMu.Unlock()

	w.logger.Debug("worker status", "worker", w.id, "status", s.String())
}

// Enqueue submits an invocation. An empty key gets a random one. Submitting
// a key the worker has already completed returns the recorded result
// without running the function again.
func (w *Worker) Enqueue(function string, args []byte, key string) (*Invocation, error) {
	if _, ok := w.component.Functions[function]; !ok {
		return nil, NewUnknownFunctionError(w.id, w.component.Name, function)
	}
	if key == "" {
		key = uuid.NewString()
	}
	inv := newInvocation(function, args, key)

	w.mu.Lock()
	defer w.mu.Unlock()
	if res, ok := w.completed[key]; ok {
		inv.resolve(w.result(function, res))
		return inv, nil
	}
	if running, ok := w.inFlight[key]; ok {
		return running, nil
	}
	if !w.queue.Enqueue(inv) {
		return nil, NewWorkerStoppedError(w.id)
	}
	w.inFlight[key] = inv
	return inv, nil
}

// Invoke enqueues an invocation and waits for its result.
func (w *Worker) Invoke(ctx context.Context, function string, args []byte, key string) ([]byte, error) {
	inv, err := w.Enqueue(function, args, key)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-inv.Done():
		return inv.Result()
	}
}

// Interrupt asks the worker to stop. It takes effect at the worker's next
// host call, or immediately if the worker is idle or suspended.
func (w *Worker) Interrupt(kind durability.InterruptKind) {
	w.pending.Store(uint32(kind))
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Resume continues a suspended or interrupted worker.
func (w *Worker) Resume() error {
	s := w.Status()
	if !s.Waiting() {
		return NewInvalidTransitionError(w.id, s.State, "resume")
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
	return nil
}

// Stop makes Run return once the queued invocations are done.
func (w *Worker) Stop() {
	w.queue.Close()
}

func (w *Worker) checkInterrupt() error {
	if k := durability.InterruptKind(w.pending.Load()); k != 0 {
		return &durability.InterruptSignal{Kind: k}
	}
	return nil
}

// Run drives the worker until ctx is cancelled, Stop was called and the
// queue is drained, or the worker fails. Once Run returns the worker accepts
// no more invocations.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting", "worker", w.id, "component", w.component.Name)
	defer w.queue.Close()
	for {
		err := w.runIncarnation(ctx)
		restart, err := w.settle(ctx, err)
		if !restart {
			return err
		}
	}
}

// settle decides what happens after an incarnation ended with err, waiting
// as long as the worker is suspended or interrupted.
func (w *Worker) settle(ctx context.Context, err error) (bool, error) {
	for {
		if err == nil {
			w.setStatus(ExecutionStatus{State: Idle})
			w.logger.Info("worker stopped", "worker", w.id)
			return false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}

		if sig, ok := durability.AsSuspend(err); ok {
			err = w.sleepUntil(ctx, sig.ResumeAt)
			if err == nil {
				return true, nil
			}
			continue
		}

		sig, ok := durability.AsInterrupt(err)
		if !ok || sig.Kind == durability.InterruptFatal {
			w.fail(ctx, err)
			return false, err
		}
		w.pending.CompareAndSwap(uint32(sig.Kind), 0)
		switch sig.Kind {
		case durability.InterruptRestart:
			w.hint(ctx, oplog.NewRestart())
			return true, nil
		case durability.InterruptJump:
			return true, nil
		case durability.InterruptSuspend:
			w.hint(ctx, oplog.NewSuspend())
		default:
			w.hint(ctx, oplog.NewInterrupted())
		}
		err = w.awaitResume(ctx, ExecutionStatus{State: Interrupted, Interrupt: sig.Kind})
		if err == nil {
			return true, nil
		}
	}
}

// sleepUntil parks a suspended worker. It returns nil when the worker should
// replay again, or the interrupt that arrived meanwhile.
func (w *Worker) sleepUntil(ctx context.Context, resumeAt time.Time) error {
	drain(w.resume)
	w.setStatus(ExecutionStatus{State: Suspended, ResumeAt: resumeAt})
	w.logger.Info("worker suspended", "worker", w.id, "resume_at", resumeAt)

	timer := time.NewTimer(max(resumeAt.Sub(w.clock.Now()), 0))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-w.resume:
			return nil
		case <-w.wake:
			if err := w.checkInterrupt(); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) awaitResume(ctx context.Context, s ExecutionStatus) error {
	drain(w.resume)
	w.setStatus(s)
	w.logger.Info("worker interrupted", "worker", w.id, "kind", s.Interrupt.String())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.resume:
		return nil
	}
}

func (w *Worker) fail(ctx context.Context, err error) {
	w.logger.Error("worker failed", "worker", w.id, "error", err)
	w.hint(ctx, oplog.NewError(err.Error()))
	w.setStatus(ExecutionStatus{State: Interrupted, Interrupt: durability.InterruptFatal})
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue.Close()
	for key, inv := range w.inFlight {
		inv.resolve(nil, err)
		delete(w.inFlight, key)
	}
}

// hint appends an operator-visible entry. Hints are skipped by replay, so a
// failure to write one is logged and otherwise ignored.
func (w *Worker) hint(ctx context.Context, e oplog.Entry) {
	if w.log == nil {
		return
	}
	if _, err := w.log.Add(context.WithoutCancel(ctx), e); err != nil {
		w.logger.Warn("hint not written", "worker", w.id, "kind", e.Kind(), "error", err)
	}
}

// runIncarnation replays the oplog from the start and then serves the queue.
func (w *Worker) runIncarnation(ctx context.Context) error {
	n := w.incarnation.Next()
	o, err := oplog.Open(ctx, w.storage, w.blobs, w.id, w.oplogOpts...)
	if err != nil {
		return durability.Fatal(err)
	}
	w.log = o
	st, err := durability.NewState(ctx, o)
	if err != nil {
		return durability.Fatal(err)
	}
	st.Level = w.level
	st.AssumeIdempotence = w.assumeIdempotence
	st.RetryPolicy = w.retryPolicy
	st.Interrupts = w.checkInterrupt
	st.Logger = w.logger
	// Only the sleep at the end of the surviving history can still be pending.
	w.wakeups.Retain(o.CallSite())

	host := &hostcall.Host{
		State:   st,
		Clock:   w.clock,
		Random:  w.random,
		KV:      w.kv,
		Wakeups: w.wakeups,
	}

	w.setStatus(ExecutionStatus{State: Running})
	w.logger.Debug("worker replaying",
		"worker", w.id,
		"incarnation", n,
		"target", st.Replay.Target(),
	)
	if err := w.create(ctx, st); err != nil {
		return err
	}
	for !st.Replay.IsLive() {
		if err := w.replayInvocation(ctx, host); err != nil {
			return err
		}
	}
	return w.serve(ctx, host)
}

func (w *Worker) create(ctx context.Context, st *durability.State) error {
	if st.Replay.Target() == oplog.None {
		_, err := st.Oplog.Add(ctx, oplog.NewCreate(w.component.Name, w.component.Version, w.args, w.env))
		if err != nil {
			return durability.Fatal(err)
		}
		return nil
	}
	idx, e, err := st.Replay.Next()
	if err != nil {
		return durability.Fatal(err)
	}
	c, ok := e.(oplog.Create)
	if !ok {
		return &durability.DivergenceError{Index: idx, Expected: "create", Actual: string(e.Kind())}
	}
	if c.Component != w.component.Name {
		return &durability.DivergenceError{
			Index:    idx,
			Expected: "create " + w.component.Name,
			Actual:   "create " + c.Component,
		}
	}
	return nil
}

// replayInvocation re-executes the next recorded invocation.
func (w *Worker) replayInvocation(ctx context.Context, host *hostcall.Host) error {
	st := host.State
	idx, e, err := st.Replay.Next()
	if err != nil {
		return durability.Fatal(err)
	}
	started, ok := e.(oplog.ExportedFunctionInvoked)
	if !ok {
		return &durability.DivergenceError{Index: idx, Expected: "exported_function_invoked", Actual: string(e.Kind())}
	}
	args, err := oplog.DecodePayload[[]byte](ctx, started.Request, st.Oplog.Blobs())
	if err != nil {
		return &durability.DivergenceError{
			Index:    idx,
			Expected: "exported_function_invoked",
			Reason:   "request cannot be decoded",
			Err:      err,
		}
	}
	res, err := w.execute(ctx, host, idx, started.FunctionName, args)
	if err != nil {
		return err
	}
	w.complete(started.FunctionName, started.IdempotencyKey, res)
	return nil
}

// serve runs queued invocations live until the queue is drained and closed.
func (w *Worker) serve(ctx context.Context, host *hostcall.Host) error {
	for {
		if err := w.checkInterrupt(); err != nil {
			return err
		}
		if inv, ok := w.queue.TryDequeue(); ok {
			if inv.resolved() {
				// Completed by replay while it was queued.
				continue
			}
			w.setStatus(ExecutionStatus{State: Running})
			if err := w.runLive(ctx, host, inv); err != nil {
				return err
			}
			continue
		}
		if w.queue.Drained() {
			return nil
		}

		w.setStatus(ExecutionStatus{State: Idle})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.wake:
		case <-w.queue.Wait():
		}
	}
}

func (w *Worker) runLive(ctx context.Context, host *hostcall.Host, inv *Invocation) error {
	o := host.State.Oplog
	req, err := o.NewPayload(ctx, inv.Args)
	if err != nil {
		return durability.Fatal(err)
	}
	idx, err := o.Add(ctx, oplog.NewExportedFunctionInvoked(inv.Function, req, inv.IdempotencyKey))
	if err != nil {
		return durability.Fatal(err)
	}
	res, err := w.execute(ctx, host, idx, inv.Function, inv.Args)
	if err != nil {
		return err
	}
	w.complete(inv.Function, inv.IdempotencyKey, res)
	return nil
}

// execute runs the function of the invocation started at invoked and
// records, or on replay reads, its completion. Control signals and fatal
// errors leave the invocation open; the next incarnation finishes it.
func (w *Worker) execute(ctx context.Context, host *hostcall.Host, invoked oplog.Index, function string, args []byte) (invocationResult, error) {
	st := host.State
	fn, ok := w.component.Functions[function]
	if !ok {
		return invocationResult{}, durability.Fatal(NewUnknownFunctionError(w.id, w.component.Name, function))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "invoke "+function)
	span.SetAttributes(
		attribute.String("worker.id", string(w.id)),
		attribute.Int64("oplog.index", int64(invoked)),
	)
	defer span.End()

	out, err := fn(ctx, host, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return invocationResult{}, ctxErr
		}
		if durability.IsControlSignal(err) || durability.IsFatal(err) {
			return invocationResult{}, err
		}
		span.SetStatus(codes.Error, err.Error())
	}
	res := invocationResult{Output: out}
	if err != nil {
		res.Error = err.Error()
	}

	if st.Replay.IsLive() {
		payload, err := st.Oplog.NewPayload(ctx, res)
		if err != nil {
			return res, durability.Fatal(err)
		}
		fuel := int64(st.Oplog.Length() - invoked)
		if _, err := st.Oplog.Add(ctx, oplog.NewExportedFunctionCompleted(payload, fuel)); err != nil {
			return res, durability.Fatal(err)
		}
		return res, nil
	}

	idx, e, err := st.Replay.Next()
	if err != nil {
		return res, durability.Fatal(err)
	}
	done, ok := e.(oplog.ExportedFunctionCompleted)
	if !ok {
		return res, &durability.DivergenceError{
			Index:    idx,
			Expected: "exported_function_completed for " + function,
			Actual:   string(e.Kind()),
		}
	}
	recorded, err := oplog.DecodePayload[invocationResult](ctx, done.Response, st.Oplog.Blobs())
	if err != nil {
		return res, &durability.DivergenceError{
			Index:    idx,
			Expected: "exported_function_completed for " + function,
			Reason:   "response cannot be decoded",
			Err:      err,
		}
	}
	return recorded, nil
}

func (w *Worker) complete(function, key string, res invocationResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completed[key] = res
	if inv, ok := w.inFlight[key]; ok {
		inv.resolve(w.result(function, res))
		delete(w.inFlight, key)
	}
}

func (w *Worker) result(function string, res invocationResult) ([]byte, error) {
	if res.Error != "" {
		return res.Output, NewInvocationFailedError(w.id, function, res.Error)
	}
	return res.Output, nil
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// String is used in log lines and CLI output.
func (w *Worker) String() string {
	return fmt.Sprintf("%s (%s)", w.id, w.component.Name)
}

// errStopped is what Executor.Wait ignores.
func errStopped(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
