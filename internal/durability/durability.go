package durability

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/durable/internal/oplog"
)

// Call describes one host function.
type Call[In, Out any] struct {
	Interface string
	Function  string
	Type      oplog.FunctionType
	// Batch is the begin index of an already open WriteRemoteBatched
	// bracket. None opens a new one.
	Batch oplog.Index
	// ShouldPersist decides whether a live outcome is written. Nil persists
	// every outcome. Control signals and cancellation are never persisted.
	ShouldPersist func(out Out, err error) bool
}

// Name is the function name recorded in host_call entries.
func (c Call[In, Out]) Name() string {
	return c.Interface + "." + c.Function
}

// outcome is what a host_call entry's response payload holds.
type outcome[Out any] struct {
	Value Out        `cbor:"value"`
	Err   *CallError `cbor:"error,omitempty"`
}

// Durability is the per-call handle. The live/replay decision is taken when
// it is created, before anything is executed or read.
type Durability[In, Out any] struct {
	st     *State
	call   Call[In, Out]
	live   bool
	direct bool
	begin  oplog.Index
}

// New observes the call, checks for pending interrupts, decides the mode and
// opens a remote-write bracket when the function type requires one.
func New[In, Out any](ctx context.Context, st *State, call Call[In, Out]) (*Durability[In, Out], error) {
	if err := st.checkInterrupt(); err != nil {
		return nil, err
	}
	ObserveFunctionCall(call.Interface, call.Function)

	d := &Durability[In, Out]{
		st:     st,
		call:   call,
		live:   st.IsLive(),
		direct: !st.recorded(call.Type),
	}
	if d.direct {
		d.live = true
		return d, nil
	}
	if err := d.beginFunction(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// IsLive reports whether the call must be executed.
func (d *Durability[In, Out]) IsLive() bool {
	return d.live
}

// BeginIndex is the begin_remote_write index of the bracket this call opened
// or joined, or None.
func (d *Durability[In, Out]) BeginIndex() oplog.Index {
	if d.begin != oplog.None {
		return d.begin
	}
	return d.call.Batch
}

// Persist records a live outcome and returns what the worker should observe:
// business errors come back as *CallError, exactly as Replay returns them.
func (d *Durability[In, Out]) Persist(ctx context.Context, in In, out Out, err error) (Out, error) {
	if d.direct || !d.shouldPersist(out, err) {
		return out, err
	}
	var o outcome[Out]
	if err != nil {
		o.Err = AsCallError(err)
	} else {
		o.Value = out
	}
	if perr := d.persist(ctx, in, o); perr != nil {
		return o.Value, perr
	}
	return o.result()
}

// PersistInfallible records the outcome of a call that cannot fail.
func (d *Durability[In, Out]) PersistInfallible(ctx context.Context, in In, out Out) (Out, error) {
	if d.direct {
		return out, nil
	}
	if err := d.persist(ctx, in, outcome[Out]{Value: out}); err != nil {
		return out, err
	}
	return out, nil
}

// Replay returns the recorded outcome of this call.
func (d *Durability[In, Out]) Replay(ctx context.Context) (Out, error) {
	o, err := d.readRecorded(ctx)
	if err != nil {
		var zero Out
		return zero, err
	}
	return o.result()
}

// ReplayInfallible returns the recorded value of a call that cannot fail.
func (d *Durability[In, Out]) ReplayInfallible(ctx context.Context) (Out, error) {
	o, err := d.readRecorded(ctx)
	if err != nil {
		var zero Out
		return zero, err
	}
	if o.Err != nil {
		divergences.Inc()
		return o.Value, &DivergenceError{
			Index:    d.st.Replay.LastReplayed(),
			Expected: d.call.Name(),
			Reason:   "infallible call has a recorded error",
			Err:      o.Err,
		}
	}
	return o.Value, nil
}

func (o outcome[Out]) result() (Out, error) {
	if o.Err != nil {
		return o.Value, o.Err
	}
	return o.Value, nil
}

func (d *Durability[In, Out]) shouldPersist(out Out, err error) bool {
	if IsControlSignal(err) || IsFatal(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if d.call.ShouldPersist != nil {
		return d.call.ShouldPersist(out, err)
	}
	return true
}

func (d *Durability[In, Out]) opensBracket() bool {
	switch d.call.Type {
	case oplog.WriteRemote:
		return !d.st.AssumeIdempotence
	case oplog.WriteRemoteBatched:
		return d.call.Batch == oplog.None
	default:
		return false
	}
}

// closesBracket reports whether the bracket is closed by this call rather
// than by a later EndRemoteWrite.
func (d *Durability[In, Out]) closesBracket() bool {
	return d.begin != oplog.None && d.call.Type == oplog.WriteRemote
}

func (d *Durability[In, Out]) beginFunction(ctx context.Context) error {
	if !d.opensBracket() {
		return nil
	}
	if d.live {
		idx, err := d.st.add(ctx, oplog.NewBeginRemoteWrite())
		d.begin = idx
		return err
	}

	idx, _, err := expectNext[oplog.BeginRemoteWrite](d.st, "begin_remote_write for "+d.call.Name())
	if err != nil {
		divergences.Inc()
		return err
	}
	d.begin = idx
	if _, _, ok := d.st.Replay.FindForward(idx, endsRemoteWrite(idx)); ok {
		return nil
	}
	if !d.st.AssumeIdempotence {
		return Fatal(fmt.Errorf("%s at %d: %w", d.call.Name(), idx, ErrIncompleteRemoteWrite))
	}
	// The interrupted attempt is dropped and the write is repeated live.
	if err := d.st.discardFrom(ctx, idx); err != nil {
		return err
	}
	d.live = true
	return nil
}

func (d *Durability[In, Out]) persist(ctx context.Context, in In, o outcome[Out]) error {
	st := d.st
	req, err := st.Oplog.NewPayload(ctx, in)
	if err != nil {
		return Fatal(fmt.Errorf("%s request: %w", d.call.Name(), err))
	}
	resp, err := st.Oplog.NewPayload(ctx, o)
	if err != nil {
		return Fatal(fmt.Errorf("%s response: %w", d.call.Name(), err))
	}
	idx, err := st.add(ctx, oplog.NewHostCall(d.call.Name(), req, resp, d.call.Type))
	if err != nil {
		return err
	}
	if d.closesBracket() {
		if _, err := st.add(ctx, oplog.NewEndRemoteWrite(d.begin)); err != nil {
			return err
		}
	}
	persistedCalls.WithLabelValues(d.call.Name(), d.call.Type.String()).Inc()
	st.logger().Debug("host call persisted",
		"worker", st.WorkerID(),
		"index", idx,
		"function", d.call.Name(),
	)
	return nil
}

func (d *Durability[In, Out]) readRecorded(ctx context.Context) (outcome[Out], error) {
	var o outcome[Out]
	if d.direct {
		return o, fmt.Errorf("%s is not recorded at persistence level %s", d.call.Name(), d.st.Level)
	}
	st := d.st
	idx, hc, err := expectNext[oplog.HostCall](st, "host_call "+d.call.Name())
	if err != nil {
		divergences.Inc()
		return o, err
	}
	if hc.FunctionName != d.call.Name() {
		divergences.Inc()
		return o, &DivergenceError{Index: idx, Expected: d.call.Name(), Actual: hc.FunctionName}
	}
	o, err = oplog.DecodePayload[outcome[Out]](ctx, hc.Response, st.Oplog.Blobs())
	if err != nil {
		divergences.Inc()
		return o, &DivergenceError{
			Index:    idx,
			Expected: d.call.Name(),
			Reason:   "recorded response cannot be decoded",
			Err:      err,
		}
	}
	if d.closesBracket() {
		if err := expectEndRemoteWrite(st, d.begin); err != nil {
			return o, err
		}
	}
	replayedCalls.WithLabelValues(d.call.Name()).Inc()
	st.logger().Debug("host call replayed",
		"worker", st.WorkerID(),
		"index", idx,
		"function", d.call.Name(),
	)
	return o, nil
}

// EndRemoteWrite closes a WriteRemoteBatched bracket opened at begin.
func EndRemoteWrite(ctx context.Context, st *State, begin oplog.Index) error {
	if begin == oplog.None {
		return nil
	}
	if st.IsLive() {
		_, err := st.add(ctx, oplog.NewEndRemoteWrite(begin))
		return err
	}
	return expectEndRemoteWrite(st, begin)
}

func expectEndRemoteWrite(st *State, begin oplog.Index) error {
	want := fmt.Sprintf("end_remote_write for %d", begin)
	idx, end, err := expectNext[oplog.EndRemoteWrite](st, want)
	if err != nil {
		divergences.Inc()
		return err
	}
	if end.BeginIndex != begin {
		divergences.Inc()
		return &DivergenceError{
			Index:    idx,
			Expected: want,
			Actual:   fmt.Sprintf("end_remote_write for %d", end.BeginIndex),
		}
	}
	return nil
}

func endsRemoteWrite(begin oplog.Index) func(oplog.Entry) bool {
	return func(e oplog.Entry) bool {
		end, ok := e.(oplog.EndRemoteWrite)
		return ok && end.BeginIndex == begin
	}
}
