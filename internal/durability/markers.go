package durability

import (
	"context"
	"fmt"

	"github.com/roach88/durable/internal/oplog"
)

// BeginAtomicRegion opens a region whose host calls must either all be
// replayed or all be re-executed. A region that replay finds unfinished is
// discarded and the worker continues live from its start.
func BeginAtomicRegion(ctx context.Context, st *State) (oplog.Index, error) {
	if err := st.checkInterrupt(); err != nil {
		return oplog.None, err
	}
	if st.IsLive() {
		return st.add(ctx, oplog.NewBeginAtomicRegion())
	}
	idx, _, err := expectNext[oplog.BeginAtomicRegion](st, "begin_atomic_region")
	if err != nil {
		divergences.Inc()
		return oplog.None, err
	}
	_, _, closed := st.Replay.FindForward(idx, func(e oplog.Entry) bool {
		end, ok := e.(oplog.EndAtomicRegion)
		return ok && end.BeginIndex == idx
	})
	if !closed {
		if err := st.discardFrom(ctx, idx); err != nil {
			return oplog.None, err
		}
	}
	return idx, nil
}

// EndAtomicRegion closes the region opened at begin.
func EndAtomicRegion(ctx context.Context, st *State, begin oplog.Index) error {
	if st.IsLive() {
		_, err := st.add(ctx, oplog.NewEndAtomicRegion(begin))
		return err
	}
	want := fmt.Sprintf("end_atomic_region for %d", begin)
	idx, end, err := expectNext[oplog.EndAtomicRegion](st, want)
	if err != nil {
		divergences.Inc()
		return err
	}
	if end.BeginIndex != begin {
		divergences.Inc()
		return &DivergenceError{
			Index:    idx,
			Expected: want,
			Actual:   fmt.Sprintf("end_atomic_region for %d", end.BeginIndex),
		}
	}
	return nil
}

// CurrentIndex returns the index of a no_op entry written for the purpose,
// so that the answer is the same on replay.
func CurrentIndex(ctx context.Context, st *State) (oplog.Index, error) {
	if err := st.checkInterrupt(); err != nil {
		return oplog.None, err
	}
	if st.IsLive() {
		return st.add(ctx, oplog.NewNoOp())
	}
	idx, _, err := expectNext[oplog.NoOp](st, "no_op")
	if err != nil {
		divergences.Inc()
	}
	return idx, err
}

// JumpTo makes the worker continue from target as if nothing after it had
// happened. It persists the jump and returns the InterruptSignal that
// restarts the worker; the caller must propagate it.
func JumpTo(ctx context.Context, st *State, target oplog.Index) error {
	if !st.IsLive() {
		divergences.Inc()
		return &DivergenceError{
			Index:    st.Replay.LastReplayed(),
			Expected: "live execution",
			Reason:   "oplog index changed during replay",
		}
	}
	length := st.Oplog.Length()
	if target < oplog.Initial || target >= length {
		return fmt.Errorf("jump to %d: target must be in [%d, %d)", target, oplog.Initial, length)
	}
	if st.Replay.Regions().IsInDeletedRegion(target) {
		return fmt.Errorf("jump to %d: target lies in a deleted region", target)
	}
	j := oplog.Jump{Source: target, Target: length.Next()}
	if _, err := st.add(ctx, oplog.NewJump(j)); err != nil {
		return err
	}
	st.logger().Info("worker jumped", "worker", st.WorkerID(), "jump", j.String())
	return &InterruptSignal{Kind: InterruptJump}
}

// SetRetryPolicy replaces the worker's retry policy and records the change.
func SetRetryPolicy(ctx context.Context, st *State, p oplog.RetryPolicy) error {
	if p.MaxAttempts == 0 {
		return fmt.Errorf("retry policy: max attempts must be at least 1")
	}
	if st.IsLive() {
		if _, err := st.add(ctx, oplog.NewChangeRetryPolicy(p)); err != nil {
			return err
		}
		st.RetryPolicy = p
		return nil
	}
	_, change, err := expectNext[oplog.ChangeRetryPolicy](st, "change_retry_policy")
	if err != nil {
		divergences.Inc()
		return err
	}
	st.RetryPolicy = change.Policy
	return nil
}

// Log writes a log hint. Logs are only written live; replay skips hints, so
// a replayed worker does not log twice.
func Log(ctx context.Context, st *State, level oplog.LogLevel, logContext, message string) error {
	if !st.IsLive() || st.Level == PersistNothing {
		return nil
	}
	_, err := st.add(ctx, oplog.NewLog(level, logContext, message))
	return err
}
