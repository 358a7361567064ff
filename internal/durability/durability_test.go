package durability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/oplog"
)

func TestWrapLiveThenReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter

	st := h.start()
	require.True(t, st.IsLive())
	v, err := Wrap(ctx, st, call("now", oplog.ReadLocal), "req", c.returns(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, 1, c.n)
	assert.Equal(t, []oplog.Kind{oplog.KindCreate, oplog.KindHostCall}, h.kinds())

	st = h.start()
	require.False(t, st.IsLive())
	v, err = Wrap(ctx, st, call("now", oplog.ReadLocal), "req", mustNotRun(t))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.True(t, st.IsLive())
	assert.Len(t, h.kinds(), 2, "replay must not append")
}

func TestReplayedCallsAreCounted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter
	counted := call("counted", oplog.ReadLocal)

	_, err := Wrap(ctx, h.start(), counted, "", c.returns(1))
	require.NoError(t, err)

	before := testutil.ToFloat64(replayedCalls.WithLabelValues(counted.Name()))
	_, err = Wrap(ctx, h.start(), counted, "", mustNotRun(t))
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(replayedCalls.WithLabelValues(counted.Name())))
}

func TestReplayDivergesOnFunctionName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter

	_, err := Wrap(ctx, h.start(), call("now", oplog.ReadLocal), "", c.returns(1))
	require.NoError(t, err)

	_, err = Wrap(ctx, h.start(), call("random", oplog.ReadLocal), "", mustNotRun(t))
	require.Error(t, err)
	var de *DivergenceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, oplog.Index(2), de.Index)
	assert.Equal(t, "test.random", de.Expected)
	assert.Equal(t, "test.now", de.Actual)
	assert.True(t, IsFatal(err))
}

func TestReplayDivergesOnEntryKind(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := CurrentIndex(ctx, h.start())
	require.NoError(t, err)

	_, err = Wrap(ctx, h.start(), call("now", oplog.ReadLocal), "", mustNotRun(t))
	var de *DivergenceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, string(oplog.KindNoOp), de.Actual)
}

func TestBusinessErrorIsIdenticalOnReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter

	_, liveErr := Wrap(ctx, h.start(), call("fetch", oplog.ReadRemote), "", c.fails(errors.New("boom")))
	require.Error(t, liveErr)
	var ce *CallError
	require.ErrorAs(t, liveErr, &ce)

	_, replayErr := Wrap(ctx, h.start(), call("fetch", oplog.ReadRemote), "", mustNotRun(t))
	require.Error(t, replayErr)
	assert.Equal(t, liveErr, replayErr)
	assert.Equal(t, "boom", replayErr.Error())
	assert.False(t, IsFatal(replayErr))
}

func TestControlSignalsAreNotPersisted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	st := h.start()
	resumeAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := Wrap(ctx, st, call("sleep", oplog.ReadLocal), "", func(context.Context, string) (int64, error) {
		return 0, &SuspendSignal{ResumeAt: resumeAt}
	})
	sig, ok := AsSuspend(err)
	require.True(t, ok)
	assert.Equal(t, resumeAt, sig.ResumeAt)
	assert.Equal(t, []oplog.Kind{oplog.KindCreate}, h.kinds())
}

func TestInterruptCheckedBeforeCall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	st := h.start()
	st.Interrupts = func() error {
		return &InterruptSignal{Kind: InterruptSuspend}
	}

	_, err := Wrap(ctx, st, call("now", oplog.ReadLocal), "", mustNotRun(t))
	sig, ok := AsInterrupt(err)
	require.True(t, ok)
	assert.Equal(t, InterruptSuspend, sig.Kind)
	assert.True(t, IsControlSignal(err))
	assert.Len(t, h.kinds(), 1)
}

func TestShouldPersistPredicate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter
	skipErrors := call("maybe", oplog.ReadRemote)
	skipErrors.ShouldPersist = func(_ int64, err error) bool {
		return err == nil
	}

	_, err := Wrap(ctx, h.start(), skipErrors, "", c.fails(errors.New("transient glitch")))
	require.Error(t, err)
	assert.Len(t, h.kinds(), 1)

	_, err = Wrap(ctx, h.start(), skipErrors, "", c.returns(7))
	require.NoError(t, err)
	assert.Len(t, h.kinds(), 2)
}

func TestWrapInfallible(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	runs := 0
	exec := func(context.Context, string) int64 {
		runs++
		return 99
	}

	v, err := WrapInfallible(ctx, h.start(), call("uuid", oplog.ReadLocal), "", exec)
	require.NoError(t, err)
	assert.Equal(t, int64(99), v)

	v, err = WrapInfallible(ctx, h.start(), call("uuid", oplog.ReadLocal), "", exec)
	require.NoError(t, err)
	assert.Equal(t, int64(99), v)
	assert.Equal(t, 1, runs)
}

func TestWrapInfallibleRejectsRecordedError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter

	_, err := Wrap(ctx, h.start(), call("uuid", oplog.ReadLocal), "", c.fails(errors.New("no entropy")))
	require.Error(t, err)

	_, err = WrapInfallible(ctx, h.start(), call("uuid", oplog.ReadLocal), "", func(context.Context, string) int64 {
		t.Fatal("executed during replay")
		return 0
	})
	assert.True(t, IsDivergence(err))
}

func TestWrapConditionally(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter
	disabled := func(*State) bool { return false }

	for i := 0; i < 2; i++ {
		v, err := WrapConditionally(ctx, h.start(), call("env", oplog.ReadLocal), "", c.returns(5), disabled)
		require.NoError(t, err)
		assert.Equal(t, int64(5), v)
	}
	assert.Equal(t, 2, c.n)
	assert.Len(t, h.kinds(), 1)

	enabled := func(*State) bool { return true }
	_, err := WrapConditionally(ctx, h.start(), call("env", oplog.ReadLocal), "", c.returns(5), enabled)
	require.NoError(t, err)
	assert.Len(t, h.kinds(), 2)
}

func TestPersistNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter

	_, err := Wrap(ctx, h.start(), call("now", oplog.ReadLocal), "", c.returns(1))
	require.NoError(t, err)

	st := h.start()
	st.Level = PersistNothing
	assert.True(t, st.IsLive(), "persist-nothing forces live mode")
	v, err := Wrap(ctx, st, call("other", oplog.WriteRemote), "", c.returns(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, 2, c.n)
	assert.Len(t, h.kinds(), 2)
}

func TestPersistRemoteSideEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var local, remote counter

	run := func(st *State, remoteExec func(context.Context, string) (int64, error)) {
		st.Level = PersistRemoteSideEffects
		_, err := Wrap(ctx, st, call("now", oplog.ReadLocal), "", local.returns(1))
		require.NoError(t, err)
		v, err := Wrap(ctx, st, call("get", oplog.ReadRemote), "", remoteExec)
		require.NoError(t, err)
		assert.Equal(t, int64(10), v)
	}

	run(h.start(), remote.returns(10))
	run(h.start(), mustNotRun(t))

	assert.Equal(t, 2, local.n, "local calls run on every execution")
	assert.Equal(t, 1, remote.n)
	assert.Equal(t, []oplog.Kind{oplog.KindCreate, oplog.KindHostCall}, h.kinds())
}

func TestRetryTransientFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	attempts := 0

	v, err := Wrap(ctx, h.start(), call("flaky", oplog.ReadRemote), "", func(context.Context, string) (int64, error) {
		attempts++
		if attempts < 3 {
			return 0, Transient(errors.New("unavailable"))
		}
		return 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	assert.Equal(t, 3, attempts)
	assert.Len(t, h.kinds(), 2, "only the final outcome is recorded")
}

func TestRetryGivesUpAfterPolicy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter

	_, err := Wrap(ctx, h.start(), call("down", oplog.ReadRemote), "", c.fails(Transient(errors.New("unavailable"))))
	require.Error(t, err)
	assert.Equal(t, 3, c.n)
	assert.Equal(t, "unavailable", err.Error())
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter

	_, err := Wrap(ctx, h.start(), call("bad", oplog.ReadRemote), "", c.fails(errors.New("bad request")))
	require.Error(t, err)
	assert.Equal(t, 1, c.n)
	assert.Equal(t, "bad request", err.Error())
}

func TestNonIdempotentWriteIsNotRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter

	_, err := Wrap(ctx, h.start(), call("charge", oplog.WriteRemote), "", c.fails(Transient(errors.New("timeout"))))
	require.Error(t, err)
	assert.Equal(t, 1, c.n)

	idempotent := newHarness(t)
	var retried counter
	st := idempotent.start()
	st.AssumeIdempotence = true
	_, err = Wrap(ctx, st, call("charge", oplog.WriteRemote), "", retried.fails(Transient(errors.New("timeout"))))
	require.Error(t, err)
	assert.Equal(t, 3, retried.n)
	assert.Equal(t, []oplog.Kind{oplog.KindCreate, oplog.KindHostCall}, idempotent.kinds(), "no bracket when idempotence is assumed")
}

func TestRemoteWriteBracket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter

	_, err := Wrap(ctx, h.start(), call("charge", oplog.WriteRemote), "card", c.returns(1))
	require.NoError(t, err)
	assert.Equal(t, []oplog.Kind{
		oplog.KindCreate,
		oplog.KindBeginRemoteWrite,
		oplog.KindHostCall,
		oplog.KindEndRemoteWrite,
	}, h.kinds())

	st := h.start()
	v, err := Wrap(ctx, st, call("charge", oplog.WriteRemote), "card", mustNotRun(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.True(t, st.IsLive())
}

func TestIncompleteRemoteWriteIsFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	st := h.start()
	_, err := st.Oplog.Add(ctx, oplog.NewBeginRemoteWrite())
	require.NoError(t, err)

	_, err = Wrap(ctx, h.start(), call("charge", oplog.WriteRemote), "card", mustNotRun(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompleteRemoteWrite)
	assert.True(t, IsFatal(err))
}

func TestIncompleteBatchedWriteRunsAgain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var c counter
	batch := call("put", oplog.WriteRemoteBatched)

	// First attempt crashes before closing the bracket.
	st := h.start()
	st.AssumeIdempotence = true
	d, err := New(ctx, st, batch)
	require.NoError(t, err)
	begin := d.BeginIndex()
	assert.Equal(t, oplog.Index(2), begin)
	_, err = d.Persist(ctx, "k", 1, nil)
	require.NoError(t, err)

	// On restart the attempt is dropped and the write repeated live.
	st = h.start()
	st.AssumeIdempotence = true
	v, err := Wrap(ctx, st, batch, "k", c.returns(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, 1, c.n)
	require.NoError(t, EndRemoteWrite(ctx, st, begin))
	assert.Equal(t, []oplog.Kind{
		oplog.KindCreate,
		oplog.KindBeginRemoteWrite,
		oplog.KindHostCall,
		oplog.KindJump,
		oplog.KindHostCall,
		oplog.KindEndRemoteWrite,
	}, h.kinds())

	// A later replay sees only the second attempt.
	st = h.start()
	st.AssumeIdempotence = true
	v, err = Wrap(ctx, st, batch, "k", mustNotRun(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	require.NoError(t, EndRemoteWrite(ctx, st, begin))
	assert.True(t, st.IsLive())
}

func TestExternalPayloads(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, oplog.WithMaxInlinePayload(16))
	large := strings.Repeat("x", 64)
	exec := func(context.Context, string) (string, error) {
		return large, nil
	}
	echo := Call[string, string]{Interface: "test", Function: "echo", Type: oplog.ReadRemote}

	_, err := Wrap(ctx, h.start(), echo, large, exec)
	require.NoError(t, err)
	assert.Equal(t, 2, h.mem.BlobCount(), "request and response both go external")

	v, err := Wrap(ctx, h.start(), echo, large, func(context.Context, string) (string, error) {
		t.Fatal("executed during replay")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, large, v)
}

type corruptBlobs struct {
	oplog.BlobStorage
}

func (c corruptBlobs) Get(ctx context.Context, id oplog.PayloadID) ([]byte, error) {
	data, err := c.BlobStorage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return append(data, 0x00), nil
}

func TestCorruptExternalPayloadIsDivergence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, oplog.WithMaxInlinePayload(16))
	large := strings.Repeat("y", 64)
	echo := Call[string, string]{Interface: "test", Function: "echo", Type: oplog.ReadRemote}

	_, err := Wrap(ctx, h.start(), echo, "", func(context.Context, string) (string, error) {
		return large, nil
	})
	require.NoError(t, err)

	h.blobs = corruptBlobs{h.mem}
	_, err = Wrap(ctx, h.start(), echo, "", func(context.Context, string) (string, error) {
		t.Fatal("executed during replay")
		return "", nil
	})
	require.Error(t, err)
	assert.True(t, IsDivergence(err))
	assert.True(t, oplog.IsCorruptPayload(err))
}

func TestReplayPastEndOfOplog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	st := h.start()

	d, err := New(ctx, st, call("now", oplog.ReadLocal))
	require.NoError(t, err)
	require.True(t, d.IsLive())

	_, err = d.Replay(ctx)
	var de *DivergenceError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, oplog.ErrReplayFinished)
}
